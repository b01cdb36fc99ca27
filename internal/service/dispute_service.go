package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Политики решения по умолчанию, когда вторая сторона не ответила на спор.
const (
	DefaultPolicyDisputedAmount = "disputed_amount"
	DefaultPolicyFull           = "full"
)

// DisputePolicy — сроки и политика решения по умолчанию.
type DisputePolicy struct {
	AutoResolutionWindow time.Duration
	MediationWindow      time.Duration
	Default              string
}

// EvidenceStorage сохраняет файлы доказательств и определяет их тип.
type EvidenceStorage interface {
	Save(ctx context.Context, disputeID uuid.UUID, filename string, data []byte) (ref string, mimeType string, err error)
}

// Способы исполнения решения, различаются в аудите.
const (
	executionAgreed = "resolution_executed"
	executionForced = "resolution_forced"
	executionAuto   = "resolution_auto"
)

// DisputeService ведёт споры по заказам и исполняет решения.
type DisputeService struct {
	*engine
	policy   DisputePolicy
	evidence EvidenceStorage
}

func NewDisputeService(deps Deps, policy DisputePolicy, evidence EvidenceStorage) *DisputeService {
	if policy.Default == "" {
		policy.Default = DefaultPolicyDisputedAmount
	}
	return &DisputeService{engine: newEngine(deps), policy: policy, evidence: evidence}
}

// DisputeDetails — спор вместе с доказательствами, перепиской и действующим решением.
type DisputeDetails struct {
	Dispute    *entity.Dispute          `json:"dispute"`
	Evidence   []*entity.Evidence       `json:"evidence"`
	Messages   []*entity.DisputeMessage `json:"messages"`
	Resolution *entity.Resolution       `json:"resolution,omitempty"`
}

type OpenDisputeInput struct {
	Category       valueobject.DisputeCategory
	Reason         string
	DisputedAmount decimal.Decimal
	Priority       valueobject.DisputePriority
}

// OpenDispute открывает спор по заказу. Требование открывшей стороны сразу
// сохраняется как решение, с которым она согласна.
func (s *DisputeService) OpenDispute(ctx context.Context, actor Actor, orderID uuid.UUID, in OpenDisputeInput) (*entity.Dispute, error) {
	var result *entity.Dispute
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		party, ok := o.PartyOf(actor.UserID)
		if !ok {
			return apperror.New(apperror.ErrCodeForbidden, "открыть спор может только участник заказа")
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		now := s.now()
		if err := o.CheckDisputable(now); err != nil {
			return err
		}
		if _, err := s.store.Disputes().FindActiveByOrder(ctx, o.ID); err == nil {
			return apperror.PreconditionMsg("по заказу уже открыт спор")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("find active dispute: %w", err)
		}
		balance, err := orderBalance(ctx, s.store, o.ID)
		if err != nil {
			return err
		}
		if !balance.Equal(o.TotalAmount) {
			return apperror.Invariant(fmt.Sprintf("баланс заказа %s не совпадает с удержанной суммой %s", balance, o.TotalAmount))
		}

		d, err := entity.NewDispute(entity.NewDisputeParams{
			OrderID:        o.ID,
			OpenedBy:       party,
			OpenedByUserID: actor.UserID,
			Category:       in.Category,
			Reason:         in.Reason,
			DisputedAmount: in.DisputedAmount,
			Priority:       in.Priority,
		}, o.TotalAmount, s.policy.AutoResolutionWindow, now)
		if err != nil {
			return err
		}
		claim, err := entity.NewResolution(d.ID, s.defaultSplit(d, balance), o.TotalAmount,
			"Требование стороны, открывшей спор", party, now)
		if err != nil {
			return err
		}
		if _, err := claim.Agree(party, now); err != nil {
			return err
		}

		from := o.Status
		if err := o.OpenDispute(now); err != nil {
			return err
		}

		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Disputes().Create(ctx, d); err != nil {
				if errors.Is(err, repository.ErrAlreadyExists) {
					return apperror.PreconditionMsg("по заказу уже открыт спор")
				}
				return fmt.Errorf("create dispute: %w", err)
			}
			if err := tx.Disputes().SaveResolution(ctx, claim); err != nil {
				return fmt.Errorf("save resolution: %w", err)
			}
			if err := tx.Disputes().AddMessage(ctx, entity.SystemMessage(d.ID, "Спор открыт. Причина: "+d.Reason, now)); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			if err := emit(ctx, tx, events.TypeDisputeOpened, d.ID,
				events.DisputeOpened{DisputeID: d.ID, OrderID: o.ID, OpenedBy: party}, o.Participants(), now); err != nil {
				return err
			}
			if err := addAudit(ctx, tx, o.ID, actor, "dispute_opened", nil, map[string]string{
				"dispute_id":      d.ID.String(),
				"disputed_amount": d.DisputedAmount.StringFixed(valueobject.AmountScale),
			}, now); err != nil {
				return err
			}
			return recordTransitions(ctx, tx, actor, o, []valueobject.OrderStatus{from, o.Status}, now)
		})
		if err != nil {
			return err
		}
		logger.WithOrder(o.ID.String()).WithFields(logrus.Fields{"dispute_id": d.ID, "opened_by": party}).Info("открыт спор")
		result = d
		return nil
	})
	return result, err
}

// defaultSplit распределяет баланс в пользу открывшей стороны по настроенной политике.
// Комиссия платформы в таком решении не удерживается.
func (s *DisputeService) defaultSplit(d *entity.Dispute, balance decimal.Decimal) valueobject.Split {
	award := balance
	if s.policy.Default != DefaultPolicyFull {
		award = decimal.Min(d.DisputedAmount, balance)
	}
	rest := balance.Sub(award)
	if d.OpenedBy == valueobject.PartyClient {
		return valueobject.Split{Refund: award, Payment: rest, FeeWaived: decimal.Zero}
	}
	return valueobject.Split{Refund: rest, Payment: award, FeeWaived: decimal.Zero}
}

type RespondInput struct {
	Message          string
	AcceptResolution bool
}

// Respond — ответ второй стороны. С AcceptResolution сторона соглашается с требованием,
// и решение исполняется сразу.
func (s *DisputeService) Respond(ctx context.Context, actor Actor, disputeID uuid.UUID, in RespondInput) (*DisputeDetails, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		party, ok := o.PartyOf(actor.UserID)
		if !ok {
			return apperror.New(apperror.ErrCodeForbidden, "ответить на спор может только вторая сторона")
		}
		if err := d.CanRespond(party); err != nil {
			return err
		}
		now := s.now()

		if in.AcceptResolution {
			res, err := loadResolution(ctx, s.store, d.ID)
			if err == nil {
				if in.Message != "" {
					if err := s.postMessage(ctx, d.ID, actor, party, in.Message, now); err != nil {
						return err
					}
				}
				return s.agreeLocked(ctx, actor, party, o, d, res)
			}
			if !apperror.IsNotFound(err) {
				return err
			}
		}

		if err := requireSettled(o); err != nil {
			return err
		}
		msg, err := entity.NewDisputeMessage(d.ID, &actor.UserID, party, in.Message, false, now)
		if err != nil {
			return err
		}
		d.Respond(now)
		return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Disputes().Update(ctx, d); err != nil {
				return err
			}
			if err := tx.Disputes().AddMessage(ctx, msg); err != nil {
				return err
			}
			return addAudit(ctx, tx, o.ID, actor, "dispute_responded",
				map[string]string{"status": string(valueobject.DisputeStatusOpen)},
				map[string]string{"status": string(d.Status)}, now)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, disputeID)
}

type EvidenceInput struct {
	Type        valueobject.EvidenceType
	Title       string
	Description string
	FileName    string
	File        []byte
}

// SubmitEvidence добавляет доказательство к активному спору. Файл, если есть, сохраняется в хранилище.
func (s *DisputeService) SubmitEvidence(ctx context.Context, actor Actor, disputeID uuid.UUID, in EvidenceInput) (*entity.Evidence, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.Evidence
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		party, err := partyOf(o, actor)
		if err != nil {
			return err
		}
		if err := d.CanAcceptSubmissions(); err != nil {
			return err
		}
		now := s.now()
		ev, err := entity.NewEvidence(d.ID, actor.UserID, party, in.Type, in.Title, in.Description, now)
		if err != nil {
			return err
		}
		if len(in.File) > 0 {
			if s.evidence == nil {
				return apperror.New(apperror.ErrCodeBadRequest, "загрузка файлов не настроена")
			}
			ref, mimeType, err := s.evidence.Save(ctx, d.ID, in.FileName, in.File)
			if err != nil {
				return err
			}
			ev.FileRef = &ref
			ev.MimeType = &mimeType
		}
		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return tx.Disputes().AddEvidence(ctx, ev)
		})
		if err != nil {
			return err
		}
		result = ev
		return nil
	})
	return result, err
}

// SendMessage добавляет сообщение в переписку по активному спору.
// Внутренние заметки может оставлять только медиатор.
func (s *DisputeService) SendMessage(ctx context.Context, actor Actor, disputeID uuid.UUID, body string, internal bool) (*entity.DisputeMessage, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.DisputeMessage
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		party, err := partyOf(o, actor)
		if err != nil {
			return err
		}
		if err := d.CanAcceptSubmissions(); err != nil {
			return err
		}
		msg, err := entity.NewDisputeMessage(d.ID, &actor.UserID, party, body, internal, s.now())
		if err != nil {
			return err
		}
		if err := s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return tx.Disputes().AddMessage(ctx, msg)
		}); err != nil {
			return err
		}
		result = msg
		return nil
	})
	return result, err
}

type ProposeInput struct {
	RefundAmount      decimal.Decimal
	FreelancerPayment decimal.Decimal
	PlatformFeeWaived decimal.Decimal
	Reasoning         string
}

// ProposeResolution — предложение медиатора. Заменяет прежнее решение,
// согласия сторон сбрасываются, спор переходит в медиацию.
func (s *DisputeService) ProposeResolution(ctx context.Context, actor Actor, disputeID uuid.UUID, in ProposeInput) (*entity.Resolution, error) {
	if !actor.IsStaff() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "предложить решение может только медиатор")
	}
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.Resolution
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		if err := d.CanPropose(); err != nil {
			return err
		}
		now := s.now()
		split := valueobject.Split{Refund: in.RefundAmount, Payment: in.FreelancerPayment, FeeWaived: in.PlatformFeeWaived}
		res, err := entity.NewResolution(d.ID, split, o.TotalAmount, in.Reasoning, valueobject.PartyMediator, now)
		if err != nil {
			return err
		}
		balance, err := orderBalance(ctx, s.store, o.ID)
		if err != nil {
			return err
		}
		if requested := split.Payment.Add(split.ClientReturn()); requested.GreaterThan(balance) {
			return apperror.Invariant(fmt.Sprintf("решение требует %s, а удерживается %s", requested, balance))
		}

		from := d.Status
		d.StartMediation(s.policy.MediationWindow, now)
		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Disputes().Update(ctx, d); err != nil {
				return err
			}
			if err := tx.Disputes().SaveResolution(ctx, res); err != nil {
				return fmt.Errorf("save resolution: %w", err)
			}
			if err := tx.Disputes().AddMessage(ctx, entity.SystemMessage(d.ID, "Медиатор предложил решение, требуется согласие обеих сторон", now)); err != nil {
				return err
			}
			if err := emit(ctx, tx, events.TypeResolutionProposed, d.ID,
				events.ResolutionProposed{DisputeID: d.ID, Outcome: res.Outcome}, o.Participants(), now); err != nil {
				return err
			}
			return addAudit(ctx, tx, o.ID, actor, "resolution_proposed",
				map[string]string{"status": string(from)}, map[string]any{"status": d.Status, "split": split}, now)
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// Agree фиксирует согласие стороны. Когда согласны обе, решение исполняется.
// Повторный вызов после исполнения ничего не меняет.
func (s *DisputeService) Agree(ctx context.Context, actor Actor, disputeID uuid.UUID) (*entity.Resolution, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.Resolution
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		party, ok := o.PartyOf(actor.UserID)
		if !ok {
			return apperror.New(apperror.ErrCodeForbidden, "согласиться с решением может только участник заказа")
		}
		res, err := loadResolution(ctx, s.store, d.ID)
		if err != nil {
			return err
		}
		if res.Executed {
			result = res
			return nil
		}
		if err := s.agreeLocked(ctx, actor, party, o, d, res); err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// agreeLocked сохраняет согласие отдельно от исполнения, чтобы сбой провайдера его не отменил.
func (s *DisputeService) agreeLocked(ctx context.Context, actor Actor, party valueobject.Party, o *entity.Order, d *entity.Dispute, res *entity.Resolution) error {
	if err := d.CanAcceptSubmissions(); err != nil {
		return err
	}
	now := s.now()
	changed, err := res.Agree(party, now)
	if err != nil {
		return err
	}
	if changed {
		err := s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Disputes().SaveResolution(ctx, res); err != nil {
				return err
			}
			return addAudit(ctx, tx, o.ID, actor, "resolution_agreed", nil, map[string]string{
				"party":         string(party),
				"resolution_id": res.ID.String(),
			}, now)
		})
		if err != nil {
			return err
		}
	}
	if !res.FullyAgreed() {
		return nil
	}
	return s.execute(ctx, actor, o, d, res, executionAgreed, "Решение принято обеими сторонами")
}

// ForceExecute — административное исполнение последнего решения без согласия сторон.
func (s *DisputeService) ForceExecute(ctx context.Context, actor Actor, disputeID uuid.UUID, notes string) (*entity.Resolution, error) {
	if actor.Role != RoleAdmin {
		return nil, apperror.New(apperror.ErrCodeForbidden, "принудительно исполнить решение может только администратор")
	}
	if notes == "" {
		notes = "Решение исполнено администратором"
	}
	return s.forceByID(ctx, actor, disputeID, executionForced, notes, nil)
}

// CancelDispute — открывшая сторона отзывает спор, заказ возвращается в статус до спора.
func (s *DisputeService) CancelDispute(ctx context.Context, actor Actor, disputeID uuid.UUID) (*entity.Dispute, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.Dispute
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		if d.OpenedByUserID != actor.UserID {
			return apperror.New(apperror.ErrCodeForbidden, "отозвать спор может только открывшая его сторона")
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		balance, err := orderBalance(ctx, s.store, o.ID)
		if err != nil {
			return err
		}
		if !balance.Equal(o.TotalAmount) {
			return apperror.PreconditionMsg("по спору уже проведены выплаты, отозвать его нельзя")
		}
		now := s.now()
		if err := d.Cancel(now); err != nil {
			return err
		}
		from := o.Status
		if err := o.RestoreAfterDispute(now); err != nil {
			return err
		}
		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Disputes().Update(ctx, d); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			if err := tx.Disputes().AddMessage(ctx, entity.SystemMessage(d.ID, "Спор отозван открывшей стороной", now)); err != nil {
				return err
			}
			if err := emit(ctx, tx, events.TypeDisputeCancelled, d.ID,
				events.DisputeCancelled{DisputeID: d.ID, OrderID: o.ID}, o.Participants(), now); err != nil {
				return err
			}
			if err := addAudit(ctx, tx, o.ID, actor, "dispute_cancelled", nil, map[string]string{"dispute_id": d.ID.String()}, now); err != nil {
				return err
			}
			return recordTransitions(ctx, tx, actor, o, []valueobject.OrderStatus{from, o.Status}, now)
		})
		if err != nil {
			return err
		}
		result = d
		return nil
	})
	return result, err
}

// AutoResolveExpired исполняет решение по умолчанию для открытых споров,
// на которые вторая сторона не ответила в срок.
func (s *DisputeService) AutoResolveExpired(ctx context.Context, limit int) (int, error) {
	due, err := s.store.Disputes().ListAutoResolutionDue(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list auto resolution due: %w", err)
	}
	return s.forceEach(ctx, due, executionAuto, "Вторая сторона не ответила в срок, применено решение по умолчанию",
		func(d *entity.Dispute, now time.Time) bool { return d.AutoResolutionDue(now) })
}

// ForceExpiredMediations исполняет последнее предложение медиатора по истечении срока медиации.
func (s *DisputeService) ForceExpiredMediations(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.Disputes().ListMediationExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired mediations: %w", err)
	}
	return s.forceEach(ctx, expired, executionForced, "Срок медиации истёк, решение исполнено принудительно",
		func(d *entity.Dispute, now time.Time) bool { return d.MediationExpired(now) })
}

func (s *DisputeService) forceEach(ctx context.Context, disputes []*entity.Dispute, mode, notes string, still func(d *entity.Dispute, now time.Time) bool) (int, error) {
	var (
		executed int
		errs     []error
	)
	for _, d := range disputes {
		res, err := s.forceByID(ctx, SystemActor, d.ID, mode, notes, still)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s dispute %s: %w", mode, d.ID, err))
		case res != nil && res.Executed:
			executed++
		}
	}
	return executed, errors.Join(errs...)
}

// forceByID исполняет решение без согласия сторон. still перепроверяет условие
// срабатывания под блокировкой; спор, изменившийся с момента выборки, пропускается.
func (s *DisputeService) forceByID(ctx context.Context, actor Actor, disputeID uuid.UUID, mode, notes string, still func(d *entity.Dispute, now time.Time) bool) (*entity.Resolution, error) {
	orderID, err := s.orderOf(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	var result *entity.Resolution
	err = s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, d, err := s.load(ctx, orderID, disputeID)
		if err != nil {
			return err
		}
		if still != nil && !still(d, s.now()) {
			return nil
		}
		res, err := loadResolution(ctx, s.store, d.ID)
		switch {
		case err == nil:
		case apperror.IsNotFound(err) && mode == executionAuto:
			balance, err := orderBalance(ctx, s.store, o.ID)
			if err != nil {
				return err
			}
			if res, err = entity.NewResolution(d.ID, s.defaultSplit(d, balance), o.TotalAmount,
				"Решение по умолчанию", valueobject.PartySystem, s.now()); err != nil {
				return err
			}
			// Решение сохраняется до вызова провайдера, чтобы сверка доисполнила ту же раскладку.
			if err := s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
				return tx.Disputes().SaveResolution(ctx, res)
			}); err != nil {
				return err
			}
		default:
			return err
		}
		result = res
		if res.Executed {
			return nil
		}
		if err := d.CanAcceptSubmissions(); err != nil {
			return err
		}
		return s.execute(ctx, actor, o, d, res, mode, notes)
	})
	return result, err
}

// execute исполняет решение у провайдера и закрывает спор и заказ.
// Выплата исполнителю фиксируется в журнале сразу после ответа провайдера, поэтому
// повторное исполнение после сбоя возврата не выплачивает её второй раз.
func (s *DisputeService) execute(ctx context.Context, actor Actor, o *entity.Order, d *entity.Dispute, res *entity.Resolution, mode, notes string) error {
	if err := requireSettled(o); err != nil {
		return err
	}
	split := res.Split()
	if err := o.CheckSettleable(split); err != nil {
		return err
	}

	purpose := ledger.PurposeDispute(d.ID)
	payKey := ledger.IdempotencyKey(o.ID, ledger.KindCapture, purpose)
	refundKey := ledger.IdempotencyKey(o.ID, ledger.KindRefund, purpose)
	paid, err := s.recorded(ctx, payKey)
	if err != nil {
		return err
	}
	refunded, err := s.recorded(ctx, refundKey)
	if err != nil {
		return err
	}
	needPay := split.Payment.IsPositive() && !paid
	needRefund := split.ClientReturn().IsPositive() && !refunded

	balance, err := orderBalance(ctx, s.store, o.ID)
	if err != nil {
		return err
	}
	required := decimal.Zero
	if needPay {
		required = required.Add(split.Payment)
	}
	if needRefund {
		required = required.Add(split.ClientReturn())
	}
	if required.GreaterThan(balance) {
		return apperror.Invariant(fmt.Sprintf("решение требует %s, а удерживается %s", required, balance))
	}

	if needPay {
		captureRef, key, err := s.callLedger(ctx, o, ledger.KindCapture, purpose, split.Payment)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypePayout, split.Payment, captureRef, key, now)
		}); err != nil {
			return err
		}
	}
	var refundRef string
	if needRefund {
		if refundRef, _, err = s.callLedger(ctx, o, ledger.KindRefund, purpose, split.ClientReturn()); err != nil {
			return err
		}
	}

	now := s.now()
	from := o.Status
	if err := o.SettleDispute(split, now); err != nil {
		return err
	}
	if err := d.Resolve(notes, now); err != nil {
		return err
	}
	forced := mode != executionAgreed
	if err := res.MarkExecuted(forced, now); err != nil {
		return err
	}

	err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		if needRefund {
			if err := appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypeRefund, split.ClientReturn(), refundRef, refundKey, now); err != nil {
				return err
			}
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		if err := tx.Disputes().SaveResolution(ctx, res); err != nil {
			return err
		}
		if err := tx.Disputes().AddMessage(ctx, entity.SystemMessage(d.ID, notes, now)); err != nil {
			return err
		}
		if err := emit(ctx, tx, events.TypeResolutionExecuted, d.ID, events.ResolutionExecuted{
			DisputeID: d.ID,
			OrderID:   o.ID,
			Outcome:   res.Outcome,
			Forced:    forced,
		}, o.Participants(), now); err != nil {
			return err
		}
		if err := addAudit(ctx, tx, o.ID, actor, mode, nil, map[string]any{
			"dispute_id":    d.ID,
			"resolution_id": res.ID,
			"outcome":       res.Outcome,
			"split":         split,
		}, now); err != nil {
			return err
		}
		return recordTransitions(ctx, tx, actor, o, []valueobject.OrderStatus{from, o.Status}, now)
	})
	if err != nil {
		return err
	}

	log := logger.WithOrder(o.ID.String()).WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"outcome":    res.Outcome,
		"audit":      mode,
	})
	if forced {
		log.Warn("решение по спору исполнено без согласия сторон")
	} else {
		log.Info("решение по спору исполнено")
	}
	return nil
}

// ReplaySettlement доисполняет решение, операция которого подтвердилась при сверке с провайдером.
// Уже проведённая часть решения пропускается по ключу идемпотентности в журнале.
func (s *DisputeService) ReplaySettlement(ctx context.Context, actor Actor, o *entity.Order, key string) (bool, error) {
	d, err := s.store.Disputes().FindLatestByOrder(ctx, o.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find dispute by order: %w", err)
	}
	purpose := ledger.PurposeDispute(d.ID)
	if key != ledger.IdempotencyKey(o.ID, ledger.KindCapture, purpose) && key != ledger.IdempotencyKey(o.ID, ledger.KindRefund, purpose) {
		return false, nil
	}
	res, err := loadResolution(ctx, s.store, d.ID)
	if err != nil {
		return true, err
	}
	if res.Executed {
		return true, s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return tx.Orders().Update(ctx, o)
		})
	}

	mode := executionForced
	switch {
	case res.FullyAgreed():
		mode = executionAgreed
	case d.Status == valueobject.DisputeStatusOpen:
		mode = executionAuto
	}
	return true, s.execute(ctx, actor, o, d, res, mode, "Решение исполнено после сверки с провайдером")
}

func (s *DisputeService) recorded(ctx context.Context, key string) (bool, error) {
	_, err := s.store.Transactions().FindByIdempotencyKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find transaction by key: %w", err)
	}
	return true, nil
}

// Get возвращает спор с доказательствами и перепиской. Внутренние заметки видны только медиаторам.
func (s *DisputeService) Get(ctx context.Context, actor Actor, disputeID uuid.UUID) (*DisputeDetails, error) {
	d, err := loadDispute(ctx, s.store, disputeID)
	if err != nil {
		return nil, err
	}
	o, err := loadOrder(ctx, s.store, d.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(o, actor); err != nil {
		return nil, err
	}
	return s.details(ctx, actor, d)
}

// GetByOrder возвращает последний спор по заказу.
func (s *DisputeService) GetByOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*DisputeDetails, error) {
	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(o, actor); err != nil {
		return nil, err
	}
	d, err := s.store.Disputes().FindLatestByOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find dispute by order: %w", err)
	}
	return s.details(ctx, actor, d)
}

// List — медиаторы видят все споры, участники только свои.
func (s *DisputeService) List(ctx context.Context, actor Actor, filter repository.DisputeFilter) ([]*entity.Dispute, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if actor.IsStaff() {
		return s.store.Disputes().List(ctx, filter)
	}
	return s.store.Disputes().ListByParticipant(ctx, actor.UserID, filter)
}

func (s *DisputeService) details(ctx context.Context, actor Actor, d *entity.Dispute) (*DisputeDetails, error) {
	evidence, err := s.store.Disputes().ListEvidence(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	messages, err := s.store.Disputes().ListMessages(ctx, d.ID, actor.IsStaff())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := &DisputeDetails{Dispute: d, Evidence: evidence, Messages: messages}
	res, err := loadResolution(ctx, s.store, d.ID)
	switch {
	case err == nil:
		out.Resolution = res
	case !apperror.IsNotFound(err):
		return nil, err
	}
	return out, nil
}

func (s *DisputeService) orderOf(ctx context.Context, disputeID uuid.UUID) (uuid.UUID, error) {
	d, err := loadDispute(ctx, s.store, disputeID)
	if err != nil {
		return uuid.Nil, err
	}
	return d.OrderID, nil
}

// load перечитывает заказ и спор под блокировкой.
func (s *DisputeService) load(ctx context.Context, orderID, disputeID uuid.UUID) (*entity.Order, *entity.Dispute, error) {
	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return nil, nil, err
	}
	d, err := loadDispute(ctx, s.store, disputeID)
	if err != nil {
		return nil, nil, err
	}
	return o, d, nil
}

func (s *DisputeService) postMessage(ctx context.Context, disputeID uuid.UUID, actor Actor, party valueobject.Party, body string, now time.Time) error {
	msg, err := entity.NewDisputeMessage(disputeID, &actor.UserID, party, body, false, now)
	if err != nil {
		return err
	}
	return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		return tx.Disputes().AddMessage(ctx, msg)
	})
}

// partyOf — сторона заказа либо медиатор для сотрудников платформы.
func partyOf(o *entity.Order, actor Actor) (valueobject.Party, error) {
	if party, ok := o.PartyOf(actor.UserID); ok {
		return party, nil
	}
	if actor.IsStaff() {
		return valueobject.PartyMediator, nil
	}
	return "", apperror.ErrForbidden
}
