package service

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

func TestDisputeService_OpenDispute(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	assert.Equal(t, valueobject.OrderStatusDisputed, o.Status)
	require.NotNil(t, o.StatusBeforeDispute)
	assert.Equal(t, valueobject.OrderStatusSubmitted, *o.StatusBeforeDispute)
	assert.Equal(t, valueobject.DisputeStatusOpen, d.Status)
	assert.Equal(t, h.clock.Now().Add(72*time.Hour), d.AutoResolutionDeadline)

	details, err := h.disputes.Get(h.ctx, h.freelancer, d.ID)
	require.NoError(t, err)
	require.NotNil(t, details.Resolution)
	assert.True(t, details.Resolution.AgreedByClient)
	assert.False(t, details.Resolution.AgreedByFreelancer)
	assertMoney(t, "400", details.Resolution.RefundAmount)
	assertMoney(t, "600", details.Resolution.FreelancerPayment)
	require.Len(t, details.Messages, 1)
	assert.Equal(t, valueobject.PartySystem, details.Messages[0].Party)

	opened := h.eventsOfType(t, events.TypeDisputeOpened)
	require.Len(t, opened, 1)
	payload := decodePayload[events.DisputeOpened](t, opened[0])
	assert.Equal(t, d.ID, payload.DisputeID)
	assert.Equal(t, o.ID, payload.OrderID)
}

func TestDisputeService_OnlyOneActiveDispute(t *testing.T) {
	h := newHarness(t)
	o, _ := h.disputedOrder(t)

	_, err := h.disputes.OpenDispute(h.ctx, h.freelancer, o.ID, OpenDisputeInput{
		Category:       valueobject.DisputeCategoryPayment,
		Reason:         "встречный спор",
		DisputedAmount: money("100"),
	})
	assert.True(t, apperror.IsPrecondition(err))

	active, err := h.disputes.List(h.ctx, h.mediator, repository.DisputeFilter{Status: valueobject.DisputeStatusOpen})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDisputeService_InProgressOnlyAfterDeadline(t *testing.T) {
	h := newHarness(t)
	o := h.inProgressOrder(t)
	in := OpenDisputeInput{Category: valueobject.DisputeCategoryNotDelivered, Reason: "Работы нет", DisputedAmount: money("1000")}

	_, err := h.disputes.OpenDispute(h.ctx, h.client, o.ID, in)
	assert.True(t, apperror.IsPrecondition(err))

	h.clock.Advance(5*24*time.Hour + time.Minute)
	d, err := h.disputes.OpenDispute(h.ctx, h.client, o.ID, in)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusOpen, d.Status)
}

func TestDisputeService_OpenByOutsiderForbidden(t *testing.T) {
	h := newHarness(t)
	o := h.submittedOrder(t)

	_, err := h.disputes.OpenDispute(h.ctx, h.mediator, o.ID, OpenDisputeInput{
		Category: valueobject.DisputeCategoryOther, Reason: "x", DisputedAmount: money("1"),
	})
	assert.True(t, apperror.IsForbidden(err))
}

// Вторая сторона молчит: планировщик применяет решение в пользу открывшей стороны.
func TestDisputeService_AutoResolutionFavorsDisputant(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	n, err := h.disputes.AutoResolveExpired(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(72*time.Hour + time.Second)
	n, err = h.disputes.AutoResolveExpired(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	details, err := h.disputes.Get(h.ctx, h.mediator, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolved, details.Dispute.Status)
	res := details.Resolution
	require.NotNil(t, res)
	assertMoney(t, "400", res.RefundAmount)
	assertMoney(t, "600", res.FreelancerPayment)
	assertMoney(t, "0", res.PlatformFeeWaived)
	assert.True(t, res.Executed)
	assert.True(t, res.Forced)

	executed := h.eventsOfType(t, events.TypeResolutionExecuted)
	require.Len(t, executed, 1)
	payload := decodePayload[events.ResolutionExecuted](t, executed[0])
	assert.True(t, payload.Forced)
	assert.Equal(t, valueobject.OutcomePartial, payload.Outcome)

	settled := h.reload(t, o.ID)
	assert.Equal(t, valueobject.OrderStatusDisputeResolved, settled.Status)
	assert.Equal(t, valueobject.EscrowStatusReleased, settled.EscrowStatus)
	assertMoney(t, "0", h.balance(t, o.ID))
	assert.Contains(t, h.auditActions(t, o.ID), "resolution_auto")

	n, err = h.disputes.AutoResolveExpired(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisputeService_FullPolicyAwardsWholeBalance(t *testing.T) {
	h := newHarness(t)
	h.disputes.policy.Default = DefaultPolicyFull
	o, d := h.disputedOrder(t)

	h.clock.Advance(73 * time.Hour)
	_, err := h.disputes.AutoResolveExpired(h.ctx, 10)
	require.NoError(t, err)

	details, err := h.disputes.Get(h.ctx, h.client, d.ID)
	require.NoError(t, err)
	assertMoney(t, "1000", details.Resolution.RefundAmount)
	assert.Equal(t, valueobject.OutcomeFullRefund, details.Resolution.Outcome)
	settled := h.reload(t, o.ID)
	assert.Equal(t, valueobject.OrderStatusRefunded, settled.Status)
	assert.Equal(t, valueobject.EscrowStatusRefunded, settled.EscrowStatus)
	assert.Zero(t, h.sandbox.Calls(ledger.KindCapture))
}

// Решение медиатора исполняется только после согласия обеих сторон.
func TestDisputeService_MediatorProposalNeedsBothAgreements(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Всё сделано по ТЗ"})
	require.NoError(t, err)

	res, err := h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount:      money("500"),
		FreelancerPayment: money("400"),
		PlatformFeeWaived: money("100"),
		Reasoning:         "Работа сдана частично",
	})
	require.NoError(t, err)
	assert.False(t, res.AgreedByClient)
	assert.False(t, res.AgreedByFreelancer)

	res, err = h.disputes.Agree(h.ctx, h.client, d.ID)
	require.NoError(t, err)
	assert.True(t, res.AgreedByClient)
	assert.False(t, res.Executed)
	assert.Zero(t, h.sandbox.Calls(ledger.KindCapture))

	res, err = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.False(t, res.Forced)
	require.NotNil(t, res.ExecutedAt)
	executedAt := *res.ExecutedAt

	txs := h.transactions(t, o.ID)
	assert.Equal(t, []valueobject.TransactionType{
		valueobject.TransactionTypePayment, valueobject.TransactionTypePayout, valueobject.TransactionTypeRefund,
	}, txTypes(txs))
	assertMoney(t, "400", txs[1].Amount)
	assertMoney(t, "600", txs[2].Amount)
	assert.Equal(t, 1, h.sandbox.Calls(ledger.KindCapture))
	assert.Equal(t, 1, h.sandbox.Calls(ledger.KindRefund))
	assertMoney(t, "0", h.balance(t, o.ID))
	assert.Equal(t, valueobject.OrderStatusDisputeResolved, h.reload(t, o.ID).Status)

	// Повторное согласие после исполнения ничего не меняет.
	h.clock.Advance(time.Hour)
	again, err := h.disputes.Agree(h.ctx, h.client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, executedAt, *again.ExecutedAt)
	assert.Len(t, h.transactions(t, o.ID), 3)
	assert.Equal(t, 1, h.sandbox.Calls(ledger.KindCapture))
}

func TestDisputeService_RespondAcceptingClaimExecutesIt(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	details, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Согласен", AcceptResolution: true})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolved, details.Dispute.Status)
	require.NotNil(t, details.Resolution)
	assert.True(t, details.Resolution.Executed)
	assert.False(t, details.Resolution.Forced)
	assertMoney(t, "0", h.balance(t, o.ID))
}

func TestDisputeService_RespondOnlyByOtherParty(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)

	_, err := h.disputes.Respond(h.ctx, h.client, d.ID, RespondInput{Message: "сам себе"})
	assert.True(t, apperror.IsForbidden(err))

	_, err = h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Ответ"})
	require.NoError(t, err)
	_, err = h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Ещё ответ"})
	assert.True(t, apperror.IsPrecondition(err))
}

func TestDisputeService_ProposalMustCoverTotal(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
	require.NoError(t, err)

	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount:      money("500"),
		FreelancerPayment: money("400"),
		PlatformFeeWaived: decimal.Zero,
	})
	assert.Equal(t, apperror.ErrCodeInvariant, apperror.CodeOf(err))

	details, err := h.disputes.Get(h.ctx, h.mediator, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusInReview, details.Dispute.Status)
	assert.Equal(t, valueobject.PartyClient, details.Resolution.ProposedBy)

	_, err = h.disputes.ProposeResolution(h.ctx, h.client, d.ID, ProposeInput{RefundAmount: money("1000")})
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_ProposalOnOpenDisputeIsPrecondition(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)

	_, err := h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount: money("1000"), FreelancerPayment: decimal.Zero, PlatformFeeWaived: decimal.Zero,
	})
	assert.True(t, apperror.IsPrecondition(err))
}

func TestDisputeService_NewProposalResetsAgreements(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
	require.NoError(t, err)

	first := ProposeInput{RefundAmount: money("300"), FreelancerPayment: money("700"), PlatformFeeWaived: decimal.Zero}
	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, first)
	require.NoError(t, err)
	res, err := h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	require.NoError(t, err)
	assert.True(t, res.AgreedByFreelancer)

	second := ProposeInput{RefundAmount: money("350"), FreelancerPayment: money("650"), PlatformFeeWaived: decimal.Zero}
	res, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, second)
	require.NoError(t, err)
	assert.False(t, res.AgreedByClient)
	assert.False(t, res.AgreedByFreelancer)
	assertMoney(t, "350", res.RefundAmount)
}

func TestDisputeService_MediationTimeoutForcesLastProposal(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
	require.NoError(t, err)
	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount: decimal.Zero, FreelancerPayment: money("1000"), PlatformFeeWaived: decimal.Zero,
	})
	require.NoError(t, err)
	_, err = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	require.NoError(t, err)

	h.clock.Advance(119 * time.Hour)
	n, err := h.disputes.ForceExpiredMediations(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.disputes.ForceExpiredMediations(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	settled := h.reload(t, o.ID)
	assert.Equal(t, valueobject.OrderStatusCompleted, settled.Status)
	assert.Equal(t, valueobject.EscrowStatusReleased, settled.EscrowStatus)
	assert.Zero(t, h.sandbox.Calls(ledger.KindRefund))
	assert.Contains(t, h.auditActions(t, o.ID), "resolution_forced")
	assertMoney(t, "0", h.balance(t, o.ID))
}

func TestDisputeService_ForceExecuteOnlyByAdmin(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	_, err := h.disputes.ForceExecute(h.ctx, h.mediator, d.ID, "")
	assert.True(t, apperror.IsForbidden(err))

	res, err := h.disputes.ForceExecute(h.ctx, h.admin, d.ID, "Спор решён по переписке")
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.True(t, res.Forced)
	assert.Contains(t, h.auditActions(t, o.ID), "resolution_forced")

	again, err := h.disputes.ForceExecute(h.ctx, h.admin, d.ID, "")
	require.NoError(t, err)
	assert.Equal(t, res.ExecutedAt, again.ExecutedAt)
}

// Сбой возврата после выплаты: повтор не выплачивает исполнителю второй раз.
func TestDisputeService_RetryAfterRefundFailureDoesNotPayTwice(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
	require.NoError(t, err)
	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount: money("500"), FreelancerPayment: money("400"), PlatformFeeWaived: money("100"),
	})
	require.NoError(t, err)
	_, err = h.disputes.Agree(h.ctx, h.client, d.ID)
	require.NoError(t, err)

	h.sandbox.FailNext(ledger.KindRefund, ledger.FailUnavailable)
	_, err = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	assert.Equal(t, apperror.ErrCodeLedgerUnavailable, apperror.CodeOf(err))

	details, err := h.disputes.Get(h.ctx, h.mediator, d.ID)
	require.NoError(t, err)
	assert.True(t, details.Resolution.AgreedByFreelancer)
	assert.False(t, details.Resolution.Executed)
	assert.Equal(t, valueobject.OrderStatusDisputed, h.reload(t, o.ID).Status)
	assertMoney(t, "600", h.balance(t, o.ID))

	// После частичной выплаты новое предложение на всю сумму превышает остаток.
	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount: money("1000"), FreelancerPayment: decimal.Zero, PlatformFeeWaived: decimal.Zero,
	})
	assert.Equal(t, apperror.ErrCodeInvariant, apperror.CodeOf(err))

	res, err := h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, 1, h.sandbox.Calls(ledger.KindCapture))
	assert.Equal(t, 2, h.sandbox.Calls(ledger.KindRefund))
	assertMoney(t, "0", h.balance(t, o.ID))
	assert.Len(t, h.transactions(t, o.ID), 3)

	_, err = h.disputes.CancelDispute(h.ctx, h.client, d.ID)
	assert.True(t, apperror.IsPrecondition(err))
}

func TestDisputeService_CancelRestoresOrder(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	_, err := h.disputes.CancelDispute(h.ctx, h.freelancer, d.ID)
	assert.True(t, apperror.IsForbidden(err))

	cancelled, err := h.disputes.CancelDispute(h.ctx, h.client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusCancelled, cancelled.Status)
	restored := h.reload(t, o.ID)
	assert.Equal(t, valueobject.OrderStatusSubmitted, restored.Status)
	assert.Nil(t, restored.StatusBeforeDispute)

	_, err = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	assert.True(t, apperror.IsPrecondition(err))

	done, err := h.orders.AcceptDelivery(h.ctx, h.client, o.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusCompleted, done.Status)
}

func TestDisputeService_MessagesAndEvidence(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)

	_, err := h.disputes.SendMessage(h.ctx, h.mediator, d.ID, "Клиент прав по срокам", true)
	require.NoError(t, err)
	_, err = h.disputes.SendMessage(h.ctx, h.client, d.ID, "Прикладываю скриншоты", false)
	require.NoError(t, err)
	_, err = h.disputes.SendMessage(h.ctx, h.client, d.ID, "секрет", true)
	assert.True(t, apperror.IsForbidden(err))

	ev, err := h.disputes.SubmitEvidence(h.ctx, h.client, d.ID, EvidenceInput{
		Type:     valueobject.EvidenceTypeImage,
		Title:    "Макет и результат",
		FileName: "diff.png",
		File:     []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	require.NotNil(t, ev.FileRef)
	assert.Equal(t, "image/png", *ev.MimeType)
	assert.Len(t, h.evidence.saved, 1)

	forClient, err := h.disputes.Get(h.ctx, h.client, d.ID)
	require.NoError(t, err)
	for _, m := range forClient.Messages {
		assert.False(t, m.Internal)
	}
	assert.Len(t, forClient.Messages, 2)
	assert.Len(t, forClient.Evidence, 1)

	forMediator, err := h.disputes.Get(h.ctx, h.mediator, d.ID)
	require.NoError(t, err)
	assert.Len(t, forMediator.Messages, 3)

	mine, err := h.disputes.List(h.ctx, h.freelancer, repository.DisputeFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestDisputeService_SubmissionsClosedAfterResolution(t *testing.T) {
	h := newHarness(t)
	_, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Согласен", AcceptResolution: true})
	require.NoError(t, err)

	_, err = h.disputes.SendMessage(h.ctx, h.client, d.ID, "ещё вопрос", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "спор уже разрешён")

	_, err = h.disputes.SubmitEvidence(h.ctx, h.client, d.ID, EvidenceInput{Type: valueobject.EvidenceTypeText, Title: "поздно"})
	assert.True(t, apperror.IsPrecondition(err))
}

func TestDisputeService_GetByOrder(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)

	details, err := h.disputes.GetByOrder(h.ctx, h.freelancer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, details.Dispute.ID)

	other := h.submittedOrder(t)
	_, err = h.disputes.GetByOrder(h.ctx, h.client, other.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestDisputeService_ReconcileFinishesConfirmedSettlement(t *testing.T) {
	h := newHarness(t)
	o, d := h.disputedOrder(t)
	_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
	require.NoError(t, err)
	_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
		RefundAmount: money("500"), FreelancerPayment: money("400"), PlatformFeeWaived: money("100"),
	})
	require.NoError(t, err)
	_, err = h.disputes.Agree(h.ctx, h.client, d.ID)
	require.NoError(t, err)

	h.sandbox.FailNext(ledger.KindRefund, ledger.FailAmbiguousApplied)
	_, err = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
	assert.Equal(t, apperror.ErrCodeLedgerAmbiguous, apperror.CodeOf(err))
	require.True(t, h.reload(t, o.ID).NeedsReconciliation())
	assertMoney(t, "600", h.balance(t, o.ID))

	cleared, err := h.orders.ReconcilePending(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	settled := h.reload(t, o.ID)
	assert.False(t, settled.NeedsReconciliation())
	assert.Equal(t, valueobject.OrderStatusDisputeResolved, settled.Status)
	assertMoney(t, "0", h.balance(t, o.ID))
	assertMoney(t, "0", h.sandbox.Held(*settled.HoldRef))
	assert.Equal(t, 1, h.sandbox.Calls(ledger.KindCapture))
	assert.Equal(t, 2, h.sandbox.Calls(ledger.KindRefund))
	assert.Equal(t, []valueobject.TransactionType{
		valueobject.TransactionTypePayment, valueobject.TransactionTypePayout, valueobject.TransactionTypeRefund,
	}, txTypes(h.transactions(t, o.ID)))

	details, err := h.disputes.Get(h.ctx, h.mediator, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolved, details.Dispute.Status)
	assert.True(t, details.Resolution.Executed)
	assert.False(t, details.Resolution.Forced)
	assert.Contains(t, h.auditActions(t, o.ID), "resolution_executed")
}

// Согласие стороны и принудительное исполнение по истечении медиации: решение исполняется один раз.
func TestDisputeService_AgreeRacesMediationTimeout(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		o, d := h.disputedOrder(t)
		_, err := h.disputes.Respond(h.ctx, h.freelancer, d.ID, RespondInput{Message: "Не согласен"})
		require.NoError(t, err)
		_, err = h.disputes.ProposeResolution(h.ctx, h.mediator, d.ID, ProposeInput{
			RefundAmount: money("500"), FreelancerPayment: money("400"), PlatformFeeWaived: money("100"),
		})
		require.NoError(t, err)
		_, err = h.disputes.Agree(h.ctx, h.client, d.ID)
		require.NoError(t, err)
		h.clock.Advance(121 * time.Hour)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = h.disputes.Agree(h.ctx, h.freelancer, d.ID)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = h.disputes.ForceExpiredMediations(h.ctx, 10)
		}()
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		assert.Equal(t, 1, h.sandbox.Calls(ledger.KindCapture))
		assert.Equal(t, 1, h.sandbox.Calls(ledger.KindRefund))
		assert.Len(t, h.transactions(t, o.ID), 3)
		assertMoney(t, "0", h.balance(t, o.ID))
		assert.Equal(t, valueobject.OrderStatusDisputeResolved, h.reload(t, o.ID).Status)

		executions := 0
		for _, action := range h.auditActions(t, o.ID) {
			if action == "resolution_executed" || action == "resolution_forced" {
				executions++
			}
		}
		assert.Equal(t, 1, executions)
	}
}
