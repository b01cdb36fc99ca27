package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/infrastructure/memory"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/lock"
	"github.com/ignatzorin/escrow-backend/internal/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingNotifier struct {
	mu    sync.Mutex
	kicks int
}

func (n *countingNotifier) Kick() {
	n.mu.Lock()
	n.kicks++
	n.mu.Unlock()
}

type stubEvidenceStorage struct {
	saved map[string][]byte
}

func (s *stubEvidenceStorage) Save(_ context.Context, disputeID uuid.UUID, filename string, data []byte) (string, string, error) {
	ref := disputeID.String() + "/" + filename
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[ref] = data
	return ref, "image/png", nil
}

type harness struct {
	ctx      context.Context
	store    *memory.Store
	sandbox  *ledger.Sandbox
	clock    *testClock
	notifier *countingNotifier
	evidence *stubEvidenceStorage

	orders   *OrderService
	disputes *DisputeService
	ledger   *LedgerService

	client     Actor
	freelancer Actor
	mediator   Actor
	admin      Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger.Silence()

	h := &harness{
		ctx:        context.Background(),
		store:      memory.NewStore(),
		sandbox:    ledger.NewSandbox(),
		clock:      &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		notifier:   &countingNotifier{},
		evidence:   &stubEvidenceStorage{},
		client:     Actor{UserID: uuid.New(), Role: RoleClient},
		freelancer: Actor{UserID: uuid.New(), Role: RoleFreelancer},
		mediator:   Actor{UserID: uuid.New(), Role: RoleMediator},
		admin:      Actor{UserID: uuid.New(), Role: RoleAdmin},
	}
	deps := Deps{
		Store:    h.store,
		Ledger:   h.sandbox,
		Locker:   lock.NewLocalLocker(2 * time.Second),
		Notifier: h.notifier,
		Now:      h.clock.Now,
	}
	policy := DisputePolicy{
		AutoResolutionWindow: 72 * time.Hour,
		MediationWindow:      120 * time.Hour,
		Default:              DefaultPolicyDisputedAmount,
	}
	h.orders = NewOrderService(deps)
	h.disputes = NewDisputeService(deps, policy, h.evidence)
	h.orders.UseSettlements(h.disputes)
	h.ledger = NewLedgerService(deps)
	return h
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, money(want).Equal(got), "want %s, got %s", want, got)
}

// createOrder — заказ на 1000: 900 + 100 комиссии платформы, исполнитель получает 850.
func (h *harness) createOrder(t *testing.T, contract valueobject.ContractType, revisions int) *entity.Order {
	t.Helper()
	o, err := h.orders.CreateOrder(h.ctx, h.client, CreateOrderInput{
		FreelancerID:      h.freelancer.UserID,
		ContractType:      contract,
		Title:             "Лендинг для кофейни",
		Amount:            money("900"),
		PlatformFee:       money("100"),
		ProcessingFee:     decimal.Zero,
		ProviderFee:       money("50"),
		AllottedRevisions: revisions,
		DeliveryDays:      5,
	})
	require.NoError(t, err)
	return o
}

func (h *harness) inProgressOrder(t *testing.T) *entity.Order {
	t.Helper()
	o := h.createOrder(t, valueobject.ContractTypeCustom, 1)
	_, err := h.orders.Fund(h.ctx, h.client, o.ID)
	require.NoError(t, err)
	o, err = h.orders.Accept(h.ctx, h.freelancer, o.ID)
	require.NoError(t, err)
	return o
}

func (h *harness) submittedOrder(t *testing.T) *entity.Order {
	t.Helper()
	o := h.inProgressOrder(t)
	_, err := h.orders.SubmitDelivery(h.ctx, h.freelancer, o.ID, "Готово, ссылка в описании")
	require.NoError(t, err)
	return h.reload(t, o.ID)
}

// disputedOrder — сданный заказ, по которому клиент оспаривает 400.
func (h *harness) disputedOrder(t *testing.T) (*entity.Order, *entity.Dispute) {
	t.Helper()
	o := h.submittedOrder(t)
	d, err := h.disputes.OpenDispute(h.ctx, h.client, o.ID, OpenDisputeInput{
		Category:       valueobject.DisputeCategoryQuality,
		Reason:         "Вёрстка не соответствует макету",
		DisputedAmount: money("400"),
	})
	require.NoError(t, err)
	return h.reload(t, o.ID), d
}

func (h *harness) reload(t *testing.T, orderID uuid.UUID) *entity.Order {
	t.Helper()
	o, err := h.store.Orders().FindByID(h.ctx, orderID)
	require.NoError(t, err)
	return o
}

func (h *harness) balance(t *testing.T, orderID uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := h.ledger.Balance(h.ctx, h.admin, orderID)
	require.NoError(t, err)
	return b
}

func (h *harness) transactions(t *testing.T, orderID uuid.UUID) []entity.Transaction {
	t.Helper()
	txs, err := h.store.Transactions().ListByOrder(h.ctx, orderID)
	require.NoError(t, err)
	return txs
}

func (h *harness) eventsOfType(t *testing.T, eventType string) []*entity.DomainEvent {
	t.Helper()
	all, err := h.store.Events().ListUndelivered(h.ctx, 1000)
	require.NoError(t, err)
	var out []*entity.DomainEvent
	for _, e := range all {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) auditActions(t *testing.T, orderID uuid.UUID) []string {
	t.Helper()
	entries, err := h.store.Audit().ListByOrder(h.ctx, orderID)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func decodePayload[T any](t *testing.T, e *entity.DomainEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Payload, &v))
	return v
}

func txTypes(txs []entity.Transaction) []valueobject.TransactionType {
	out := make([]valueobject.TransactionType, len(txs))
	for i := range txs {
		out[i] = txs[i].Type
	}
	return out
}
