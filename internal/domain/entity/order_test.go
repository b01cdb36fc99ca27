package entity_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestOrder(t *testing.T, contract valueobject.ContractType) *entity.Order {
	t.Helper()
	o, err := entity.NewOrder(entity.NewOrderParams{
		ClientID:          uuid.New(),
		FreelancerID:      uuid.New(),
		ContractType:      contract,
		Title:             "Логотип",
		Pricing:           valueobject.Pricing{Amount: decimal.RequireFromString("1000"), ProviderFee: decimal.RequireFromString("150")},
		AllottedRevisions: 1,
		DeliveryDays:      3,
	}, t0)
	require.NoError(t, err)
	return o
}

func TestNewOrder_Financials(t *testing.T) {
	o, err := entity.NewOrder(entity.NewOrderParams{
		ClientID:     uuid.New(),
		FreelancerID: uuid.New(),
		Title:        "Сайт",
		Pricing: valueobject.Pricing{
			Amount:        decimal.RequireFromString("1000"),
			PlatformFee:   decimal.RequireFromString("50"),
			ProcessingFee: decimal.RequireFromString("10.50"),
			ProviderFee:   decimal.RequireFromString("150"),
		},
		DeliveryDays: 5,
	}, t0)
	require.NoError(t, err)

	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("1060.50")))
	assert.True(t, o.ProviderPayout.Equal(decimal.RequireFromString("850")))
	assert.Equal(t, valueobject.OrderStatusPending, o.Status)
	assert.Equal(t, valueobject.EscrowStatusNone, o.EscrowStatus)
	assert.Equal(t, valueobject.ContractTypePackage, o.ContractType)
	assert.Regexp(t, `^ORD-20260301-[0-9A-F]{6}$`, o.OrderNumber)
	assert.NoError(t, o.CheckFinancials())
}

func TestNewOrder_Invalid(t *testing.T) {
	same := uuid.New()
	tests := []struct {
		name string
		p    entity.NewOrderParams
		code apperror.ErrorCode
	}{
		{
			name: "same parties",
			p:    entity.NewOrderParams{ClientID: same, FreelancerID: same, Title: "x", DeliveryDays: 1, Pricing: valueobject.Pricing{Amount: decimal.NewFromInt(10)}},
			code: apperror.ErrCodeValidation,
		},
		{
			name: "zero amount",
			p:    entity.NewOrderParams{ClientID: uuid.New(), FreelancerID: uuid.New(), Title: "x", DeliveryDays: 1},
			code: apperror.ErrCodeInvariant,
		},
		{
			name: "negative fee",
			p: entity.NewOrderParams{ClientID: uuid.New(), FreelancerID: uuid.New(), Title: "x", DeliveryDays: 1,
				Pricing: valueobject.Pricing{Amount: decimal.NewFromInt(10), PlatformFee: decimal.NewFromInt(-1)}},
			code: apperror.ErrCodeInvariant,
		},
		{
			name: "provider fee above amount",
			p: entity.NewOrderParams{ClientID: uuid.New(), FreelancerID: uuid.New(), Title: "x", DeliveryDays: 1,
				Pricing: valueobject.Pricing{Amount: decimal.NewFromInt(10), ProviderFee: decimal.NewFromInt(11)}},
			code: apperror.ErrCodeInvariant,
		},
		{
			name: "no delivery days",
			p:    entity.NewOrderParams{ClientID: uuid.New(), FreelancerID: uuid.New(), Title: "x", Pricing: valueobject.Pricing{Amount: decimal.NewFromInt(10)}},
			code: apperror.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := entity.NewOrder(tt.p, t0)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
}

func TestOrder_HappyPath(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)

	require.NoError(t, o.Fund("hold-1", t0))
	assert.Equal(t, valueobject.OrderStatusAccepted, o.Status)
	assert.Equal(t, valueobject.EscrowStatusHeld, o.EscrowStatus)

	require.NoError(t, o.Accept(t0.Add(time.Hour)))
	require.NotNil(t, o.DeliveryDueAt)
	assert.Equal(t, t0.Add(time.Hour+72*time.Hour), *o.DeliveryDueAt)

	rev, err := o.SubmitDelivery(t0.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, rev)
	firstDelivered := *o.ActualDeliveredAt

	require.NoError(t, o.RequestRevision(t0.Add(3*time.Hour)))
	assert.Equal(t, 1, o.RevisionsUsed)

	rev, err = o.SubmitDelivery(t0.Add(4 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rev)
	assert.Equal(t, firstDelivered, *o.ActualDeliveredAt)

	err = o.RequestRevision(t0.Add(5 * time.Hour))
	require.Error(t, err)
	assert.True(t, apperror.IsPrecondition(err))
	assert.Contains(t, err.Error(), "лимит правок исчерпан")

	require.NoError(t, o.AcceptDelivery(t0.Add(6*time.Hour)))
	assert.Equal(t, valueobject.OrderStatusCompleted, o.Status)
	assert.Equal(t, valueobject.EscrowStatusReleased, o.EscrowStatus)
	assert.NotNil(t, o.CompletedAt)
}

func TestOrder_PreconditionCarriesStatuses(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)

	err := o.Accept(t0)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodePrecondition, appErr.Code)
	assert.Equal(t, []string{"accepted"}, appErr.Expected)
	assert.Equal(t, "pending", appErr.Actual)
}

func TestOrder_Cancel(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)
	require.NoError(t, o.Fund("hold-1", t0))
	require.NoError(t, o.Cancel("передумал", t0.Add(time.Minute)))

	assert.Equal(t, valueobject.OrderStatusCancelled, o.Status)
	assert.Equal(t, valueobject.EscrowStatusRefunded, o.EscrowStatus)
	require.NotNil(t, o.CancelReason)
	assert.Equal(t, "передумал", *o.CancelReason)

	err := o.Cancel("", t0.Add(2*time.Minute))
	assert.True(t, apperror.IsPrecondition(err))
}

func TestOrder_CancelUnfunded(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)
	require.NoError(t, o.Cancel("", t0))
	assert.Equal(t, valueobject.EscrowStatusNone, o.EscrowStatus)
}

func TestOrder_DisputeWindow(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)
	require.NoError(t, o.Fund("hold-1", t0))
	require.NoError(t, o.Accept(t0))

	err := o.OpenDispute(t0.Add(24 * time.Hour))
	assert.True(t, apperror.IsPrecondition(err))

	late := t0.Add(4 * 24 * time.Hour)
	require.NoError(t, o.OpenDispute(late))
	assert.Equal(t, valueobject.OrderStatusDisputed, o.Status)
	require.NotNil(t, o.StatusBeforeDispute)
	assert.Equal(t, valueobject.OrderStatusInProgress, *o.StatusBeforeDispute)

	require.NoError(t, o.RestoreAfterDispute(late.Add(time.Hour)))
	assert.Equal(t, valueobject.OrderStatusInProgress, o.Status)
	assert.Nil(t, o.StatusBeforeDispute)
}

func TestOrder_SettleDispute(t *testing.T) {
	tests := []struct {
		name   string
		split  valueobject.Split
		status valueobject.OrderStatus
		escrow valueobject.EscrowStatus
	}{
		{"full refund", valueobject.Split{Refund: decimal.NewFromInt(1000), Payment: decimal.Zero, FeeWaived: decimal.Zero},
			valueobject.OrderStatusRefunded, valueobject.EscrowStatusRefunded},
		{"full payment", valueobject.Split{Refund: decimal.Zero, Payment: decimal.NewFromInt(1000), FeeWaived: decimal.Zero},
			valueobject.OrderStatusCompleted, valueobject.EscrowStatusReleased},
		{"partial", valueobject.Split{Refund: decimal.NewFromInt(400), Payment: decimal.NewFromInt(600), FeeWaived: decimal.Zero},
			valueobject.OrderStatusDisputeResolved, valueobject.EscrowStatusReleased},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder(t, valueobject.ContractTypeCustom)
			require.NoError(t, o.Fund("hold-1", t0))
			require.NoError(t, o.Accept(t0))
			_, err := o.SubmitDelivery(t0)
			require.NoError(t, err)
			require.NoError(t, o.OpenDispute(t0))

			require.NoError(t, o.SettleDispute(tt.split, t0.Add(time.Hour)))
			assert.Equal(t, tt.status, o.Status)
			assert.Equal(t, tt.escrow, o.EscrowStatus)
			assert.True(t, o.Status.IsTerminal())
		})
	}
}

func TestOrder_SettleDisputeRejectsBadSplit(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)
	require.NoError(t, o.Fund("hold-1", t0))
	require.NoError(t, o.Accept(t0))
	_, err := o.SubmitDelivery(t0)
	require.NoError(t, err)
	require.NoError(t, o.OpenDispute(t0))

	err = o.SettleDispute(valueobject.Split{Refund: decimal.NewFromInt(500), Payment: decimal.NewFromInt(400), FeeWaived: decimal.Zero}, t0)
	assert.Equal(t, apperror.ErrCodeInvariant, apperror.CodeOf(err))
	assert.Equal(t, valueobject.OrderStatusDisputed, o.Status)
	assert.Equal(t, valueobject.EscrowStatusHeld, o.EscrowStatus)
}

func TestOrder_FlagOverdueOnce(t *testing.T) {
	o := newTestOrder(t, valueobject.ContractTypeCustom)
	require.NoError(t, o.Fund("hold-1", t0))
	require.NoError(t, o.Accept(t0))

	assert.False(t, o.FlagOverdue(t0.Add(time.Hour)))
	assert.True(t, o.FlagOverdue(t0.Add(100*time.Hour)))
	assert.False(t, o.FlagOverdue(t0.Add(200*time.Hour)))
	assert.Equal(t, valueobject.OrderStatusInProgress, o.Status)
}

func TestOrderStatus_TerminalHasNoTransitions(t *testing.T) {
	all := []valueobject.OrderStatus{
		valueobject.OrderStatusPending, valueobject.OrderStatusAccepted, valueobject.OrderStatusInProgress,
		valueobject.OrderStatusSubmitted, valueobject.OrderStatusRevisionRequested, valueobject.OrderStatusDelivered,
		valueobject.OrderStatusCompleted, valueobject.OrderStatusCancelled, valueobject.OrderStatusDisputed,
		valueobject.OrderStatusRefunded, valueobject.OrderStatusDisputeResolved,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBalance(t *testing.T) {
	orderID := uuid.New()
	mk := func(typ valueobject.TransactionType, amount string) entity.Transaction {
		tx, err := entity.NewTransaction(orderID, typ, decimal.RequireFromString(amount), "", t0)
		require.NoError(t, err)
		return *tx
	}
	txs := []entity.Transaction{
		mk(valueobject.TransactionTypePayment, "1000"),
		mk(valueobject.TransactionTypePayout, "850"),
		mk(valueobject.TransactionTypeFee, "150"),
	}
	assert.True(t, entity.Balance(txs).IsZero())
	assert.True(t, entity.Balance(txs[:1]).Equal(decimal.NewFromInt(1000)))

	_, err := entity.NewTransaction(orderID, valueobject.TransactionTypeRefund, decimal.Zero, "", t0)
	assert.Equal(t, apperror.ErrCodeInvariant, apperror.CodeOf(err))
}
