package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKey(t *testing.T) {
	orderID := uuid.New()

	k1 := IdempotencyKey(orderID, KindCapture, PurposeDelivery)
	k2 := IdempotencyKey(orderID, KindCapture, PurposeDelivery)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	assert.NotEqual(t, k1, IdempotencyKey(orderID, KindRefund, PurposeDelivery))
	assert.NotEqual(t, k1, IdempotencyKey(uuid.New(), KindCapture, PurposeDelivery))
	assert.NotEqual(t,
		IdempotencyKey(orderID, KindRefund, PurposeDispute(uuid.New())),
		IdempotencyKey(orderID, KindRefund, PurposeDispute(uuid.New())))
}

func TestSandbox_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()
	orderID := uuid.New()
	key := IdempotencyKey(orderID, KindHold, PurposeFunding)

	ref1, err := s.Hold(ctx, orderID, decimal.NewFromInt(1000), key)
	require.NoError(t, err)
	ref2, err := s.Hold(ctx, orderID, decimal.NewFromInt(1000), key)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 2, s.Calls(KindHold))

	_, err = s.Hold(ctx, orderID, decimal.NewFromInt(999), key)
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestSandbox_CaptureCannotExceedHold(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()
	orderID := uuid.New()

	hold, err := s.Hold(ctx, orderID, decimal.NewFromInt(1000), "h")
	require.NoError(t, err)

	_, err = s.Capture(ctx, hold, decimal.NewFromInt(600), "c")
	require.NoError(t, err)
	_, err = s.Refund(ctx, hold, decimal.NewFromInt(500), "r")
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = s.Refund(ctx, hold, decimal.NewFromInt(400), "r2")
	require.NoError(t, err)
	assert.True(t, s.Held(hold).IsZero())
}

func TestSandbox_FailureModes(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()
	orderID := uuid.New()
	hold, err := s.Hold(ctx, orderID, decimal.NewFromInt(100), "h")
	require.NoError(t, err)

	s.FailNext(KindCapture, FailUnavailable)
	_, err = s.Capture(ctx, hold, decimal.NewFromInt(100), "c")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, s.Held(hold).Equal(decimal.NewFromInt(100)))

	s.FailNext(KindCapture, FailAmbiguousLost)
	_, err = s.Capture(ctx, hold, decimal.NewFromInt(100), "c")
	assert.ErrorIs(t, err, ErrAmbiguous)
	st, err := s.Status(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, OpFailed, st)

	s.FailNext(KindCapture, FailAmbiguousApplied)
	_, err = s.Capture(ctx, hold, decimal.NewFromInt(100), "c")
	assert.ErrorIs(t, err, ErrAmbiguous)
	st, err = s.Status(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, OpSucceeded, st)
	assert.True(t, s.Held(hold).IsZero())

	ref, err := s.Capture(ctx, hold, decimal.NewFromInt(100), "c")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.True(t, s.Held(hold).IsZero())
}
