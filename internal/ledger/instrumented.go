package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Observer получает длительность и исход каждого вызова провайдера.
type Observer interface {
	ObserveLedgerCall(op string, result string, duration time.Duration)
}

type instrumented struct {
	next Provider
	obs  Observer
}

// Instrument оборачивает провайдер замером вызовов.
func Instrument(p Provider, obs Observer) Provider {
	if obs == nil {
		return p
	}
	return &instrumented{next: p, obs: obs}
}

func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, ErrDeclined):
		return "declined"
	default:
		return "error"
	}
}

func (i *instrumented) observe(op Kind, start time.Time, err error) {
	i.obs.ObserveLedgerCall(string(op), Result(err), time.Since(start))
}

func (i *instrumented) Hold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	start := time.Now()
	ref, err := i.next.Hold(ctx, orderID, amount, key)
	i.observe(KindHold, start, err)
	return ref, err
}

func (i *instrumented) Capture(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	start := time.Now()
	ref, err := i.next.Capture(ctx, holdRef, amount, key)
	i.observe(KindCapture, start, err)
	return ref, err
}

func (i *instrumented) Refund(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	start := time.Now()
	ref, err := i.next.Refund(ctx, holdRef, amount, key)
	i.observe(KindRefund, start, err)
	return ref, err
}

func (i *instrumented) Status(ctx context.Context, key string) (OpStatus, error) {
	start := time.Now()
	st, err := i.next.Status(ctx, key)
	i.obs.ObserveLedgerCall("status", Result(err), time.Since(start))
	return st, err
}
