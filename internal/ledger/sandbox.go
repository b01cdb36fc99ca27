package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FailureMode задаёт, как песочница сорвёт следующую операцию.
type FailureMode int

const (
	// FailUnavailable — операция не выполняется, возвращается ErrUnavailable.
	FailUnavailable FailureMode = iota + 1
	// FailAmbiguousApplied — операция выполняется, но вызывающий получает ErrAmbiguous.
	FailAmbiguousApplied
	// FailAmbiguousLost — операция не выполняется, вызывающий получает ErrAmbiguous.
	FailAmbiguousLost
	// FailDeclined — провайдер отклоняет операцию.
	FailDeclined
)

type sandboxOp struct {
	kind   Kind
	amount decimal.Decimal
	ref    string
	status OpStatus
}

type sandboxHold struct {
	orderID  uuid.UUID
	amount   decimal.Decimal
	captured decimal.Decimal
	refunded decimal.Decimal
}

// Sandbox — провайдер в памяти для одноузлового режима и тестов.
type Sandbox struct {
	mu       sync.Mutex
	ops      map[string]*sandboxOp
	holds    map[string]*sandboxHold
	failures map[Kind][]FailureMode
	calls    map[Kind]int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		ops:      make(map[string]*sandboxOp),
		holds:    make(map[string]*sandboxHold),
		failures: make(map[Kind][]FailureMode),
		calls:    make(map[Kind]int),
	}
}

// FailNext ставит в очередь сбой для следующего вызова операции kind.
func (s *Sandbox) FailNext(kind Kind, mode FailureMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = append(s.failures[kind], mode)
}

// SetPending помечает операцию как ещё не завершённую у провайдера.
func (s *Sandbox) SetPending(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.ops[key]; ok {
		op.status = OpPending
	}
}

// Calls возвращает количество вызовов операции, включая повторы.
func (s *Sandbox) Calls(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

// Held возвращает остаток удержания.
func (s *Sandbox) Held(holdRef string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdRef]
	if !ok {
		return decimal.Zero
	}
	return h.amount.Sub(h.captured).Sub(h.refunded)
}

func (s *Sandbox) nextFailure(kind Kind) FailureMode {
	queue := s.failures[kind]
	if len(queue) == 0 {
		return 0
	}
	s.failures[kind] = queue[1:]
	return queue[0]
}

func (s *Sandbox) Hold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	return s.apply(ctx, KindHold, amount, key, func() (string, error) {
		ref := "hold_" + uuid.NewString()
		s.holds[ref] = &sandboxHold{orderID: orderID, amount: amount}
		return ref, nil
	})
}

func (s *Sandbox) Capture(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	return s.apply(ctx, KindCapture, amount, key, func() (string, error) {
		h, err := s.available(holdRef, amount)
		if err != nil {
			return "", err
		}
		h.captured = h.captured.Add(amount)
		return "cap_" + uuid.NewString(), nil
	})
}

func (s *Sandbox) Refund(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	return s.apply(ctx, KindRefund, amount, key, func() (string, error) {
		h, err := s.available(holdRef, amount)
		if err != nil {
			return "", err
		}
		h.refunded = h.refunded.Add(amount)
		return "ref_" + uuid.NewString(), nil
	})
}

func (s *Sandbox) Status(ctx context.Context, key string) (OpStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[key]
	if !ok {
		return OpFailed, nil
	}
	return op.status, nil
}

func (s *Sandbox) available(holdRef string, amount decimal.Decimal) (*sandboxHold, error) {
	h, ok := s.holds[holdRef]
	if !ok {
		return nil, fmt.Errorf("%w: unknown hold %s", ErrDeclined, holdRef)
	}
	rest := h.amount.Sub(h.captured).Sub(h.refunded)
	if amount.GreaterThan(rest) {
		return nil, fmt.Errorf("%w: amount %s exceeds held %s", ErrDeclined, amount, rest)
	}
	return h, nil
}

func (s *Sandbox) apply(ctx context.Context, kind Kind, amount decimal.Decimal, key string, exec func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[kind]++

	if op, ok := s.ops[key]; ok && op.status == OpSucceeded {
		if op.kind != kind || !op.amount.Equal(amount) {
			return "", fmt.Errorf("%w: idempotency key reused with different parameters", ErrDeclined)
		}
		return op.ref, nil
	}

	switch s.nextFailure(kind) {
	case FailUnavailable:
		return "", ErrUnavailable
	case FailAmbiguousLost:
		return "", ErrAmbiguous
	case FailDeclined:
		return "", ErrDeclined
	case FailAmbiguousApplied:
		if _, err := s.execute(kind, amount, key, exec); err != nil {
			return "", err
		}
		return "", ErrAmbiguous
	}
	return s.execute(kind, amount, key, exec)
}

func (s *Sandbox) execute(kind Kind, amount decimal.Decimal, key string, exec func() (string, error)) (string, error) {
	ref, err := exec()
	if err != nil {
		return "", err
	}
	s.ops[key] = &sandboxOp{kind: kind, amount: amount, ref: ref, status: OpSucceeded}
	return ref, nil
}
