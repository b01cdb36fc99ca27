// Package ledger — контракт с платёжным провайдером, удерживающим средства заказа.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

type Kind string

const (
	KindHold    Kind = "hold"
	KindCapture Kind = "capture"
	KindRefund  Kind = "refund"
)

// Назначения операций, из которых выводится ключ идемпотентности.
const (
	PurposeFunding      = "funding"
	PurposeDelivery     = "delivery"
	PurposeCancellation = "cancellation"
)

func PurposeDispute(disputeID uuid.UUID) string {
	return "dispute:" + disputeID.String()
}

type OpStatus string

const (
	OpSucceeded OpStatus = "succeeded"
	OpFailed    OpStatus = "failed"
	OpPending   OpStatus = "pending"
)

var (
	// ErrUnavailable — провайдер недоступен, операция точно не выполнена.
	ErrUnavailable = errors.New("ledger: provider unavailable")
	// ErrAmbiguous — исход операции неизвестен (таймаут), нужна сверка по ключу.
	ErrAmbiguous = errors.New("ledger: outcome unknown")
	// ErrDeclined — провайдер отклонил операцию.
	ErrDeclined = errors.New("ledger: operation declined")
)

// Provider выполняет операции идемпотентно: повтор с тем же ключом возвращает исходный результат.
type Provider interface {
	Hold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, key string) (string, error)
	Capture(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error)
	Refund(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error)
	Status(ctx context.Context, key string) (OpStatus, error)
}

// IdempotencyKey выводит ключ операции из (заказ, вид, назначение) через BLAKE2b-256.
func IdempotencyKey(orderID uuid.UUID, kind Kind, purpose string) string {
	sum := blake2b.Sum256([]byte(strings.Join([]string{orderID.String(), string(kind), purpose}, "|")))
	return hex.EncodeToString(sum[:])
}
