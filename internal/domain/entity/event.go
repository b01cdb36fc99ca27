package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainEvent — запись outbox. ID используется получателями для дедупликации.
type DomainEvent struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Type        string          `db:"type" json:"type"`
	AggregateID uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Recipients  Recipients      `db:"recipients" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time      `db:"delivered_at" json:"-"`
	Attempts    int             `db:"attempts" json:"-"`
}

// Recipients хранится в колонке jsonb как массив идентификаторов.
type Recipients []uuid.UUID

func (r Recipients) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]uuid.UUID(r))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r *Recipients) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("recipients: unsupported type %T", src)
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	*r = ids
	return nil
}

// AuditEntry — запись истории изменений заказа и спора.
type AuditEntry struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	ActorID   *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Action    string          `db:"action" json:"action"`
	OldValue  json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue  json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

func NewAuditEntry(orderID uuid.UUID, actorID *uuid.UUID, action string, oldValue, newValue any, now time.Time) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New(),
		OrderID:   orderID,
		ActorID:   actorID,
		Action:    action,
		OldValue:  marshalAudit(oldValue),
		NewValue:  marshalAudit(newValue),
		CreatedAt: now,
	}
}

func marshalAudit(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
