package events

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// Sink получает событие не менее одного раза; дубликаты отсекаются по event.ID.
type Sink interface {
	Deliver(ctx context.Context, event *entity.DomainEvent) error
}

// LogSink пишет события в структурированный лог.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, event *entity.DomainEvent) error {
	logger.Log.WithFields(logrus.Fields{
		"event_id":     event.ID,
		"event_type":   event.Type,
		"aggregate_id": event.AggregateID,
		"payload":      string(event.Payload),
	}).Info("domain event")
	return nil
}

const defaultBatchSize = 100

// Dispatcher переносит события из outbox в получателей.
type Dispatcher struct {
	events    repository.EventRepository
	sinks     []Sink
	batchSize int
	now       func() time.Time
	kick      chan struct{}
}

func NewDispatcher(events repository.EventRepository, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		events:    events,
		sinks:     sinks,
		batchSize: defaultBatchSize,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
	}
}

// Kick просит доставить события без ожидания следующего цикла планировщика. Не блокирует.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run доставляет события по сигналу Kick до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			if _, err := d.DispatchPending(ctx); err != nil {
				logger.Log.WithError(err).Warn("outbox dispatch failed")
			}
		}
	}
}

// DispatchPending доставляет недоставленные события и возвращает количество доставленных.
// Событие считается доставленным, только если его приняли все получатели.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.events.ListUndelivered(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list undelivered events: %w", err)
	}

	delivered := 0
	for _, event := range pending {
		if err := d.deliver(ctx, event); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Type,
				"attempts":   event.Attempts + 1,
			}).WithError(err).Warn("event delivery failed")
			if markErr := d.events.MarkFailed(ctx, event.ID); markErr != nil {
				return delivered, fmt.Errorf("mark event failed: %w", markErr)
			}
			continue
		}
		if err := d.events.MarkDelivered(ctx, event.ID, d.now()); err != nil {
			return delivered, fmt.Errorf("mark event delivered: %w", err)
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, event *entity.DomainEvent) error {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
