// Package memory — хранилище в памяти процесса с семантикой unit of work.
// Используется в одноузловом режиме (STORAGE_DRIVER=memory) и в тестах.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
)

type state struct {
	orders       map[uuid.UUID]entity.Order
	deliveries   map[uuid.UUID][]entity.Delivery
	transactions map[uuid.UUID][]entity.Transaction
	disputes     map[uuid.UUID]entity.Dispute
	evidence     map[uuid.UUID][]entity.Evidence
	messages     map[uuid.UUID][]entity.DisputeMessage
	resolutions  map[uuid.UUID]entity.Resolution
	events       []entity.DomainEvent
	audit        map[uuid.UUID][]entity.AuditEntry
}

func newState() *state {
	return &state{
		orders:       make(map[uuid.UUID]entity.Order),
		deliveries:   make(map[uuid.UUID][]entity.Delivery),
		transactions: make(map[uuid.UUID][]entity.Transaction),
		disputes:     make(map[uuid.UUID]entity.Dispute),
		evidence:     make(map[uuid.UUID][]entity.Evidence),
		messages:     make(map[uuid.UUID][]entity.DisputeMessage),
		resolutions:  make(map[uuid.UUID]entity.Resolution),
		audit:        make(map[uuid.UUID][]entity.AuditEntry),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = append([]entity.Delivery(nil), v...)
	}
	for k, v := range s.transactions {
		c.transactions[k] = append([]entity.Transaction(nil), v...)
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	for k, v := range s.evidence {
		c.evidence[k] = append([]entity.Evidence(nil), v...)
	}
	for k, v := range s.messages {
		c.messages[k] = append([]entity.DisputeMessage(nil), v...)
	}
	for k, v := range s.resolutions {
		c.resolutions[k] = v
	}
	c.events = append([]entity.DomainEvent(nil), s.events...)
	for k, v := range s.audit {
		c.audit[k] = append([]entity.AuditEntry(nil), v...)
	}
	return c
}

// access скрывает от репозиториев, работают ли они с общим состоянием или с копией внутри транзакции.
type access interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
}

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
}

var _ repository.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	draft := s.st.clone()
	s.mu.RUnlock()

	if err := fn(draft); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = draft
	s.mu.Unlock()
	return nil
}

// Do применяет изменения fn к копии состояния и подменяет состояние только при успехе.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return s.write(func(st *state) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, newView(&txAccess{st: st}))
	})
}

func (s *Store) Orders() repository.OrderRepository             { return &orderRepo{a: s} }
func (s *Store) Deliveries() repository.DeliveryRepository      { return &deliveryRepo{a: s} }
func (s *Store) Transactions() repository.TransactionRepository { return &transactionRepo{a: s} }
func (s *Store) Disputes() repository.DisputeRepository         { return &disputeRepo{a: s} }
func (s *Store) Events() repository.EventRepository             { return &eventRepo{a: s} }
func (s *Store) Audit() repository.AuditRepository              { return &auditRepo{a: s} }

type txAccess struct {
	st *state
}

func (t *txAccess) read(fn func(st *state) error) error  { return fn(t.st) }
func (t *txAccess) write(fn func(st *state) error) error { return fn(t.st) }

type view struct {
	a access
}

func newView(a access) *view {
	return &view{a: a}
}

func (v *view) Orders() repository.OrderRepository             { return &orderRepo{a: v.a} }
func (v *view) Deliveries() repository.DeliveryRepository      { return &deliveryRepo{a: v.a} }
func (v *view) Transactions() repository.TransactionRepository { return &transactionRepo{a: v.a} }
func (v *view) Disputes() repository.DisputeRepository         { return &disputeRepo{a: v.a} }
func (v *view) Events() repository.EventRepository             { return &eventRepo{a: v.a} }
func (v *view) Audit() repository.AuditRepository              { return &auditRepo{a: v.a} }
