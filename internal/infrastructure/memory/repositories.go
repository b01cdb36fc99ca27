package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

type orderRepo struct {
	a access
}

func (r *orderRepo) Create(ctx context.Context, order *entity.Order) error {
	return r.a.write(func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return repository.ErrAlreadyExists
		}
		st.orders[order.ID] = *order
		return nil
	})
}

func (r *orderRepo) Update(ctx context.Context, order *entity.Order) error {
	return r.a.write(func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if current.Version != order.Version {
			return repository.ErrVersionConflict
		}
		order.Version++
		st.orders[order.ID] = *order
		return nil
	})
}

func (r *orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	var out *entity.Order
	err := r.a.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (r *orderRepo) list(pred func(o *entity.Order) bool) []*entity.Order {
	var out []*entity.Order
	_ = r.a.read(func(st *state) error {
		for _, o := range st.orders {
			if pred(&o) {
				out = append(out, &o)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *orderRepo) ListByParticipant(ctx context.Context, userID uuid.UUID, filter repository.OrderFilter) ([]*entity.Order, error) {
	out := r.list(func(o *entity.Order) bool {
		if o.ClientID != userID && o.FreelancerID != userID {
			return false
		}
		return filter.Status == "" || o.Status == filter.Status
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *orderRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Order, error) {
	out := r.list(func(o *entity.Order) bool {
		return o.IsOverdue(now) && o.OverdueAt == nil
	})
	return page(out, limit, 0), nil
}

func (r *orderRepo) ListPendingLedger(ctx context.Context, limit int) ([]*entity.Order, error) {
	out := r.list(func(o *entity.Order) bool { return o.NeedsReconciliation() })
	return page(out, limit, 0), nil
}

type deliveryRepo struct {
	a access
}

func (r *deliveryRepo) Create(ctx context.Context, d *entity.Delivery) error {
	return r.a.write(func(st *state) error {
		st.deliveries[d.OrderID] = append(st.deliveries[d.OrderID], *d)
		return nil
	})
}

func (r *deliveryRepo) Update(ctx context.Context, d *entity.Delivery) error {
	return r.a.write(func(st *state) error {
		list := st.deliveries[d.OrderID]
		for i := range list {
			if list[i].ID == d.ID {
				list[i] = *d
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *deliveryRepo) FindLatest(ctx context.Context, orderID uuid.UUID) (*entity.Delivery, error) {
	var out *entity.Delivery
	err := r.a.read(func(st *state) error {
		list := st.deliveries[orderID]
		if len(list) == 0 {
			return repository.ErrNotFound
		}
		d := list[len(list)-1]
		out = &d
		return nil
	})
	return out, err
}

func (r *deliveryRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.Delivery, error) {
	var out []*entity.Delivery
	_ = r.a.read(func(st *state) error {
		for _, d := range st.deliveries[orderID] {
			out = append(out, &d)
		}
		return nil
	})
	return out, nil
}

type transactionRepo struct {
	a access
}

func (r *transactionRepo) Append(ctx context.Context, tx *entity.Transaction) error {
	return r.a.write(func(st *state) error {
		if tx.IdempotencyKey != nil {
			for _, list := range st.transactions {
				for _, existing := range list {
					if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
						return repository.ErrAlreadyExists
					}
				}
			}
		}
		list := st.transactions[tx.OrderID]
		tx.Seq = int64(len(list)) + 1
		st.transactions[tx.OrderID] = append(list, *tx)
		return nil
	})
}

func (r *transactionRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.Transaction, error) {
	var out []entity.Transaction
	_ = r.a.read(func(st *state) error {
		out = append(out, st.transactions[orderID]...)
		return nil
	})
	return out, nil
}

func (r *transactionRepo) FindByIdempotencyKey(ctx context.Context, key string) (*entity.Transaction, error) {
	var out *entity.Transaction
	err := r.a.read(func(st *state) error {
		for _, list := range st.transactions {
			for _, tx := range list {
				if tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
					out = &tx
					return nil
				}
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

type disputeRepo struct {
	a access
}

func (r *disputeRepo) Create(ctx context.Context, d *entity.Dispute) error {
	return r.a.write(func(st *state) error {
		for _, existing := range st.disputes {
			if existing.OrderID == d.OrderID && existing.IsActive() {
				return repository.ErrAlreadyExists
			}
		}
		st.disputes[d.ID] = *d
		return nil
	})
}

func (r *disputeRepo) Update(ctx context.Context, d *entity.Dispute) error {
	return r.a.write(func(st *state) error {
		if _, ok := st.disputes[d.ID]; !ok {
			return repository.ErrNotFound
		}
		st.disputes[d.ID] = *d
		return nil
	})
}

func (r *disputeRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	var out *entity.Dispute
	err := r.a.read(func(st *state) error {
		d, ok := st.disputes[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (r *disputeRepo) list(pred func(d *entity.Dispute) bool) []*entity.Dispute {
	var out []*entity.Dispute
	_ = r.a.read(func(st *state) error {
		for _, d := range st.disputes {
			if pred(&d) {
				out = append(out, &d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *disputeRepo) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	out := r.list(func(d *entity.Dispute) bool { return d.OrderID == orderID && d.IsActive() })
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return out[0], nil
}

func (r *disputeRepo) FindLatestByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	out := r.list(func(d *entity.Dispute) bool { return d.OrderID == orderID })
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return out[0], nil
}

func (r *disputeRepo) List(ctx context.Context, filter repository.DisputeFilter) ([]*entity.Dispute, error) {
	out := r.list(func(d *entity.Dispute) bool {
		if filter.Status != "" && d.Status != filter.Status {
			return false
		}
		return filter.Priority == "" || d.Priority == filter.Priority
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *disputeRepo) ListByParticipant(ctx context.Context, userID uuid.UUID, filter repository.DisputeFilter) ([]*entity.Dispute, error) {
	var out []*entity.Dispute
	_ = r.a.read(func(st *state) error {
		for _, d := range st.disputes {
			o, ok := st.orders[d.OrderID]
			if !ok || (o.ClientID != userID && o.FreelancerID != userID) {
				continue
			}
			if filter.Status != "" && d.Status != filter.Status {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *disputeRepo) ListAutoResolutionDue(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error) {
	out := r.list(func(d *entity.Dispute) bool { return d.AutoResolutionDue(now) })
	return page(out, limit, 0), nil
}

func (r *disputeRepo) ListMediationExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error) {
	out := r.list(func(d *entity.Dispute) bool {
		return d.Status == valueobject.DisputeStatusInMediation && d.MediationExpired(now)
	})
	return page(out, limit, 0), nil
}

func (r *disputeRepo) AddEvidence(ctx context.Context, e *entity.Evidence) error {
	return r.a.write(func(st *state) error {
		st.evidence[e.DisputeID] = append(st.evidence[e.DisputeID], *e)
		return nil
	})
}

func (r *disputeRepo) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]*entity.Evidence, error) {
	var out []*entity.Evidence
	_ = r.a.read(func(st *state) error {
		for _, e := range st.evidence[disputeID] {
			out = append(out, &e)
		}
		return nil
	})
	return out, nil
}

func (r *disputeRepo) AddMessage(ctx context.Context, m *entity.DisputeMessage) error {
	return r.a.write(func(st *state) error {
		st.messages[m.DisputeID] = append(st.messages[m.DisputeID], *m)
		return nil
	})
}

func (r *disputeRepo) ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]*entity.DisputeMessage, error) {
	var out []*entity.DisputeMessage
	_ = r.a.read(func(st *state) error {
		for _, m := range st.messages[disputeID] {
			if m.Internal && !includeInternal {
				continue
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, nil
}

func (r *disputeRepo) SaveResolution(ctx context.Context, res *entity.Resolution) error {
	return r.a.write(func(st *state) error {
		st.resolutions[res.DisputeID] = *res
		return nil
	})
}

func (r *disputeRepo) FindResolution(ctx context.Context, disputeID uuid.UUID) (*entity.Resolution, error) {
	var out *entity.Resolution
	err := r.a.read(func(st *state) error {
		res, ok := st.resolutions[disputeID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &res
		return nil
	})
	return out, err
}

type eventRepo struct {
	a access
}

func (r *eventRepo) Add(ctx context.Context, e *entity.DomainEvent) error {
	return r.a.write(func(st *state) error {
		st.events = append(st.events, *e)
		return nil
	})
}

func (r *eventRepo) ListUndelivered(ctx context.Context, limit int) ([]*entity.DomainEvent, error) {
	var out []*entity.DomainEvent
	_ = r.a.read(func(st *state) error {
		for _, e := range st.events {
			if e.DeliveredAt != nil {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return page(out, limit, 0), nil
}

func (r *eventRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.a.write(func(st *state) error {
		for i := range st.events {
			if st.events[i].ID == id {
				st.events[i].DeliveredAt = &at
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *eventRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.a.write(func(st *state) error {
		for i := range st.events {
			if st.events[i].ID == id {
				st.events[i].Attempts++
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

type auditRepo struct {
	a access
}

func (r *auditRepo) Add(ctx context.Context, e *entity.AuditEntry) error {
	return r.a.write(func(st *state) error {
		st.audit[e.OrderID] = append(st.audit[e.OrderID], *e)
		return nil
	})
}

func (r *auditRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.AuditEntry, error) {
	var out []*entity.AuditEntry
	_ = r.a.read(func(st *state) error {
		for _, e := range st.audit[orderID] {
			out = append(out, &e)
		}
		return nil
	})
	return out, nil
}
