package scheduler

import (
	"context"
)

// Имена задач, они же значения метки job в метриках.
const (
	JobOverdue        = "order-overdue"
	JobAutoResolve    = "dispute-auto-resolve"
	JobMediation      = "dispute-mediation-timeout"
	JobReconcile      = "ledger-reconcile"
	JobOutboxDispatch = "outbox-dispatch"
)

// OrderSweeper — операции заказов, которые выполняет планировщик.
type OrderSweeper interface {
	FlagOverdue(ctx context.Context, limit int) (int, error)
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

// DisputeSweeper — операции споров по истечении сроков.
type DisputeSweeper interface {
	AutoResolveExpired(ctx context.Context, limit int) (int, error)
	ForceExpiredMediations(ctx context.Context, limit int) (int, error)
}

// OutboxDispatcher доставляет накопившиеся события.
type OutboxDispatcher interface {
	DispatchPending(ctx context.Context) (int, error)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) (int, error)
}

func (j funcJob) Name() string { return j.name }

func (j funcJob) Run(ctx context.Context) (int, error) { return j.run(ctx) }

// NewJob оборачивает функцию в задачу.
func NewJob(name string, run func(ctx context.Context) (int, error)) Job {
	return funcJob{name: name, run: run}
}

// DefaultJobs собирает задачи движка: просрочка, авторешение, таймаут медиации,
// сверка с провайдером и доставка outbox. batch ограничивает выборку за один цикл.
func DefaultJobs(orders OrderSweeper, disputes DisputeSweeper, outbox OutboxDispatcher, batch int) []Job {
	if batch <= 0 {
		batch = 100
	}
	jobs := []Job{
		NewJob(JobOverdue, func(ctx context.Context) (int, error) {
			return orders.FlagOverdue(ctx, batch)
		}),
		NewJob(JobAutoResolve, func(ctx context.Context) (int, error) {
			return disputes.AutoResolveExpired(ctx, batch)
		}),
		NewJob(JobMediation, func(ctx context.Context) (int, error) {
			return disputes.ForceExpiredMediations(ctx, batch)
		}),
		NewJob(JobReconcile, func(ctx context.Context) (int, error) {
			return orders.ReconcilePending(ctx, batch)
		}),
	}
	if outbox != nil {
		jobs = append(jobs, NewJob(JobOutboxDispatch, outbox.DispatchPending))
	}
	return jobs
}
