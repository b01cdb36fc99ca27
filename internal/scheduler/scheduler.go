// Package scheduler периодически обрабатывает истёкшие сроки заказов и споров.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/lock"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/metrics"
)

const defaultInterval = time.Minute

type Params struct {
	Registry *Registry
	Locker   lock.Locker
	Metrics  *metrics.SchedulerMetrics
	Interval time.Duration
}

// Service запускает задачи по таймеру. Цикл выполняет только экземпляр,
// получивший блокировку планировщика.
type Service struct {
	registry *Registry
	locker   lock.Locker
	metrics  *metrics.SchedulerMetrics
	interval time.Duration
}

func NewService(p Params) (*Service, error) {
	if p.Locker == nil {
		return nil, errors.New("scheduler: locker required")
	}
	registry := p.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		registry: registry,
		locker:   p.Locker,
		metrics:  p.Metrics,
		interval: interval,
	}, nil
}

// Run выполняет цикл сразу и затем с заданным интервалом до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("планировщик остановлен")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle выполняет все задачи один раз. Возвращает false, если блокировку держит другой экземпляр.
func (s *Service) RunCycle(ctx context.Context) bool {
	release, ok, err := s.locker.TryAcquire(ctx, lock.SchedulerKey)
	if err != nil {
		logger.Log.WithError(err).Error("планировщик: не удалось получить блокировку")
		return false
	}
	if !ok {
		logger.Log.Debug("планировщик: цикл выполняет другой экземпляр")
		return false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Log.WithError(err).Warn("планировщик: не удалось освободить блокировку")
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		s.runJob(ctx, job)
	}
	return true
}

func (s *Service) runJob(ctx context.Context, job Job) {
	log := logger.Log.WithFields(logrus.Fields{"job": job.Name(), "event": "scheduler.job"})
	start := time.Now()

	var (
		processed int
		err       error
	)
	ok := goroutine.DefaultRecoveryHandler.Run(job.Name(), func() {
		processed, err = job.Run(ctx)
	})
	if !ok {
		err = errors.New("panic")
	}

	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	s.metrics.AddProcessed(job.Name(), processed)
	log = log.WithFields(logrus.Fields{"duration_ms": duration.Milliseconds(), "processed": processed})
	if err != nil {
		s.metrics.IncFailure(job.Name())
		log.WithError(err).Error("задача планировщика завершилась с ошибкой")
		return
	}
	s.metrics.IncSuccess(job.Name())
	if processed > 0 {
		log.Info("задача планировщика выполнена")
	} else {
		log.Debug("задача планировщика выполнена")
	}
}
