// Package runner fires scheduled tasks when their next_run comes due and
// advances (or retires) their schedule.
package runner

import (
	"context"
	"sync/atomic"
	"time"

	"hivebot/internal/ipc"
	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

// Deliverer hands a fired task's prompt to its tenant.
type Deliverer interface {
	DeliverPrompt(ctx context.Context, t task.Task) error
}

type Config struct {
	Interval time.Duration
	Location *time.Location
}

type Service struct {
	cfg     Config
	store   task.Store
	deliver Deliverer
	log     logx.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

func New(cfg Config, store task.Store, deliver Deliverer, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		deliver: deliver,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("task runner started", logx.Duration("interval", s.cfg.Interval))

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.FireDue(ctx)
			}
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	if !s.running.Load() {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	select {
	case <-s.doneCh:
		s.log.Info("task runner stopped")
	case <-ctx.Done():
	}
}

// FireDue delivers every due active task once and reschedules it.
// Delivery failure leaves next_run untouched so the task retries on the
// next pass.
func (s *Service) FireDue(ctx context.Context) {
	now := s.now()
	due, err := s.store.ListDueTasks(ctx, now)
	if err != nil {
		s.log.Error("cannot list due tasks", logx.Err(err))
		return
	}

	for _, t := range due {
		if err := s.deliver.DeliverPrompt(ctx, t); err != nil {
			s.log.Error("task delivery failed",
				logx.String("task", t.ID), logx.String("group", t.GroupFolder), logx.Err(err))
			continue
		}
		if err := s.reschedule(ctx, t, now); err != nil {
			s.log.Error("cannot reschedule task", logx.String("task", t.ID), logx.Err(err))
		}
	}
}

func (s *Service) reschedule(ctx context.Context, t task.Task, now time.Time) error {
	switch t.ScheduleType {
	case task.ScheduleOnce:
		// One-shots retire after firing; the record stays for inspection.
		t.NextRun = nil
		t.Status = task.StatusPaused
	default:
		at, err := ipc.NextRun(string(t.ScheduleType), t.ScheduleValue, now, s.cfg.Location)
		if err != nil {
			// A stored schedule that no longer parses cannot fire again.
			s.log.Warn("stored schedule no longer valid, pausing task",
				logx.String("task", t.ID), logx.Err(err))
			t.NextRun = nil
			t.Status = task.StatusPaused
		} else {
			t.NextRun = &at
		}
	}

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.log.Debug("task fired",
		logx.String("task", t.ID),
		logx.String("group", t.GroupFolder),
		logx.String("schedule_type", string(t.ScheduleType)))
	return nil
}
