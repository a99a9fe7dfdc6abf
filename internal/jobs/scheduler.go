package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pengadaan/api/internal/tasks"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, values map[string]any) (string, error)
}

// Scheduler periodically asks the worker to persist overdue expiries.
type Scheduler struct {
	cron     *cron.Cron
	queue    Enqueuer
	schedule string
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(queue Enqueuer, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		queue:    queue,
		schedule: schedule,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueExpiry); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("housekeeping scheduler started")
	return nil
}

// Stop halts the cron and waits up to five seconds for a running job.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("housekeeping job still running at shutdown")
	}
}

func (s *Scheduler) enqueueExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := s.queue.Enqueue(ctx, map[string]any{
		"type":        tasks.TypeExpirePermissions,
		"requestedAt": s.now().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("enqueue expiry sweep failed")
		return
	}
	s.log.Debug().Str("message_id", id).Msg("expiry sweep enqueued")
}
