package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

type Redeliverer interface {
	Redeliver(ctx context.Context, job models.RetryJob) error
}

// Scheduler polls the retry store for due jobs and hands them to a bounded
// set of goroutines.
type Scheduler struct {
	store      storage.RetryStore
	dispatcher Redeliverer
	workers    int
	batch      int
	pollRate   time.Duration
	lease      time.Duration
	now        func() time.Time
	log        zerolog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewScheduler(cfg config.DeliveryConfig, store storage.RetryStore, dispatcher Redeliverer, log zerolog.Logger) *Scheduler {
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	batch := cfg.Retry.BatchSize
	if batch <= 0 {
		batch = 50
	}
	pollRate := cfg.Retry.PollInterval
	if pollRate <= 0 {
		pollRate = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		workers:    workers,
		batch:      batch,
		pollRate:   pollRate,
		lease:      2 * timeout,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
		stop:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().
		Int("workers", s.workers).
		Dur("poll_interval", s.pollRate).
		Msg("starting retry scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info().Msg("stopping retry scheduler")
		close(s.stop)
	})
	s.wg.Wait()
	s.log.Info().Msg("retry scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce claims the jobs due now and waits for all of them to finish. Jobs
// left in sent by a worker that died are picked up again once their claim
// lease (twice the send timeout) has passed. It returns the number of jobs
// processed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	jobs, err := s.store.ClaimDueRetryJobs(ctx, s.now(), s.lease, s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to claim due retries")
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.dispatcher.Redeliver(ctx, job); err != nil {
				s.log.Error().Err(err).Str("retry_id", job.ID).Msg("retry failed")
			}
		}()
	}
	wg.Wait()
	return len(jobs)
}
