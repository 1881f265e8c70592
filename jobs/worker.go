package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Handler runs one job. Returning an error reschedules the job unless the
// error is permanent or wraps domain.ErrNotFound.
type Handler func(ctx context.Context, payload []byte) error

const MaxAttempts = 10

// retrySchedule is indexed by the number of failed attempts so far, minus one.
var retrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

// RetryDelay returns the wait before the next attempt after the given number of failures.
func RetryDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	return retrySchedule[min(failures-1, len(retrySchedule)-1)]
}

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookfed_jobs_processed_total",
	Help: "Jobs processed by name and result.",
}, []string{"name", "result"})

type Options struct {
	Workers      int
	PollInterval time.Duration
	// Lease is how long a claimed job is hidden from other pollers.
	Lease time.Duration
}

// Worker polls the store and runs due jobs on a bounded pool.
type Worker struct {
	store    Store
	opts     Options
	clock    func() time.Time
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(store Store, opts Options) *Worker {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	return &Worker{
		store:    store,
		opts:     opts,
		clock:    time.Now,
		handlers: make(map[string]Handler),
	}
}

func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

func (w *Worker) Register(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Start polls until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("workers", w.opts.Workers).Dur("poll_interval", w.opts.PollInterval).Msg("Worker: starting")

	ticker := time.NewTicker(w.opts.PollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Worker: stopped")
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce claims the jobs that are due and runs them to completion. It
// returns the number of jobs it processed.
func (w *Worker) RunOnce(ctx context.Context) int {
	jobs, err := w.store.ClaimJobs(ctx, w.clock(), w.opts.Lease, w.opts.Workers*4)
	if err != nil {
		log.Error().Err(err).Msg("Worker: failed to claim jobs")
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}
	log.Debug().Int("count", len(jobs)).Msg("Worker: processing jobs")

	sem := make(chan struct{}, w.opts.Workers)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			w.process(ctx, &job)
		}()
	}
	wg.Wait()
	return len(jobs)
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	logger := log.With().Str("job", job.Name).Str("job_id", job.Id.String()).Logger()

	h, ok := w.handler(job.Name)
	if !ok {
		logger.Error().Msg("Worker: no handler registered, dropping job")
		w.finish(ctx, job, "unknown")
		return
	}

	err := w.run(ctx, h, job)
	switch {
	case err == nil:
		w.finish(ctx, job, "success")
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug().Err(err).Msg("Worker: referenced record missing, dropping job")
		w.finish(ctx, job, "dropped")
	case IsPermanent(err):
		logger.Warn().Err(err).Msg("Worker: permanent failure, dropping job")
		w.finish(ctx, job, "dropped")
	default:
		failures := job.Attempts + 1
		if failures >= MaxAttempts {
			logger.Error().Err(err).Int("attempts", failures).Msg("Worker: giving up")
			w.finish(ctx, job, "gave_up")
			return
		}
		delay := RetryDelay(failures)
		logger.Warn().Err(err).Int("attempts", failures).Dur("retry_in", delay).Msg("Worker: job failed")
		jobsProcessed.WithLabelValues(job.Name, "retry").Inc()
		if err := w.store.RescheduleJob(ctx, job.Id, w.clock().Add(delay)); err != nil {
			logger.Error().Err(err).Msg("Worker: failed to reschedule job")
		}
	}
}

// run calls h, turning a panic into a permanent error.
func (w *Worker) run(ctx context.Context, h Handler, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job", job.Name).Msg("Worker: handler panicked")
			err = Permanent(errors.New("handler panicked"))
		}
	}()
	return h(ctx, job.Payload)
}

func (w *Worker) finish(ctx context.Context, job *domain.Job, result string) {
	jobsProcessed.WithLabelValues(job.Name, result).Inc()
	if err := w.store.DeleteJob(ctx, job.Id); err != nil {
		log.Error().Err(err).Str("job_id", job.Id.String()).Msg("Worker: failed to delete job")
	}
}
