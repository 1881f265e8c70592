// Package backoff tracks the health of remote servers and decides when
// outbound deliveries to a server should be skipped.
//
// State lives in a cache.Store so that several processes share it. A failure
// creates or extends an Entry; a success deletes it. Entries reset themselves
// once more than ResetWindow has passed since the first failure.
//
// Outcomes are also counted in a Stats window that survives success. A
// window starts with its first observation and is replaced by a fresh one
// once StatsWindow has passed.
package backoff

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/deemkeen/bookfed/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

const (
	Base        = 2
	MaxBackoff  = 300 * time.Second
	ResetWindow = 3600 * time.Second
	StatsWindow = 24 * time.Hour
	StatsTTL    = StatsWindow
)

// Error types recorded with failures.
const (
	ErrTypeTimeout    = "timeout"
	ErrTypeConnection = "connection"
	ErrTypeHTTPStatus = "http_status"
)

type Health string

const (
	Healthy     Health = "healthy"
	Degraded    Health = "degraded"
	Unavailable Health = "unavailable"
)

const (
	unavailableBelow = 0.3
	degradedBelow    = 0.7
)

var (
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfed_connector_failures_total",
		Help: "Outbound connector failures by error type.",
	}, []string{"error_type"})
	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookfed_connector_skipped_total",
		Help: "Deliveries skipped because the remote server is backing off.",
	})
)

// Entry is the backoff state of one connector.
type Entry struct {
	FailureCount   int       `json:"failure_count"`
	FirstFailureAt time.Time `json:"first_failure_at"`
	LastFailureAt  time.Time `json:"last_failure_at"`
	NextRetryAt    time.Time `json:"next_retry_at"`
	LastErrorType  string    `json:"last_error_type"`
}

// Stats counts the outcomes for one connector since WindowStart.
type Stats struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	WindowStart  time.Time `json:"window_start"`
	LastUpdated  time.Time `json:"last_updated"`
}

// SuccessRate returns the share of successful calls, or 1 when nothing was recorded.
func (s *Stats) SuccessRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(total)
}

// Delay returns the wait after the given number of consecutive failures.
func Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	seconds := math.Pow(Base, float64(failures-1))
	if seconds >= MaxBackoff.Seconds() {
		return MaxBackoff
	}
	return time.Duration(seconds) * time.Second
}

// Tracker is the only writer of backoff state.
type Tracker struct {
	store cache.Store
	clock func() time.Time
}

func NewTracker(store cache.Store) *Tracker {
	return &Tracker{store: store, clock: time.Now}
}

func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

func backoffKey(id string) string { return "backoff:" + id }
func statsKey(id string) string   { return "stats:" + id }

func (t *Tracker) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.FirstFailureAt) > ResetWindow
}

func stale(s *Stats, now time.Time) bool {
	return now.Sub(s.WindowStart) >= StatsWindow
}

func (t *Tracker) readEntry(ctx context.Context, id string) (*Entry, error) {
	raw, err := t.store.Get(ctx, backoffKey(id))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ShouldSkip reports whether calls to the connector are currently backing
// off. Store errors fail open.
func (t *Tracker) ShouldSkip(ctx context.Context, id string) bool {
	e, err := t.readEntry(ctx, id)
	if errors.Is(err, cache.ErrMiss) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("connector", id).Msg("Backoff: failed to read state, not skipping")
		return false
	}

	now := t.clock()
	if t.expired(e, now) {
		if err := t.store.Delete(ctx, backoffKey(id)); err != nil {
			log.Warn().Err(err).Str("connector", id).Msg("Backoff: failed to reset expired state")
		}
		log.Debug().Str("connector", id).Msg("Backoff: reset window passed, state cleared")
		return false
	}
	if now.Before(e.NextRetryAt) {
		skippedTotal.Inc()
		return true
	}
	return false
}

// RecordFailure counts a failed call and pushes the next retry further out.
func (t *Tracker) RecordFailure(ctx context.Context, id, errType string, latency time.Duration) error {
	now := t.clock()
	failuresTotal.WithLabelValues(errType).Inc()

	var updated Entry
	err := t.store.Update(ctx, backoffKey(id), ResetWindow, func(current []byte, found bool) ([]byte, error) {
		var e Entry
		if found {
			if err := json.Unmarshal(current, &e); err != nil {
				return nil, err
			}
		}
		if !found || t.expired(&e, now) {
			e = Entry{FirstFailureAt: now}
		}
		e.FailureCount++
		e.LastFailureAt = now
		e.LastErrorType = errType
		e.NextRetryAt = now.Add(Delay(e.FailureCount))
		updated = e
		return json.Marshal(e)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("connector", id).
		Str("error_type", errType).
		Int("failures", updated.FailureCount).
		Time("next_retry_at", updated.NextRetryAt).
		Msg("Backoff: recorded failure")
	return t.observe(ctx, id, false, latency, now)
}

// RecordSuccess clears the backoff state of the connector.
func (t *Tracker) RecordSuccess(ctx context.Context, id string, latency time.Duration) error {
	if err := t.store.Delete(ctx, backoffKey(id)); err != nil {
		return err
	}
	return t.observe(ctx, id, true, latency, t.clock())
}

func (t *Tracker) observe(ctx context.Context, id string, success bool, latency time.Duration, now time.Time) error {
	return t.store.Update(ctx, statsKey(id), StatsTTL, func(current []byte, found bool) ([]byte, error) {
		var s Stats
		if found {
			if err := json.Unmarshal(current, &s); err != nil {
				return nil, err
			}
		}
		if !found || stale(&s, now) {
			s = Stats{WindowStart: now}
		}
		prev := s.SuccessCount + s.FailureCount
		if success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		ms := float64(latency) / float64(time.Millisecond)
		s.AvgLatencyMs = (s.AvgLatencyMs*float64(prev) + ms) / float64(prev+1)
		s.LastUpdated = now
		return json.Marshal(s)
	})
}

// HealthStatus summarises the connector: unavailable while backing off or
// below a 30% success rate, degraded below 70%. It only reads state.
func (t *Tracker) HealthStatus(ctx context.Context, id string) Health {
	now := t.clock()
	e, err := t.readEntry(ctx, id)
	switch {
	case err == nil:
		if !t.expired(e, now) && now.Before(e.NextRetryAt) {
			return Unavailable
		}
	case !errors.Is(err, cache.ErrMiss):
		log.Warn().Err(err).Str("connector", id).Msg("Backoff: failed to read state")
	}

	stats, err := t.readStats(ctx, id)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Str("connector", id).Msg("Backoff: failed to read stats")
		}
		return Healthy
	}
	if stale(stats, now) {
		return Healthy
	}
	switch rate := stats.SuccessRate(); {
	case rate < unavailableBelow:
		return Unavailable
	case rate < degradedBelow:
		return Degraded
	}
	return Healthy
}

func (t *Tracker) readStats(ctx context.Context, id string) (*Stats, error) {
	raw, err := t.store.Get(ctx, statsKey(id))
	if err != nil {
		return nil, err
	}
	var s Stats
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Snapshot returns the raw state of the connector. Either value is nil when
// absent; stats of a finished window count as absent.
func (t *Tracker) Snapshot(ctx context.Context, id string) (*Entry, *Stats, error) {
	e, err := t.readEntry(ctx, id)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return nil, nil, err
	}
	s, err := t.readStats(ctx, id)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return e, nil, err
	}
	if s != nil && stale(s, t.clock()) {
		s = nil
	}
	return e, s, nil
}
