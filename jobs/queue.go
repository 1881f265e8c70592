// Package jobs is a small persisted job queue with at-least-once execution.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

// Job names.
const (
	InboxActivity     = "inbox.activity"
	OutboxDeliver     = "outbox.deliver"
	ActorImportOutbox = "actor.import_outbox"
)

// Enqueuer schedules background work. Payloads are marshaled to JSON.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// Store persists jobs. *db.DB implements it.
type Store interface {
	EnqueueJob(ctx context.Context, job *domain.Job, runAt time.Time) error
	ClaimJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Job, error)
	RescheduleJob(ctx context.Context, id uuid.UUID, runAt time.Time) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

type Queue struct {
	store Store
	clock func() time.Time
}

func NewQueue(store Store) *Queue {
	return &Queue{store: store, clock: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}
	job := &domain.Job{Name: name, Payload: raw}
	if err := q.store.EnqueueJob(ctx, job, q.clock()); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job.Id.String(), nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
