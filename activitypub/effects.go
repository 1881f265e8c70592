package activitypub

import (
	"context"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

// Effect is a side effect a handler asks for after its store mutation.
type Effect interface {
	effect() string
}

// Notify creates a notification for a local user.
type Notify struct {
	Notification domain.Notification
}

// Unnotify removes a notification created by an activity that was undone.
type Unnotify struct {
	Notification domain.Notification
}

// Broadcast sends an activity on behalf of a local actor.
type Broadcast struct {
	Sender   *domain.Actor
	Activity *Activity
	Privacy  domain.Privacy
	Options  BroadcastOptions
}

// ImportOutbox schedules an import of a remote actor's recent statuses.
type ImportOutbox struct {
	ActorURI string
}

func (Notify) effect() string       { return "notify" }
func (Unnotify) effect() string     { return "unnotify" }
func (Broadcast) effect() string    { return "broadcast" }
func (ImportOutbox) effect() string { return "import_outbox" }

// EffectRunner applies the effects returned by handlers, in order.
type EffectRunner struct {
	db          *db.DB
	broadcaster *Broadcaster
	jobs        jobs.Enqueuer
}

func NewEffectRunner(database *db.DB, broadcaster *Broadcaster, enqueuer jobs.Enqueuer) *EffectRunner {
	return &EffectRunner{db: database, broadcaster: broadcaster, jobs: enqueuer}
}

// Run applies every effect. A failing effect is logged and does not stop the rest.
func (r *EffectRunner) Run(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		if err := r.apply(ctx, e); err != nil {
			log.Error().Err(err).Str("effect", e.effect()).Msg("Inbox: failed to apply effect")
		}
	}
}

func (r *EffectRunner) apply(ctx context.Context, e Effect) error {
	switch e := e.(type) {
	case Notify:
		n := e.Notification
		_, err := r.db.CreateNotification(ctx, &n)
		return err
	case Unnotify:
		n := e.Notification
		_, err := r.db.DeleteNotification(ctx, &n)
		return err
	case Broadcast:
		_, err := r.broadcaster.Broadcast(ctx, e.Sender, e.Activity, e.Privacy, e.Options)
		return err
	case ImportOutbox:
		_, err := r.jobs.Enqueue(ctx, jobs.ActorImportOutbox, ImportOutboxPayload{ActorURI: e.ActorURI})
		return err
	}
	return nil
}
