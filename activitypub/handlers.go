package activitypub

import (
	"context"
	"fmt"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
)

// Handlers holds the inbound activity handlers. Referential misses are
// returned as errors wrapping domain.ErrNotFound, which the job worker drops.
type Handlers struct {
	db       *db.DB
	resolver *Resolver
}

func NewHandlers(database *db.DB, resolver *Resolver) *Handlers {
	return &Handlers{db: database, resolver: resolver}
}

// localActor returns the active local actor with the given URI.
func (h *Handlers) localActor(ctx context.Context, uri string) (*domain.Actor, error) {
	a, err := h.db.ReadActorByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("local actor %s: %w", uri, err)
	}
	if !a.Local || !a.Active {
		return nil, fmt.Errorf("local actor %s: %w", uri, domain.ErrNotFound)
	}
	return a, nil
}

// innerActivity decodes the activity embedded in an Accept, Reject or Undo.
func innerActivity(activity *Activity) (*Activity, error) {
	if !isJSONObject(activity.Object) {
		return nil, jobs.Permanent(fmt.Errorf("%w: %s without embedded activity", ErrInvalidActivity, activity.Type))
	}
	inner, err := ParseActivity(activity.Object)
	if err != nil {
		return nil, jobs.Permanent(err)
	}
	return inner, nil
}

// activityID returns the activity's id, minting one for senders that omit it.
func activityID(activity *Activity, actor *domain.Actor, kind string) string {
	if activity.ID != "" {
		return activity.ID
	}
	return newID(actor, kind)
}

// notifyOwner notifies the author of status about actor's action when the author is local.
func (h *Handlers) notifyOwner(ctx context.Context, status *domain.Status, actor *domain.Actor, kind domain.NotificationKind) ([]Effect, error) {
	owner, err := h.db.ReadActorById(ctx, status.ActorId)
	if err != nil {
		return nil, err
	}
	if !owner.Local || owner.Id == actor.Id {
		return nil, nil
	}
	return []Effect{Notify{Notification: domain.Notification{
		UserId:          owner.Id,
		Kind:            kind,
		RelatedActorId:  actor.Id,
		RelatedStatusId: status.Id,
	}}}, nil
}

// unnotifyOwner is the inverse of notifyOwner.
func (h *Handlers) unnotifyOwner(ctx context.Context, status *domain.Status, actor *domain.Actor, kind domain.NotificationKind) ([]Effect, error) {
	effects, err := h.notifyOwner(ctx, status, actor, kind)
	if err != nil || len(effects) == 0 {
		return nil, err
	}
	return []Effect{Unnotify{Notification: effects[0].(Notify).Notification}}, nil
}
