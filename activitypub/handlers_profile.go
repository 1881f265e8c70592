package activitypub

import (
	"context"
	"fmt"

	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

// UpdatePerson overwrites the profile of a remote actor. Last write wins.
func (h *Handlers) UpdatePerson(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	if actor.Local {
		return nil, nil
	}
	var doc Person
	if err := activity.DecodeObject(&doc); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("decode person: %w", err))
	}
	if doc.ID != actor.ActorURI {
		log.Debug().Str("object", doc.ID).Str("actor", actor.ActorURI).Msg("Inbox: ignoring Update of another actor")
		return nil, nil
	}
	if doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, jobs.Permanent(fmt.Errorf("%w: profile of %s missing inbox or key", ErrInvalidActivity, doc.ID))
	}

	wasBookwyrm := actor.BookwyrmUser
	updated, err := h.resolver.Store(ctx, actor, &doc)
	if err != nil {
		return nil, err
	}
	if !wasBookwyrm && updated.BookwyrmUser && updated.OutboxURI != "" {
		return []Effect{ImportOutbox{ActorURI: updated.ActorURI}}, nil
	}
	return nil, nil
}
