package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

var statusTypes = map[string]domain.StatusType{
	"Note":          domain.StatusNote,
	"GeneratedNote": domain.StatusGeneratedNote,
	"Comment":       domain.StatusComment,
	"Quotation":     domain.StatusQuotation,
	"Review":        domain.StatusReview,
}

// Create stores a remote status.
func (h *Handlers) Create(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	if actor.Local {
		return nil, nil
	}
	var note Note
	if err := activity.DecodeObject(&note); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("decode Create object: %w", err))
	}
	if len(note.To) == 0 && len(note.Cc) == 0 {
		note.To, note.Cc = activity.To, activity.Cc
	}
	return h.storeStatus(ctx, actor, &note)
}

// storeStatus persists note as a status of actor. Plain Notes are only kept
// when they reply to a known status.
func (h *Handlers) storeStatus(ctx context.Context, actor *domain.Actor, note *Note) ([]Effect, error) {
	statusType, ok := statusTypes[note.Type]
	if !ok {
		log.Debug().Str("type", note.Type).Msg("Inbox: ignoring unsupported status type")
		return nil, nil
	}
	if note.ID == "" {
		return nil, jobs.Permanent(fmt.Errorf("%w: status without id", ErrInvalidActivity))
	}
	if note.AttributedTo != "" && note.AttributedTo != actor.ActorURI {
		log.Debug().Str("status", note.ID).Str("actor", actor.ActorURI).Msg("Inbox: ignoring status attributed to another actor")
		return nil, nil
	}

	if _, err := h.db.ReadStatusByURI(ctx, note.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var parent *domain.Status
	if note.InReplyTo != "" {
		p, err := h.db.ReadStatusByURI(ctx, note.InReplyTo)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		parent = p
	}

	if statusType == domain.StatusNote && parent == nil {
		log.Debug().Str("status", note.ID).Msg("Inbox: ignoring note without a known parent")
		return nil, nil
	}

	mentions, err := h.mentionedLocalUsers(ctx, note.Tag)
	if err != nil {
		return nil, err
	}

	status := &domain.Status{
		URI:       note.ID,
		ActorId:   actor.Id,
		Type:      statusType,
		Name:      note.Name,
		Content:   note.Content,
		Quote:     note.Quote,
		Rating:    note.Rating,
		Privacy:   privacyFrom(note.To, note.Cc),
		Published: parsePublished(note.Published),
	}
	if parent != nil {
		status.ReplyParentId = parent.Id
	}
	if note.InReplyToBook != "" {
		book, err := h.resolver.ResolveBook(ctx, note.InReplyToBook)
		if err != nil {
			return nil, err
		}
		status.BookId = book.Id
	}

	created, err := h.db.CreateStatus(ctx, status)
	if err != nil || !created {
		return nil, err
	}
	log.Info().Str("status", status.URI).Str("type", string(status.Type)).Msg("Inbox: stored status")

	var effects []Effect
	if parent != nil {
		reply, err := h.notifyOwner(ctx, parent, actor, domain.NotifyReply)
		if err != nil {
			return nil, err
		}
		for _, e := range reply {
			n := e.(Notify)
			n.Notification.RelatedStatusId = status.Id
			effects = append(effects, n)
		}
	}
	for _, m := range mentions {
		if m.Id == actor.Id {
			continue
		}
		effects = append(effects, Notify{Notification: domain.Notification{
			UserId:          m.Id,
			Kind:            domain.NotifyMention,
			RelatedActorId:  actor.Id,
			RelatedStatusId: status.Id,
		}})
	}
	return effects, nil
}

func (h *Handlers) mentionedLocalUsers(ctx context.Context, tags []Link) ([]*domain.Actor, error) {
	var mentioned []*domain.Actor
	seen := make(map[string]bool)
	for _, tag := range tags {
		if tag.Type != "Mention" || tag.Href == "" || seen[tag.Href] {
			continue
		}
		seen[tag.Href] = true
		a, err := h.localActor(ctx, tag.Href)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mentioned = append(mentioned, a)
	}
	return mentioned, nil
}

func parsePublished(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// Delete tombstones a status of actor, or deactivates actor itself.
func (h *Handlers) Delete(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	objectID := activity.ObjectID()

	if objectID == actor.ActorURI {
		if actor.Local {
			return nil, nil
		}
		if err := h.db.DeactivateActor(ctx, actor.Id); err != nil {
			return nil, err
		}
		if err := h.db.DeleteRelationshipsOfActor(ctx, actor.Id); err != nil {
			return nil, err
		}
		h.resolver.Forget(actor.ActorURI)
		log.Info().Str("actor", actor.ActorURI).Msg("Inbox: remote actor deleted")
		return nil, nil
	}

	status, err := h.db.ReadStatusByURI(ctx, objectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if status.ActorId != actor.Id {
		log.Debug().Str("status", objectID).Str("actor", actor.ActorURI).Msg("Inbox: ignoring Delete of another actor's status")
		return nil, nil
	}
	if _, err := h.db.SoftDeleteStatus(ctx, status.Id); err != nil {
		return nil, err
	}
	return nil, nil
}

// Like favorites a known status.
func (h *Handlers) Like(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	status, err := h.db.ReadStatusByURI(ctx, activity.ObjectID())
	if err != nil {
		return nil, fmt.Errorf("liked status: %w", err)
	}
	created, err := h.db.CreateFavorite(ctx, &domain.Favorite{
		URI:      activityID(activity, actor, "likes"),
		ActorId:  actor.Id,
		StatusId: status.Id,
	})
	if err != nil || !created {
		return nil, err
	}
	return h.notifyOwner(ctx, status, actor, domain.NotifyFavorite)
}

// UndoLike removes a favorite and its notification.
func (h *Handlers) UndoLike(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	inner, err := innerActivity(activity)
	if err != nil {
		return nil, err
	}
	if inner.Actor != actor.ActorURI {
		return nil, nil
	}
	status, err := h.db.ReadStatusByURI(ctx, inner.ObjectID())
	if err != nil {
		return nil, fmt.Errorf("unliked status: %w", err)
	}
	removed, err := h.db.DeleteFavoriteByPair(ctx, actor.Id, status.Id)
	if err != nil {
		return nil, err
	}
	if !removed {
		log.Debug().Str("status", status.URI).Str("actor", actor.ActorURI).Msg("Inbox: favorite already undone")
		return nil, nil
	}
	return h.unnotifyOwner(ctx, status, actor, domain.NotifyFavorite)
}

// Announce boosts a known status. Boosts of unknown statuses are ignored.
func (h *Handlers) Announce(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	status, err := h.db.ReadStatusByURI(ctx, activity.ObjectID())
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Str("status", activity.ObjectID()).Msg("Inbox: ignoring boost of unknown status")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	created, err := h.db.CreateBoost(ctx, &domain.Boost{
		URI:      activityID(activity, actor, "boosts"),
		ActorId:  actor.Id,
		StatusId: status.Id,
	})
	if err != nil || !created {
		return nil, err
	}
	return h.notifyOwner(ctx, status, actor, domain.NotifyBoost)
}

// UndoAnnounce removes a boost and its notification.
func (h *Handlers) UndoAnnounce(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	inner, err := innerActivity(activity)
	if err != nil {
		return nil, err
	}
	if inner.Actor != actor.ActorURI {
		return nil, nil
	}
	status, err := h.db.ReadStatusByURI(ctx, inner.ObjectID())
	if err != nil {
		return nil, fmt.Errorf("unboosted status: %w", err)
	}
	removed, err := h.db.DeleteBoostByPair(ctx, actor.Id, status.Id)
	if err != nil {
		return nil, err
	}
	if !removed {
		log.Debug().Str("status", status.URI).Str("actor", actor.ActorURI).Msg("Inbox: boost already undone")
		return nil, nil
	}
	return h.unnotifyOwner(ctx, status, actor, domain.NotifyBoost)
}
