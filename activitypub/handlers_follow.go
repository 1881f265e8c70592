package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/bookfed/domain"
	"github.com/rs/zerolog/log"
)

func acceptEffect(local, follower *domain.Actor, follow *Activity) Effect {
	return Broadcast{
		Sender:   local,
		Activity: NewAccept(local, follow),
		Privacy:  domain.PrivacyDirect,
		Options:  BroadcastOptions{Direct: []*domain.Actor{follower}},
	}
}

// Follow records a follow request against a local actor, approving it right
// away unless the actor approves followers manually.
func (h *Handlers) Follow(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	target, err := h.localActor(ctx, activity.ObjectID())
	if err != nil {
		return nil, err
	}

	blocked, err := h.db.IsBlocked(ctx, actor.Id, target.Id)
	if err != nil {
		return nil, err
	}
	if blocked {
		log.Debug().Str("actor", actor.ActorURI).Str("target", target.ActorURI).Msg("Inbox: ignoring Follow between blocked actors")
		return nil, nil
	}

	// Already following: the remote side probably missed our Accept.
	_, err = h.db.ReadFollowByPair(ctx, actor.Id, target.Id)
	if err == nil {
		return []Effect{acceptEffect(target, actor, activity)}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	fr := &domain.FollowRequest{
		URI:       activityID(activity, actor, "follows"),
		SubjectId: actor.Id,
		ObjectId:  target.Id,
	}
	created, err := h.db.CreateFollowRequest(ctx, fr)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	if target.ManuallyApprovesFollowers {
		return []Effect{Notify{Notification: domain.Notification{
			UserId:         target.Id,
			Kind:           domain.NotifyFollowRequest,
			RelatedActorId: actor.Id,
		}}}, nil
	}

	if _, err := h.db.ApproveFollowRequest(ctx, fr); err != nil {
		return nil, err
	}
	log.Info().Str("follower", actor.ActorURI).Str("target", target.ActorURI).Msg("Inbox: follow approved")
	return []Effect{
		acceptEffect(target, actor, activity),
		Notify{Notification: domain.Notification{
			UserId:         target.Id,
			Kind:           domain.NotifyFollow,
			RelatedActorId: actor.Id,
		}},
	}, nil
}

// pendingRequest finds the follow request answered by an Accept or Reject
// from actor, by the follow's id first and by the actor pair second.
func (h *Handlers) pendingRequest(ctx context.Context, activity *Activity, actor *domain.Actor) (*domain.FollowRequest, *domain.Actor, error) {
	if followID := activity.ObjectID(); followID != "" {
		fr, err := h.db.ReadFollowRequestByURI(ctx, followID)
		if err == nil {
			if fr.ObjectId != actor.Id {
				return nil, nil, fmt.Errorf("follow %s was not sent to %s: %w", followID, actor.ActorURI, domain.ErrNotFound)
			}
			subject, err := h.db.ReadActorById(ctx, fr.SubjectId)
			return fr, subject, err
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, nil, err
		}
	}

	inner, err := innerActivity(activity)
	if err != nil {
		return nil, nil, err
	}
	subject, err := h.localActor(ctx, inner.Actor)
	if err != nil {
		return nil, nil, err
	}
	fr, err := h.db.ReadFollowRequestByPair(ctx, subject.Id, actor.Id)
	return fr, subject, err
}

// Accept turns our pending follow request into a follow.
func (h *Handlers) Accept(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	fr, subject, err := h.pendingRequest(ctx, activity, actor)
	if err == nil {
		if _, err := h.db.ApproveFollowRequest(ctx, fr); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Info().Str("target", actor.ActorURI).Msg("Inbox: follow accepted")
		return nil, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || subject == nil {
		return nil, err
	}

	if _, ferr := h.db.ReadFollowByPair(ctx, subject.Id, actor.Id); ferr == nil {
		return nil, nil
	}
	return nil, err
}

// Reject drops our pending follow request.
func (h *Handlers) Reject(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	fr, subject, err := h.pendingRequest(ctx, activity, actor)
	if errors.Is(err, domain.ErrNotFound) && subject != nil {
		log.Debug().Str("target", actor.ActorURI).Msg("Inbox: no pending request to reject")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := h.db.DeleteFollowRequestByPair(ctx, fr.SubjectId, fr.ObjectId); err != nil {
		return nil, err
	}
	log.Info().Str("target", actor.ActorURI).Msg("Inbox: follow rejected")
	return nil, nil
}

// UndoFollow removes the follow, or the still pending request, of actor.
func (h *Handlers) UndoFollow(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	inner, err := innerActivity(activity)
	if err != nil {
		return nil, err
	}
	if inner.Actor != actor.ActorURI {
		log.Debug().Str("actor", actor.ActorURI).Str("follower", inner.Actor).Msg("Inbox: ignoring Undo of someone else's Follow")
		return nil, nil
	}
	target, err := h.localActor(ctx, inner.ObjectID())
	if err != nil {
		return nil, err
	}

	removedFollow, err := h.db.DeleteFollowByPair(ctx, actor.Id, target.Id)
	if err != nil {
		return nil, err
	}
	removedRequest, err := h.db.DeleteFollowRequestByPair(ctx, actor.Id, target.Id)
	if err != nil {
		return nil, err
	}
	if !removedFollow && !removedRequest {
		log.Debug().Str("follower", actor.ActorURI).Str("target", target.ActorURI).Msg("Inbox: follow already undone")
	}
	return nil, nil
}
