package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outbox applies actions of local users and federates them.
type Outbox struct {
	db          *db.DB
	broadcaster *Broadcaster
}

func NewOutbox(database *db.DB, broadcaster *Broadcaster) *Outbox {
	return &Outbox{db: database, broadcaster: broadcaster}
}

func requireLocal(a *domain.Actor) error {
	if !a.Local {
		return fmt.Errorf("%s is not a local actor", a.ActorURI)
	}
	return nil
}

func (o *Outbox) direct(ctx context.Context, sender *domain.Actor, activity *Activity, to ...*domain.Actor) error {
	_, err := o.broadcaster.Broadcast(ctx, sender, activity, domain.PrivacyDirect, BroadcastOptions{Direct: to})
	return err
}

// Follow asks target to accept local as a follower. Local targets that do
// not approve followers manually are followed right away.
func (o *Outbox) Follow(ctx context.Context, local, target *domain.Actor) (*domain.FollowRequest, error) {
	if err := requireLocal(local); err != nil {
		return nil, err
	}
	blocked, err := o.db.IsBlocked(ctx, local.Id, target.Id)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, fmt.Errorf("cannot follow %s: blocked", target.ActorURI)
	}

	fr := &domain.FollowRequest{URI: newID(local, "follows"), SubjectId: local.Id, ObjectId: target.Id}
	created, err := o.db.CreateFollowRequest(ctx, fr)
	if err != nil {
		return nil, err
	}
	if !created {
		return o.db.ReadFollowRequestByPair(ctx, local.Id, target.Id)
	}

	if target.Local {
		if !target.ManuallyApprovesFollowers {
			if _, err := o.db.ApproveFollowRequest(ctx, fr); err != nil {
				return nil, err
			}
		}
		return fr, nil
	}

	log.Info().Str("follower", local.ActorURI).Str("target", target.ActorURI).Msg("Outbox: sending Follow")
	return fr, o.direct(ctx, local, NewFollow(local, target, fr.URI), target)
}

// Unfollow removes the follow, or pending request, from local to target.
func (o *Outbox) Unfollow(ctx context.Context, local, target *domain.Actor) error {
	if err := requireLocal(local); err != nil {
		return err
	}
	var uri string
	if f, err := o.db.ReadFollowByPair(ctx, local.Id, target.Id); err == nil {
		uri = f.URI
	} else if fr, err := o.db.ReadFollowRequestByPair(ctx, local.Id, target.Id); err == nil {
		uri = fr.URI
	} else {
		return fmt.Errorf("follow %s -> %s: %w", local.ActorURI, target.ActorURI, domain.ErrNotFound)
	}

	if _, err := o.db.DeleteFollowByPair(ctx, local.Id, target.Id); err != nil {
		return err
	}
	if _, err := o.db.DeleteFollowRequestByPair(ctx, local.Id, target.Id); err != nil {
		return err
	}
	if target.Local {
		return nil
	}
	return o.direct(ctx, local, NewUndo(local, NewFollow(local, target, uri)), target)
}

// AcceptFollowRequest approves a pending request from follower.
func (o *Outbox) AcceptFollowRequest(ctx context.Context, local, follower *domain.Actor) error {
	if err := requireLocal(local); err != nil {
		return err
	}
	fr, err := o.db.ReadFollowRequestByPair(ctx, follower.Id, local.Id)
	if err != nil {
		return fmt.Errorf("follow request from %s: %w", follower.ActorURI, err)
	}
	if _, err := o.db.ApproveFollowRequest(ctx, fr); err != nil {
		return err
	}
	if follower.Local {
		return nil
	}
	return o.direct(ctx, local, NewAccept(local, NewFollow(follower, local, fr.URI)), follower)
}

// RejectFollowRequest drops a pending request from follower.
func (o *Outbox) RejectFollowRequest(ctx context.Context, local, follower *domain.Actor) error {
	if err := requireLocal(local); err != nil {
		return err
	}
	fr, err := o.db.ReadFollowRequestByPair(ctx, follower.Id, local.Id)
	if err != nil {
		return fmt.Errorf("follow request from %s: %w", follower.ActorURI, err)
	}
	if _, err := o.db.DeleteFollowRequestByPair(ctx, follower.Id, local.Id); err != nil {
		return err
	}
	if follower.Local {
		return nil
	}
	return o.direct(ctx, local, NewReject(local, NewFollow(follower, local, fr.URI)), follower)
}

// PostOptions carries what a new status refers to.
type PostOptions struct {
	Parent   *domain.Status
	Book     *domain.Book
	Mentions []*domain.Actor
}

// Post stores a new status of author and sends it to its audience.
func (o *Outbox) Post(ctx context.Context, author *domain.Actor, status *domain.Status, opts PostOptions) error {
	if err := requireLocal(author); err != nil {
		return err
	}
	if status.Type == "" {
		status.Type = domain.StatusNote
	}
	if status.Privacy == "" {
		status.Privacy = domain.PrivacyPublic
	}
	if !status.Privacy.Valid() {
		return fmt.Errorf("invalid privacy %q", status.Privacy)
	}
	if status.URI == "" {
		status.URI = fmt.Sprintf("%s/%s/%s", author.ActorURI, strings.ToLower(string(status.Type)), uuid.NewString())
	}
	if status.Published.IsZero() {
		status.Published = time.Now().UTC()
	}
	status.ActorId = author.Id
	status.Local = true
	if opts.Parent != nil {
		status.ReplyParentId = opts.Parent.Id
	}
	if opts.Book != nil {
		status.BookId = opts.Book.Id
	}

	if _, err := o.db.CreateStatus(ctx, status); err != nil {
		return err
	}

	direct := append([]*domain.Actor{}, opts.Mentions...)
	if opts.Parent != nil {
		parentAuthor, err := o.db.ReadActorById(ctx, opts.Parent.ActorId)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if parentAuthor != nil && parentAuthor.Id != author.Id {
			direct = append(direct, parentAuthor)
		}
	}

	note := StatusNote(author, status, opts.Parent, opts.Book, opts.Mentions)
	_, err := o.broadcaster.Broadcast(ctx, author, NewCreate(author, note), status.Privacy, BroadcastOptions{Direct: direct})
	return err
}

// DeleteStatus tombstones a status of author and federates the deletion.
func (o *Outbox) DeleteStatus(ctx context.Context, author *domain.Actor, status *domain.Status) error {
	if err := requireLocal(author); err != nil {
		return err
	}
	if status.ActorId != author.Id {
		return fmt.Errorf("status %s is not owned by %s", status.URI, author.ActorURI)
	}
	deleted, err := o.db.SoftDeleteStatus(ctx, status.Id)
	if err != nil || !deleted {
		return err
	}
	_, err = o.broadcaster.Broadcast(ctx, author, NewDelete(author, status), status.Privacy, BroadcastOptions{})
	return err
}

func (o *Outbox) statusAuthor(ctx context.Context, status *domain.Status) ([]*domain.Actor, error) {
	author, err := o.db.ReadActorById(ctx, status.ActorId)
	if err != nil {
		return nil, err
	}
	return []*domain.Actor{author}, nil
}

// Favorite likes a status and tells its author.
func (o *Outbox) Favorite(ctx context.Context, actor *domain.Actor, status *domain.Status) error {
	if err := requireLocal(actor); err != nil {
		return err
	}
	fav := &domain.Favorite{URI: newID(actor, "likes"), ActorId: actor.Id, StatusId: status.Id}
	created, err := o.db.CreateFavorite(ctx, fav)
	if err != nil || !created {
		return err
	}
	author, err := o.statusAuthor(ctx, status)
	if err != nil {
		return err
	}
	return o.direct(ctx, actor, NewLike(actor, status, fav.URI), author...)
}

// Boost announces a status to the actor's followers and its author.
func (o *Outbox) Boost(ctx context.Context, actor *domain.Actor, status *domain.Status) error {
	if err := requireLocal(actor); err != nil {
		return err
	}
	if status.Privacy != domain.PrivacyPublic && status.Privacy != domain.PrivacyUnlisted {
		return fmt.Errorf("status %s cannot be boosted", status.URI)
	}
	boost := &domain.Boost{URI: newID(actor, "boosts"), ActorId: actor.Id, StatusId: status.Id}
	created, err := o.db.CreateBoost(ctx, boost)
	if err != nil || !created {
		return err
	}
	author, err := o.statusAuthor(ctx, status)
	if err != nil {
		return err
	}
	_, err = o.broadcaster.Broadcast(ctx, actor, NewAnnounce(actor, status, boost.URI), domain.PrivacyPublic, BroadcastOptions{Direct: author})
	return err
}

// Block stops all federation between actor and target.
func (o *Outbox) Block(ctx context.Context, actor, target *domain.Actor) error {
	if err := requireLocal(actor); err != nil {
		return err
	}
	block := &domain.Block{URI: newID(actor, "blocks"), SubjectId: actor.Id, ObjectId: target.Id}
	created, err := o.db.CreateBlock(ctx, block)
	if err != nil || !created || target.Local {
		return err
	}
	_, err = o.broadcaster.Broadcast(ctx, actor, NewBlock(actor, target, block.URI), domain.PrivacyDirect,
		BroadcastOptions{Direct: []*domain.Actor{target}, IgnoreBlocks: true})
	return err
}

// Shelve puts a book on a shelf of actor. Only BookWyrm servers understand
// the resulting Add.
func (o *Outbox) Shelve(ctx context.Context, actor *domain.Actor, shelf *domain.Shelf, book *domain.Book) error {
	if err := requireLocal(actor); err != nil {
		return err
	}
	if shelf.ActorId != actor.Id {
		return fmt.Errorf("shelf %s is not owned by %s", shelf.URI, actor.ActorURI)
	}
	added, err := o.db.AddBookToShelf(ctx, shelf, book.Id)
	if err != nil || !added {
		return err
	}
	doc := BookDocument{
		ID:          book.URI,
		Type:        string(book.Type),
		Title:       book.Title,
		Subtitle:    book.Subtitle,
		Description: book.Description,
		Isbn13:      book.Isbn13,
	}
	_, err = o.broadcaster.Broadcast(ctx, actor, NewAdd(actor, doc, shelf.URI), domain.PrivacyPublic, BroadcastOptions{Software: "bookwyrm"})
	return err
}
