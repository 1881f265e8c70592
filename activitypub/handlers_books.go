package activitypub

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

// AddTag records that a remote actor tagged a book.
func (h *Handlers) AddTag(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	if actor.Local {
		return nil, nil
	}
	var tag TagObject
	if err := activity.DecodeObject(&tag); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("decode tag: %w", err))
	}
	name := strings.TrimSpace(tag.Name)
	bookURI := activity.TargetID()
	if name == "" || bookURI == "" {
		return nil, jobs.Permanent(fmt.Errorf("%w: tag without name or book", ErrInvalidActivity))
	}

	book, err := h.resolver.ResolveBook(ctx, bookURI)
	if err != nil {
		return nil, err
	}
	stored, err := h.db.GetOrCreateTag(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := h.db.AddUserTag(ctx, actor.Id, book.Id, stored.Id); err != nil {
		return nil, err
	}
	return nil, nil
}

// AddBook puts a book on one of the actor's shelves.
func (h *Handlers) AddBook(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	shelfURI := activity.TargetID()
	if shelfURI == "" {
		return nil, jobs.Permanent(fmt.Errorf("%w: Add without target", ErrInvalidActivity))
	}
	shelf, err := h.resolver.ResolveShelf(ctx, shelfURI, actor)
	if err != nil {
		return nil, err
	}
	if shelf.ActorId != actor.Id {
		log.Debug().Str("shelf", shelfURI).Str("actor", actor.ActorURI).Msg("Inbox: ignoring Add to another actor's shelf")
		return nil, nil
	}

	book, err := h.resolver.ResolveBook(ctx, activity.ObjectID())
	if err != nil {
		return nil, err
	}
	if _, err := h.db.AddBookToShelf(ctx, shelf, book.Id); err != nil {
		return nil, err
	}
	return nil, nil
}

// UpdateBook overwrites a synced remote book with the origin's copy. Only the
// server the book lives on may update it.
func (h *Handlers) UpdateBook(ctx context.Context, activity *Activity, actor *domain.Actor) ([]Effect, error) {
	var doc BookDocument
	if err := activity.DecodeObject(&doc); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("decode book: %w", err))
	}
	book, err := h.db.ReadBookByURI(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("updated book: %w", err)
	}
	if !book.Sync {
		return nil, nil
	}
	origin, err := extractDomain(book.URI)
	if err != nil || origin != actor.Domain {
		log.Debug().Str("book", book.URI).Str("actor", actor.ActorURI).Msg("Inbox: ignoring book Update from outside its origin")
		return nil, nil
	}

	book.Title = doc.Title
	book.Subtitle = doc.Subtitle
	book.Description = doc.Description
	book.Isbn13 = doc.Isbn13
	return nil, h.db.UpdateBook(ctx, book)
}
