package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/bookfed/domain"
)

// ResolveBook returns the stored Edition or Work with the given URI, fetching
// it from its origin when unknown. Fetched copies are created with Sync set so
// the origin can keep them current through Update activities.
func (r *Resolver) ResolveBook(ctx context.Context, uri string) (*domain.Book, error) {
	book, err := r.db.ReadBookByURI(ctx, uri)
	if err == nil {
		return book, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var doc BookDocument
	if err := r.getJSON(ctx, uri, ContentTypeActivityJSON, &doc); err != nil {
		return nil, fmt.Errorf("resolve book %s: %w", uri, err)
	}
	if doc.ID != uri {
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrActorIdentityMismatch, uri, doc.ID)
	}
	bookType := domain.BookType(doc.Type)
	if bookType != domain.BookEdition && bookType != domain.BookWork {
		return nil, fmt.Errorf("%w: %s is a %q, not a book", ErrUnsupportedActivity, uri, doc.Type)
	}

	return r.db.CreateBook(ctx, &domain.Book{
		URI:         doc.ID,
		Type:        bookType,
		Title:       doc.Title,
		Subtitle:    doc.Subtitle,
		Description: doc.Description,
		Isbn13:      doc.Isbn13,
		Sync:        true,
	})
}

// ResolveShelf returns the stored shelf with the given URI, fetching it from
// its origin when unknown. A fetched shelf must be owned by owner.
func (r *Resolver) ResolveShelf(ctx context.Context, uri string, owner *domain.Actor) (*domain.Shelf, error) {
	shelf, err := r.db.ReadShelfByURI(ctx, uri)
	if err == nil {
		return shelf, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || owner.Local {
		return nil, err
	}

	var doc ShelfDocument
	if err := r.getJSON(ctx, uri, ContentTypeActivityJSON, &doc); err != nil {
		return nil, fmt.Errorf("resolve shelf %s: %w", uri, err)
	}
	if doc.ID != uri {
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrActorIdentityMismatch, uri, doc.ID)
	}
	if doc.Owner != owner.ActorURI {
		return nil, fmt.Errorf("shelf %s is not owned by %s: %w", uri, owner.ActorURI, domain.ErrNotFound)
	}

	shelf = &domain.Shelf{
		URI:        doc.ID,
		ActorId:    owner.Id,
		Name:       doc.Name,
		Identifier: extractUsername(doc.ID),
	}
	if _, err := r.db.CreateShelf(ctx, shelf); err != nil {
		return nil, err
	}
	return r.db.ReadShelfByURI(ctx, uri)
}
