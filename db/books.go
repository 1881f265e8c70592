package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	bookColumns = `id, uri, type, title, subtitle, description, isbn13, sync, updated_at, created_at`

	sqlInsertBook = `INSERT INTO books(` + bookColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING`
	sqlSelectBookByURI = `SELECT ` + bookColumns + ` FROM books WHERE uri = ?`
	sqlUpdateBook      = `UPDATE books SET title = ?, subtitle = ?, description = ?, isbn13 = ?, updated_at = ?
		WHERE id = ?`

	sqlInsertShelf = `INSERT INTO shelves(id, uri, actor_id, name, identifier, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING`
	sqlSelectShelfByURI = `SELECT id, uri, actor_id, name, identifier, created_at FROM shelves WHERE uri = ?`
	sqlInsertShelfBook  = `INSERT INTO shelf_books(shelf_id, book_id, actor_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectShelfBooks = `SELECT b.id, b.uri, b.type, b.title, b.subtitle, b.description, b.isbn13, b.sync,
		b.updated_at, b.created_at FROM books b
		INNER JOIN shelf_books sb ON sb.book_id = b.id
		WHERE sb.shelf_id = ? ORDER BY sb.created_at`

	sqlInsertTagIgnore = `INSERT INTO tags(id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`
	sqlSelectTagByName = `SELECT id, name, created_at FROM tags WHERE name = ?`
	sqlInsertUserTag   = `INSERT INTO user_tags(actor_id, book_id, tag_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectTagsForBook = `SELECT t.id, t.name, t.created_at FROM tags t
		INNER JOIN user_tags ut ON ut.tag_id = t.id
		WHERE ut.actor_id = ? AND ut.book_id = ? ORDER BY t.name`
)

func scanBook(row scanner) (*domain.Book, error) {
	var b domain.Book
	var bookType string
	var updatedAt sql.NullTime
	err := row.Scan(&b.Id, &b.URI, &bookType, &b.Title, &b.Subtitle, &b.Description, &b.Isbn13, &b.Sync,
		&updatedAt, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	b.Type = domain.BookType(bookType)
	if updatedAt.Valid {
		b.UpdatedAt = updatedAt.Time
	}
	return &b, nil
}

func (db *DB) ReadBookByURI(ctx context.Context, uri string) (*domain.Book, error) {
	return scanBook(db.db.QueryRowContext(ctx, sqlSelectBookByURI, uri))
}

// CreateBook stores b unless a book with the same uri exists and returns the
// stored row.
func (db *DB) CreateBook(ctx context.Context, b *domain.Book) (*domain.Book, error) {
	prepare(&b.Id, &b.CreatedAt)
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	var stored *domain.Book
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertBook, b.Id, b.URI, string(b.Type), b.Title, b.Subtitle,
			b.Description, b.Isbn13, b.Sync, b.UpdatedAt, b.CreatedAt)
		if err != nil {
			return err
		}
		stored, err = scanBook(tx.QueryRowContext(ctx, sqlSelectBookByURI, b.URI))
		return err
	})
	return stored, err
}

// UpdateBook overwrites the descriptive fields of an existing book.
func (db *DB) UpdateBook(ctx context.Context, b *domain.Book) error {
	b.UpdatedAt = time.Now().UTC()
	_, err := db.db.ExecContext(ctx, sqlUpdateBook, b.Title, b.Subtitle, b.Description, b.Isbn13, b.UpdatedAt, b.Id)
	return err
}

func (db *DB) CreateShelf(ctx context.Context, s *domain.Shelf) (bool, error) {
	prepare(&s.Id, &s.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertShelf, s.Id, s.URI, s.ActorId, s.Name, s.Identifier, s.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) ReadShelfByURI(ctx context.Context, uri string) (*domain.Shelf, error) {
	var s domain.Shelf
	err := db.db.QueryRowContext(ctx, sqlSelectShelfByURI, uri).
		Scan(&s.Id, &s.URI, &s.ActorId, &s.Name, &s.Identifier, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// AddBookToShelf is a set-add; adding a book twice reports false.
func (db *DB) AddBookToShelf(ctx context.Context, shelf *domain.Shelf, bookId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlInsertShelfBook, shelf.Id, bookId, shelf.ActorId, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) ReadShelfBooks(ctx context.Context, shelfId uuid.UUID) ([]domain.Book, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectShelfBooks, shelfId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return books, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

func (db *DB) GetOrCreateTag(ctx context.Context, name string) (*domain.Tag, error) {
	var tag domain.Tag
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertTagIgnore, uuid.New(), name, time.Now().UTC()); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, sqlSelectTagByName, name).Scan(&tag.Id, &tag.Name, &tag.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (db *DB) AddUserTag(ctx context.Context, actorId, bookId, tagId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlInsertUserTag, actorId, bookId, tagId, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReadTagsForBook lists the tags an actor put on a book.
func (db *DB) ReadTagsForBook(ctx context.Context, actorId, bookId uuid.UUID) ([]domain.Tag, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectTagsForBook, actorId, bookId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.Id, &t.Name, &t.CreatedAt); err != nil {
			return tags, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
