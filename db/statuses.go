package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	statusColumns = `id, uri, actor_id, type, name, content, quote, rating, reply_parent_id, book_id,
		privacy, local, published, deleted, deleted_at, created_at`

	sqlInsertStatus = `INSERT INTO statuses(` + statusColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?) ON CONFLICT(uri) DO NOTHING`
	sqlSelectStatusByURI = `SELECT ` + statusColumns + ` FROM statuses WHERE uri = ?`
	sqlSelectStatusById  = `SELECT ` + statusColumns + ` FROM statuses WHERE id = ?`
	sqlSoftDeleteStatus  = `UPDATE statuses SET deleted = 1, deleted_at = ?, content = '', name = '', quote = ''
		WHERE id = ? AND deleted = 0`
	sqlSelectStatusesByActor = `SELECT ` + statusColumns + ` FROM statuses WHERE actor_id = ? AND deleted = 0
		ORDER BY published DESC LIMIT ?`
)

func nullableId(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func scanStatus(row scanner) (*domain.Status, error) {
	var s domain.Status
	var statusType, privacy string
	var published, deletedAt sql.NullTime
	err := row.Scan(
		&s.Id,
		&s.URI,
		&s.ActorId,
		&statusType,
		&s.Name,
		&s.Content,
		&s.Quote,
		&s.Rating,
		&s.ReplyParentId,
		&s.BookId,
		&privacy,
		&s.Local,
		&published,
		&s.Deleted,
		&deletedAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	s.Type = domain.StatusType(statusType)
	s.Privacy = domain.Privacy(privacy)
	if published.Valid {
		s.Published = published.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		s.DeletedAt = &t
	}
	return &s, nil
}

// CreateStatus stores a status keyed by its uri. It reports false when a
// status with the same uri already exists, in which case s is left untouched.
func (db *DB) CreateStatus(ctx context.Context, s *domain.Status) (bool, error) {
	id := s.Id
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if s.Privacy == "" {
		s.Privacy = domain.PrivacyPublic
	}
	res, err := db.db.ExecContext(ctx, sqlInsertStatus,
		id, s.URI, s.ActorId, string(s.Type), s.Name, s.Content, s.Quote, s.Rating,
		nullableId(s.ReplyParentId), nullableId(s.BookId), string(s.Privacy), s.Local, s.Published, createdAt,
	)
	if err != nil {
		return false, err
	}
	created, err := affected(res)
	if created {
		s.Id = id
		s.CreatedAt = createdAt
	}
	return created, err
}

func (db *DB) ReadStatusByURI(ctx context.Context, uri string) (*domain.Status, error) {
	return scanStatus(db.db.QueryRowContext(ctx, sqlSelectStatusByURI, uri))
}

func (db *DB) ReadStatusById(ctx context.Context, id uuid.UUID) (*domain.Status, error) {
	return scanStatus(db.db.QueryRowContext(ctx, sqlSelectStatusById, id))
}

// SoftDeleteStatus turns the status into a tombstone. Deleting a tombstone
// again is a no-op and reports false.
func (db *DB) SoftDeleteStatus(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlSoftDeleteStatus, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReadStatusesByActor returns the newest non-deleted statuses of an actor.
func (db *DB) ReadStatusesByActor(ctx context.Context, actorId uuid.UUID, limit int) ([]domain.Status, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectStatusesByActor, actorId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []domain.Status
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return statuses, err
		}
		statuses = append(statuses, *s)
	}
	return statuses, rows.Err()
}
