package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertFollowRequest = `INSERT INTO follow_requests(id, uri, subject_id, object_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectFollowRequestByPair = `SELECT id, uri, subject_id, object_id, created_at FROM follow_requests
		WHERE subject_id = ? AND object_id = ?`
	sqlSelectFollowRequestByURI = `SELECT id, uri, subject_id, object_id, created_at FROM follow_requests WHERE uri = ?`
	sqlDeleteFollowRequestById  = `DELETE FROM follow_requests WHERE id = ?`
	sqlDeleteFollowRequestPair  = `DELETE FROM follow_requests WHERE subject_id = ? AND object_id = ?`

	sqlInsertFollow = `INSERT INTO follows(id, uri, subject_id, object_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, object_id) DO NOTHING`
	sqlSelectFollowByPair = `SELECT id, uri, subject_id, object_id, created_at FROM follows
		WHERE subject_id = ? AND object_id = ?`
	sqlDeleteFollowPair     = `DELETE FROM follows WHERE subject_id = ? AND object_id = ?`
	sqlDeleteFollowsOfActor = `DELETE FROM follows WHERE subject_id = ? OR object_id = ?`
	sqlDeleteRequestsActor  = `DELETE FROM follow_requests WHERE subject_id = ? OR object_id = ?`

	sqlInsertBlock = `INSERT INTO blocks(id, uri, subject_id, object_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, object_id) DO NOTHING`
	sqlSelectBlocked = `SELECT COUNT(*) FROM blocks
		WHERE (subject_id = ? AND object_id = ?) OR (subject_id = ? AND object_id = ?)`
	sqlDeleteFollowsBetween = `DELETE FROM follows
		WHERE (subject_id = ? AND object_id = ?) OR (subject_id = ? AND object_id = ?)`
	sqlDeleteRequestsBetween = `DELETE FROM follow_requests
		WHERE (subject_id = ? AND object_id = ?) OR (subject_id = ? AND object_id = ?)`

	sqlInsertFavorite = `INSERT INTO favorites(id, uri, actor_id, status_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlDeleteFavoritePair = `DELETE FROM favorites WHERE actor_id = ? AND status_id = ?`
	sqlCountFavorites     = `SELECT COUNT(*) FROM favorites WHERE status_id = ?`

	sqlInsertBoost = `INSERT INTO boosts(id, uri, actor_id, status_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlDeleteBoostPair = `DELETE FROM boosts WHERE actor_id = ? AND status_id = ?`
	sqlCountBoosts     = `SELECT COUNT(*) FROM boosts WHERE status_id = ?`
)

func prepare(id *uuid.UUID, createdAt *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}

// CreateFollowRequest stores a pending follow. It reports false when a
// request with the same uri or pair already exists.
func (db *DB) CreateFollowRequest(ctx context.Context, fr *domain.FollowRequest) (bool, error) {
	prepare(&fr.Id, &fr.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertFollowRequest, fr.Id, fr.URI, fr.SubjectId, fr.ObjectId, fr.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func scanFollowRequest(row scanner) (*domain.FollowRequest, error) {
	var fr domain.FollowRequest
	if err := row.Scan(&fr.Id, &fr.URI, &fr.SubjectId, &fr.ObjectId, &fr.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &fr, nil
}

func (db *DB) ReadFollowRequestByPair(ctx context.Context, subjectId, objectId uuid.UUID) (*domain.FollowRequest, error) {
	return scanFollowRequest(db.db.QueryRowContext(ctx, sqlSelectFollowRequestByPair, subjectId, objectId))
}

func (db *DB) ReadFollowRequestByURI(ctx context.Context, uri string) (*domain.FollowRequest, error) {
	return scanFollowRequest(db.db.QueryRowContext(ctx, sqlSelectFollowRequestByURI, uri))
}

func (db *DB) DeleteFollowRequestByPair(ctx context.Context, subjectId, objectId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlDeleteFollowRequestPair, subjectId, objectId)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ApproveFollowRequest converts a pending request into an established follow
// in a single transaction. The follow keeps the request's uri.
func (db *DB) ApproveFollowRequest(ctx context.Context, fr *domain.FollowRequest) (*domain.Follow, error) {
	follow := &domain.Follow{
		Id:        uuid.New(),
		URI:       fr.URI,
		SubjectId: fr.SubjectId,
		ObjectId:  fr.ObjectId,
		CreatedAt: time.Now().UTC(),
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteFollowRequestById, fr.Id)
		if err != nil {
			return err
		}
		deleted, err := affected(res)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, sqlInsertFollow, follow.Id, follow.URI, follow.SubjectId, follow.ObjectId, follow.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return follow, nil
}

func (db *DB) CreateFollow(ctx context.Context, f *domain.Follow) (bool, error) {
	prepare(&f.Id, &f.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertFollow, f.Id, f.URI, f.SubjectId, f.ObjectId, f.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) ReadFollowByPair(ctx context.Context, subjectId, objectId uuid.UUID) (*domain.Follow, error) {
	var f domain.Follow
	err := db.db.QueryRowContext(ctx, sqlSelectFollowByPair, subjectId, objectId).
		Scan(&f.Id, &f.URI, &f.SubjectId, &f.ObjectId, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (db *DB) DeleteFollowByPair(ctx context.Context, subjectId, objectId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlDeleteFollowPair, subjectId, objectId)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteRelationshipsOfActor drops every follow and follow request the actor takes part in.
func (db *DB) DeleteRelationshipsOfActor(ctx context.Context, actorId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeleteFollowsOfActor, actorId, actorId); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlDeleteRequestsActor, actorId, actorId)
		return err
	})
}

// CreateBlock stores a block and removes follows and requests between the
// two actors in either direction.
func (db *DB) CreateBlock(ctx context.Context, b *domain.Block) (bool, error) {
	prepare(&b.Id, &b.CreatedAt)
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertBlock, b.Id, b.URI, b.SubjectId, b.ObjectId, b.CreatedAt)
		if err != nil {
			return err
		}
		if created, err = affected(res); err != nil {
			return err
		}
		pair := []any{b.SubjectId, b.ObjectId, b.ObjectId, b.SubjectId}
		if _, err := tx.ExecContext(ctx, sqlDeleteFollowsBetween, pair...); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlDeleteRequestsBetween, pair...)
		return err
	})
	return created, err
}

// IsBlocked reports whether either actor blocks the other.
func (db *DB) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlSelectBlocked, a, b, b, a).Scan(&n)
	return n > 0, err
}

func (db *DB) CreateFavorite(ctx context.Context, f *domain.Favorite) (bool, error) {
	prepare(&f.Id, &f.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertFavorite, f.Id, f.URI, f.ActorId, f.StatusId, f.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) DeleteFavoriteByPair(ctx context.Context, actorId, statusId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlDeleteFavoritePair, actorId, statusId)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) CountFavorites(ctx context.Context, statusId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFavorites, statusId).Scan(&n)
	return n, err
}

func (db *DB) CreateBoost(ctx context.Context, b *domain.Boost) (bool, error) {
	prepare(&b.Id, &b.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertBoost, b.Id, b.URI, b.ActorId, b.StatusId, b.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) DeleteBoostByPair(ctx context.Context, actorId, statusId uuid.UUID) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlDeleteBoostPair, actorId, statusId)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) CountBoosts(ctx context.Context, statusId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountBoosts, statusId).Scan(&n)
	return n, err
}
