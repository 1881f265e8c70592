package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	actorColumns = `id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri,
		shared_inbox_uri, public_key_pem, private_key_pem, local, manually_approves, bookwyrm_user,
		active, last_fetched_at, created_at`

	sqlInsertActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Upserts never touch id, actor_uri, local or the private key.
	sqlUpsertRemoteActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?, 1, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			outbox_uri = excluded.outbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			public_key_pem = excluded.public_key_pem,
			manually_approves = excluded.manually_approves,
			bookwyrm_user = excluded.bookwyrm_user,
			last_fetched_at = excluded.last_fetched_at
		RETURNING id, active`

	sqlSelectActorByURI           = `SELECT ` + actorColumns + ` FROM actors WHERE actor_uri = ?`
	sqlSelectActorById            = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActorByUsername = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND username = ?`
	sqlDeactivateActor            = `UPDATE actors SET active = 0 WHERE id = ?`
	sqlCountLocalActors           = `SELECT COUNT(*) FROM actors WHERE local = 1 AND active = 1`

	// Followers of an actor: follows.subject_id follows follows.object_id
	sqlSelectFollowers = `SELECT ` + actorColumnsPrefixed + ` FROM actors a
		INNER JOIN follows f ON f.subject_id = a.id
		WHERE f.object_id = ? AND a.active = 1`

	actorColumnsPrefixed = `a.id, a.username, a.domain, a.actor_uri, a.display_name, a.summary, a.inbox_uri,
		a.outbox_uri, a.shared_inbox_uri, a.public_key_pem, a.private_key_pem, a.local, a.manually_approves,
		a.bookwyrm_user, a.active, a.last_fetched_at, a.created_at`
)

func scanActor(row scanner) (*domain.Actor, error) {
	var a domain.Actor
	var lastFetched sql.NullTime
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.Domain,
		&a.ActorURI,
		&a.DisplayName,
		&a.Summary,
		&a.InboxURI,
		&a.OutboxURI,
		&a.SharedInboxURI,
		&a.PublicKeyPem,
		&a.PrivateKeyPem,
		&a.Local,
		&a.ManuallyApprovesFollowers,
		&a.BookwyrmUser,
		&a.Active,
		&lastFetched,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if lastFetched.Valid {
		a.LastFetchedAt = lastFetched.Time
	}
	return &a, nil
}

// CreateLocalActor stores a new local actor. Local actors must carry a private key.
func (db *DB) CreateLocalActor(ctx context.Context, a *domain.Actor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Local = true
	a.Active = true
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActor,
			a.Id, a.Username, a.Domain, a.ActorURI, a.DisplayName, a.Summary,
			a.InboxURI, a.OutboxURI, a.SharedInboxURI, a.PublicKeyPem, a.PrivateKeyPem,
			true, a.ManuallyApprovesFollowers, a.BookwyrmUser, true, nil, a.CreatedAt,
		)
		return err
	})
}

// UpsertRemoteActor inserts a remote actor or overwrites the mutable fields of
// the existing row with the same actor_uri. a.Id and a.Active are set from
// the stored row; a deactivated actor stays deactivated.
func (db *DB) UpsertRemoteActor(ctx context.Context, a *domain.Actor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, sqlUpsertRemoteActor,
			a.Id, a.Username, a.Domain, a.ActorURI, a.DisplayName, a.Summary,
			a.InboxURI, a.OutboxURI, a.SharedInboxURI, a.PublicKeyPem,
			a.ManuallyApprovesFollowers, a.BookwyrmUser, a.LastFetchedAt, a.CreatedAt,
		)
		a.Local = false
		return row.Scan(&a.Id, &a.Active)
	})
}

func (db *DB) ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByURI, uri))
}

func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
}

func (db *DB) ReadLocalActorByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectLocalActorByUsername, username))
}

func (db *DB) DeactivateActor(ctx context.Context, id uuid.UUID) error {
	_, err := db.db.ExecContext(ctx, sqlDeactivateActor, id)
	return err
}

func (db *DB) CountLocalActors(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountLocalActors).Scan(&n)
	return n, err
}

// ReadFollowers returns the active actors following the given actor.
func (db *DB) ReadFollowers(ctx context.Context, actorId uuid.UUID) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowers, actorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return followers, err
		}
		followers = append(followers, *a)
	}
	return followers, rows.Err()
}
