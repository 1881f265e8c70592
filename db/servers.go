package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	sqlSelectServerByName = `SELECT id, server_name, status, application_type, application_version, created_at
		FROM federated_servers WHERE server_name = ?`
	sqlInsertServerIgnore = `INSERT INTO federated_servers(id, server_name, status, application_type, application_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(server_name) DO NOTHING`
	sqlUpsertServerStatus = `INSERT INTO federated_servers(id, server_name, status, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(server_name) DO UPDATE SET status = excluded.status`
)

func scanServer(row scanner) (*domain.FederatedServer, error) {
	var s domain.FederatedServer
	var status string
	err := row.Scan(&s.Id, &s.ServerName, &status, &s.ApplicationType, &s.ApplicationVersion, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.Status = domain.ServerStatus(status)
	return &s, nil
}

func (db *DB) ReadServerByName(ctx context.Context, name string) (*domain.FederatedServer, error) {
	return scanServer(db.db.QueryRowContext(ctx, sqlSelectServerByName, name))
}

// GetOrCreateServer stores s unless a server with the same name exists, and
// returns the stored row either way.
func (db *DB) GetOrCreateServer(ctx context.Context, s *domain.FederatedServer) (*domain.FederatedServer, error) {
	if s.Id == uuid.Nil {
		s.Id = uuid.New()
	}
	if s.Status == "" {
		s.Status = domain.ServerFederated
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	var stored *domain.FederatedServer
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertServerIgnore,
			s.Id, s.ServerName, string(s.Status), s.ApplicationType, s.ApplicationVersion, s.CreatedAt); err != nil {
			return err
		}
		var err error
		stored, err = scanServer(tx.QueryRowContext(ctx, sqlSelectServerByName, s.ServerName))
		return err
	})
	return stored, err
}

// SetServerStatus is the moderation toggle. Blocking a server that was never
// contacted creates its row so the block is effective from the first contact.
func (db *DB) SetServerStatus(ctx context.Context, name string, status domain.ServerStatus) error {
	_, err := db.db.ExecContext(ctx, sqlUpsertServerStatus, uuid.New(), name, string(status), time.Now().UTC())
	return err
}
