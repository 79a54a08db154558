package remote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/shelf-sync/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS remote_documents (
    id                TEXT PRIMARY KEY,
    credential_digest TEXT NOT NULL,
    body              TEXT NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps documents in the remote_documents table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// PostgresOption configures the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock overrides the timestamp source for updated_at.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		s.now = now
	}
}

// NewPostgresStore constructs a store using the provided pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the documents table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return classifyPostgres("ensure schema", err)
	}
	return nil
}

// Fetch implements Store.
func (s *PostgresStore) Fetch(ctx context.Context, id, credential string) (string, error) {
	const op = "remote fetch"

	var digest, body string
	err := s.pool.QueryRow(ctx, `
SELECT credential_digest, body FROM remote_documents WHERE id = $1`, id).Scan(&digest, &body)
	if err != nil {
		return "", classifyPostgres(op, err)
	}
	if !digestMatches(digest, credential) {
		return "", types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	}
	return body, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, credential, text string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
INSERT INTO remote_documents (id, credential_digest, body, updated_at)
VALUES ($1, $2, $3, $4)
RETURNING id`,
		uuid.NewString(), credentialDigest(credential), text, s.now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", classifyPostgres("remote create", err)
	}
	return id, nil
}

// Update implements Store. The row is locked while the digest is checked.
func (s *PostgresStore) Update(ctx context.Context, id, credential, text string) error {
	const op = "remote update"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPostgres(op, err)
	}
	defer tx.Rollback(ctx)

	var digest string
	if err := tx.QueryRow(ctx, `
SELECT credential_digest FROM remote_documents WHERE id = $1 FOR UPDATE`, id).Scan(&digest); err != nil {
		return classifyPostgres(op, err)
	}
	if !digestMatches(digest, credential) {
		return types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	}

	if _, err := tx.Exec(ctx, `
UPDATE remote_documents SET body = $2, updated_at = $3 WHERE id = $1`,
		id, text, s.now().UTC(),
	); err != nil {
		return classifyPostgres(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres(op, err)
	}
	return nil
}

// classifyPostgres maps driver errors to the error taxonomy. Errors that are
// neither missing rows nor transient mean the server rejected the statement.
func classifyPostgres(op string, err error) error {
	var typed *types.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return types.NewError(types.CodeNotFound, op, "document not found", nil)
	case isCanceled(err):
		return err
	case isTransient(err):
		return types.NewError(types.CodeNetwork, op, "database unavailable", err)
	default:
		return types.NewError(types.CodeMalformed, op, "database rejected request", err)
	}
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"08006": // connection_failure
			return true
		}
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
