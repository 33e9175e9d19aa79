package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicegate/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore is the durable Store implementation.
//
// Expected schema:
//
//	CREATE TABLE calls (
//	    call_id          TEXT PRIMARY KEY,
//	    provider_call_id TEXT,
//	    direction        TEXT NOT NULL,
//	    from_number      TEXT NOT NULL,
//	    to_number        TEXT NOT NULL,
//	    status           TEXT NOT NULL,
//	    mode             TEXT NOT NULL DEFAULT '',
//	    initial_message  TEXT NOT NULL DEFAULT '',
//	    provider_name    TEXT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX ux_calls_provider_call_id
//	    ON calls (provider_call_id) WHERE provider_call_id <> '';
//
// The partial unique index is the provider-id index: at most one record owns
// a given current provider call id, and a violated insert maps to
// ErrProviderCallIDConflict.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isProviderIDConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) Put(ctx context.Context, c Call) error {
	if c.CallID == "" {
		return errors.New("calls: call_id required")
	}
	const q = `
		INSERT INTO calls
			(call_id, provider_call_id, direction, from_number, to_number,
			 status, mode, initial_message, provider_name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (call_id) DO UPDATE SET
			provider_call_id = EXCLUDED.provider_call_id,
			status           = EXCLUDED.status,
			mode             = EXCLUDED.mode,
			initial_message  = EXCLUDED.initial_message,
			updated_at       = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		c.CallID, c.ProviderCallID, c.Direction, c.From, c.To,
		c.Status, c.Mode, c.InitialMessage, c.ProviderName, c.CreatedAt, c.UpdatedAt)
	if isProviderIDConflict(err) {
		return ErrProviderCallIDConflict
	}
	return err
}

func (s *PostgresStore) GetByCallID(ctx context.Context, callID string) (Call, error) {
	return s.getWhere(ctx, "call_id = $1", callID)
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	if providerCallID == "" {
		return Call{}, ErrNotFound
	}
	return s.getWhere(ctx, "provider_call_id = $1", providerCallID)
}

func (s *PostgresStore) getWhere(ctx context.Context, cond string, arg any) (Call, error) {
	q := `
		SELECT call_id, provider_call_id, direction, from_number, to_number,
		       status, mode, initial_message, provider_name, created_at, updated_at
		FROM calls WHERE ` + cond
	var c Call
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&c.CallID, &c.ProviderCallID, &c.Direction, &c.From, &c.To,
		&c.Status, &c.Mode, &c.InitialMessage, &c.ProviderName, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) ReindexProviderCallID(ctx context.Context, callID, newProviderCallID string) error {
	if newProviderCallID == "" {
		return errors.New("calls: new provider call id required")
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE calls SET provider_call_id = $2 WHERE call_id = $1`,
			callID, newProviderCallID)
		if isProviderIDConflict(err) {
			return ErrProviderCallIDConflict
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListCalls returns records created within [from, to). Reporting only.
func (s *PostgresStore) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	const q = `
		SELECT call_id, provider_call_id, direction, from_number, to_number,
		       status, mode, initial_message, provider_name, created_at, updated_at
		FROM calls
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		var c Call
		if err := rows.Scan(
			&c.CallID, &c.ProviderCallID, &c.Direction, &c.From, &c.To,
			&c.Status, &c.Mode, &c.InitialMessage, &c.ProviderName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
