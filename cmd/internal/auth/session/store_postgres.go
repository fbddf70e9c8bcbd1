package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (<schema>.sessions).
//
// The pgx pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the sessions table (default "storefront").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.table = pgx.Identifier{schema, "sessions"}.Sanitize()
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{"storefront", "sessions"}.Sanitize(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

const pgSelectColumns = `
	id, user_id, family_id, secret_hash,
	created_at, expires_at, session_expires_at,
	revoked_at, revocation_reason, replaced_by_id,
	ip, user_agent, device_id`

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if err := insertRecord(ctx, s.pool, s.table, rec); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSelectColumns+` FROM `+s.table+` WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, unavailable("find", err)
	}
	return rec, nil
}

func (s *PostgresStore) RevokeIfActive(ctx context.Context, id string, now time.Time, reason RevocationReason) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, id, now, string(reason))
	if err != nil {
		return false, unavailable("revoke", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Zero rows: either already revoked (no-op) or unknown.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, unavailable("revoke", err)
	}
	if !exists {
		return false, ErrTokenNotFound
	}
	return false, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, oldID string, next Record, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return unavailable("rotate", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := rotateTx(ctx, tx, s.table, oldID, next, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("rotate", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAllActiveForUser(ctx context.Context, userID string, now time.Time, reason RevocationReason) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now, string(reason))
	if err != nil {
		return 0, unavailable("revoke_all", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes records whose absolute deadline passed before cutoff.
// It is housekeeping only; the rotation algorithm never depends on it.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE session_expires_at < $1`, cutoff)
	if err != nil {
		return 0, unavailable("delete_expired", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                   Record
		reason                *string
		ip, userAgent, device *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.FamilyID,
		&rec.SecretHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.SessionExpiresAt,
		&rec.RevokedAt,
		&reason,
		&rec.ReplacedByID,
		&ip,
		&userAgent,
		&device,
	)
	if err != nil {
		return Record{}, err
	}
	if reason != nil {
		rec.RevocationReason = RevocationReason(*reason)
	}
	rec.Meta = Meta{IP: deref(ip), UserAgent: deref(userAgent), DeviceID: deref(device)}
	return rec, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
