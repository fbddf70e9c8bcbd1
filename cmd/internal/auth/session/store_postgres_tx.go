package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, db pgExecer, table string, rec Record) error {
	_, err := db.Exec(ctx, `
		INSERT INTO `+table+` (
			id, user_id, family_id, secret_hash,
			created_at, expires_at, session_expires_at,
			revoked_at, revocation_reason, replaced_by_id,
			ip, user_agent, device_id
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			NULL, NULL, NULL,
			$8, $9, $10
		)
	`,
		rec.ID, rec.UserID, rec.FamilyID, rec.SecretHash,
		rec.CreatedAt, rec.ExpiresAt, rec.SessionExpiresAt,
		nullIfEmpty(rec.Meta.IP), nullIfEmpty(rec.Meta.UserAgent), nullIfEmpty(rec.Meta.DeviceID),
	)
	return err
}

// rotateTx inserts the successor, then revokes the predecessor only if it is
// still active. Zero affected rows means another request won the race, or
// the predecessor never existed; the caller rolls back either way so the
// successor never becomes visible.
func rotateTx(ctx context.Context, tx pgx.Tx, table, oldID string, next Record, now time.Time) error {
	if err := insertRecord(ctx, tx, table, next); err != nil {
		return unavailable("rotate insert", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE `+table+`
		SET revoked_at = $2, revocation_reason = $3, replaced_by_id = $4
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, now, string(ReasonRotated), next.ID)
	if err != nil {
		return unavailable("rotate update", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, oldID).Scan(&exists); err != nil {
		return unavailable("rotate lookup", err)
	}
	if !exists {
		return ErrTokenNotFound
	}
	return ErrRotationConflict
}
