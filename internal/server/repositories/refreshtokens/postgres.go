package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository stores refresh tokens over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). Only the SHA-256 of a token value is persisted.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Add(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO refresh_tokens (id, token_hash, user_id, created_at, expires_at, is_revoked, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		token.ID, common.HashToken(token.Token), token.UserID, token.CreatedAt, token.ExpiresAt, token.IsRevoked, token.RevokedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrDuplicateToken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, value string) (*models.RefreshToken, error) {
	query :=
		`SELECT id, user_id, created_at, expires_at, is_revoked, revoked_at
		 FROM refresh_tokens
		 WHERE token_hash = $1
		 `

	t, err := scanToken(r.db.QueryRowContext(ctx, query, common.HashToken(value)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Token = value
	return t, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, value string, at time.Time) error {
	query :=
		`UPDATE refresh_tokens
		 SET is_revoked = TRUE, revoked_at = $2
		 WHERE token_hash = $1 AND is_revoked = FALSE
		 `

	if _, err := r.db.ExecContext(ctx, query, common.HashToken(value), at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	query :=
		`UPDATE refresh_tokens
		 SET is_revoked = TRUE, revoked_at = $2
		 WHERE user_id = $1 AND is_revoked = FALSE
		 `

	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

// Rotate runs the compare-and-set on the presented row and the insert of the
// successor in one transaction. Under concurrent rotation the row lock makes
// the losing UPDATE re-check is_revoked and match nothing.
func (r *PostgresRepository) Rotate(ctx context.Context, presented string, next *models.RefreshToken, at time.Time) error {
	query :=
		`UPDATE refresh_tokens
		 SET is_revoked = TRUE, revoked_at = $2
		 WHERE token_hash = $1 AND is_revoked = FALSE AND expires_at > $2
		 RETURNING user_id
		 `

	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		var owner string
		if err := tx.QueryRowContext(ctx, query, common.HashToken(presented), at).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrorNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		if owner != next.UserID {
			return common.ErrorNotFound
		}
		return NewPostgresRepository(tx).Add(ctx, next)
	})
}

func (r *PostgresRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`DELETE FROM refresh_tokens
		 WHERE expires_at <= $1 AND is_revoked = FALSE
		 `

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

func (r *PostgresRepository) PurgeRevoked(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error) {
	query :=
		`DELETE FROM refresh_tokens
		 WHERE is_revoked = TRUE AND expires_at <= $1
		 RETURNING id, user_id, created_at, expires_at, is_revoked, revoked_at
		 `

	var purged []models.RefreshToken
	err := dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx, query, before)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		purged, err = collect(rows)
		if err != nil {
			return err
		}
		if archive != nil && len(purged) > 0 {
			if err := archive(ctx, purged); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(purged)), nil
}

func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	query :=
		`SELECT id, user_id, created_at, expires_at, is_revoked, revoked_at
		 FROM refresh_tokens
		 WHERE user_id = $1 AND is_revoked = FALSE AND expires_at > $2
		 ORDER BY created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var revokedAt sql.NullTime
	if err := s.Scan(&t.ID, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.IsRevoked, &revokedAt); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return t, nil
}

func collect(rows *sql.Rows) ([]models.RefreshToken, error) {
	defer rows.Close()

	var out []models.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
