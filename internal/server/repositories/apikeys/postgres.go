package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, user_id, name, prefix, key_hash, permissions, active, usage_count, expires_at, last_used_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*models.APIKey, error) {
	var (
		k        models.APIKey
		perms    string
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := s.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.KeyHash, &perms, &k.Active, &k.UsageCount,
		&expires, &lastUsed, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	k.Permissions = splitPermissions(perms)
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}

func splitPermissions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *PostgresRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, name, prefix, key_hash, permissions, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, active, created_at
	`
	var expires sql.NullTime
	if key.ExpiresAt != nil {
		expires = sql.NullTime{Time: *key.ExpiresAt, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		key.UserID, key.Name, key.Prefix, key.KeyHash, strings.Join(key.Permissions, ","), expires,
	).Scan(&key.ID, &key.Active, &key.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE key_hash = $1`
	k, err := scanKey(r.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select api key: %w", err)
	}
	return k, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select api keys: %w", err)
	}
	defer rows.Close()

	var result []*models.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecordUsage bumps the usage counter and the last used timestamp.
func (r *PostgresRepository) RecordUsage(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Deactivate revokes a key owned by userID.
func (r *PostgresRepository) Deactivate(ctx context.Context, id, userID string) error {
	query := `UPDATE api_keys SET active = FALSE WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
