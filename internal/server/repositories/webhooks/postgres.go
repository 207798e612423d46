package webhooks

import (
	"context"
	"fmt"
	"strings"

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

func (r *PostgresRepository) Create(ctx context.Context, hook *models.Webhook) error {
	query := `
		INSERT INTO webhooks (user_id, url, secret, events)
		VALUES ($1, $2, $3, $4)
		RETURNING id, active, created_at
	`
	err := r.db.QueryRowContext(ctx, query, hook.UserID, hook.URL, hook.Secret, strings.Join(hook.Events, ",")).
		Scan(&hook.ID, &hook.Active, &hook.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Webhook, error) {
	query := `
		SELECT id, user_id, url, secret, events, active, created_at
		FROM webhooks WHERE user_id = $1 ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select webhooks: %w", err)
	}
	defer rows.Close()

	var result []*models.Webhook
	for rows.Next() {
		var (
			h      models.Webhook
			events string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.URL, &h.Secret, &events, &h.Active, &h.CreatedAt); err != nil {
			return nil, err
		}
		if events != "" {
			h.Events = strings.Split(events, ",")
		}
		result = append(result, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
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
