package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipebox/backend/internal/ingredient"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, rec *Recipe) error {
	content, statuses, err := marshalDocument(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO recipes (id, owner_id, content, ingredient_statuses, is_complete, has_parsing_succeeded, notification_channel, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`
	return r.db.QueryRowContext(ctx, query,
		rec.ID, rec.OwnerID, content, statuses, rec.IsComplete, rec.HasParsingSucceeded, rec.NotificationChannel, rec.ExpiresAt,
	).Scan(&rec.CreatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Recipe, error) {
	rec := &Recipe{}
	var (
		content, statuses []byte
		succeeded         sql.NullBool
		channel           sql.NullString
	)
	query := `SELECT id, owner_id, content, ingredient_statuses, is_complete, has_parsing_succeeded, notification_channel, expires_at, created_at FROM recipes WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.OwnerID, &content, &statuses, &rec.IsComplete, &succeeded, &channel, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(content, &rec.Content); err != nil {
		return nil, fmt.Errorf("invalid recipe content %s: %w", id, err)
	}
	if len(statuses) > 0 {
		if err := json.Unmarshal(statuses, &rec.IngredientStatuses); err != nil {
			return nil, fmt.Errorf("invalid ingredient statuses %s: %w", id, err)
		}
	}
	if succeeded.Valid {
		rec.HasParsingSucceeded = &succeeded.Bool
	}
	if channel.Valid {
		rec.NotificationChannel = &channel.String
	}
	return rec, nil
}

// Put overwrites the document and its state flags in one statement.
func (r *PostgresRepo) Put(ctx context.Context, rec *Recipe) error {
	content, statuses, err := marshalDocument(rec)
	if err != nil {
		return err
	}
	query := `UPDATE recipes SET content = $1, ingredient_statuses = $2, is_complete = $3, has_parsing_succeeded = $4, notification_channel = $5, updated_at = NOW() WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, content, statuses, rec.IsComplete, rec.HasParsingSucceeded, rec.NotificationChannel, rec.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *PostgresRepo) GetNotificationChannel(ctx context.Context, id string) (*string, error) {
	var channel sql.NullString
	query := `SELECT notification_channel FROM recipes WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !channel.Valid {
		return nil, nil
	}
	return &channel.String, nil
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id string) error {
	query := `UPDATE recipes SET is_complete = TRUE, has_parsing_succeeded = FALSE, notification_channel = NULL, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *PostgresRepo) CountByState(ctx context.Context) (Counts, error) {
	var c Counts
	query := `SELECT
		COUNT(*) FILTER (WHERE NOT is_complete),
		COUNT(*) FILTER (WHERE is_complete AND has_parsing_succeeded IS DISTINCT FROM FALSE),
		COUNT(*) FILTER (WHERE is_complete AND has_parsing_succeeded = FALSE)
		FROM recipes`
	err := r.db.QueryRowContext(ctx, query).Scan(&c.Processing, &c.Complete, &c.Failed)
	return c, err
}

func (r *PostgresRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM recipes WHERE expires_at < $1 AND is_complete`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func marshalDocument(rec *Recipe) ([]byte, []byte, error) {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal recipe content: %w", err)
	}
	statuses := rec.IngredientStatuses
	if statuses == nil {
		statuses = map[string]ingredient.Status{}
	}
	raw, err := json.Marshal(statuses)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ingredient statuses: %w", err)
	}
	return content, raw, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
