package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipebox/backend/internal/ingredient"
)

var ErrBatchNotFound = errors.New("batch not found")

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateBatch(ctx context.Context, recipeID string, expiresAt time.Time, branches []Branch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO ingredient_batches (recipe_id, status, total, expires_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, query, recipeID, BatchRunning, len(branches), expiresAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	query = `INSERT INTO ingredient_branches (recipe_id, ingredient_id, position, resume_handle, state, work_item) VALUES ($1, $2, $3, $4, 'pending', $5)`
	for _, b := range branches {
		item, err := json.Marshal(b.Item)
		if err != nil {
			return fmt.Errorf("failed to marshal work item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, recipeID, b.Item.IngredientID, b.Position, b.Handle, item); err != nil {
			return fmt.Errorf("insert branch %d: %w", b.Position, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) RotateHandle(ctx context.Context, old, next string, item ingredient.WorkItem) (bool, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal work item: %w", err)
	}
	query := `UPDATE ingredient_branches SET resume_handle = $1, work_item = $2, updated_at = NOW() WHERE resume_handle = $3 AND state = 'pending'`
	res, err := r.db.ExecContext(ctx, query, next, raw, old)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) ResolveBranch(ctx context.Context, handle string, outcome ingredient.BatchOutcome) (string, bool, error) {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	var recipeID string
	query := `UPDATE ingredient_branches SET state = 'resumed', outcome = $1, updated_at = NOW() WHERE resume_handle = $2 AND state = 'pending' RETURNING recipe_id`
	err = r.db.QueryRowContext(ctx, query, raw, handle).Scan(&recipeID)
	if err == nil {
		return recipeID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	query = `SELECT recipe_id FROM ingredient_branches WHERE resume_handle = $1 AND state = 'resumed'`
	err = r.db.QueryRowContext(ctx, query, handle).Scan(&recipeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return recipeID, false, nil
}

func (r *PostgresRepo) BeginAssembly(ctx context.Context, recipeID string) (bool, error) {
	query := `UPDATE ingredient_batches SET status = 'assembling', updated_at = NOW()
		WHERE recipe_id = $1 AND status = 'running'
		AND NOT EXISTS (SELECT 1 FROM ingredient_branches WHERE recipe_id = $1 AND state = 'pending')`
	res, err := r.db.ExecContext(ctx, query, recipeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) Outcomes(ctx context.Context, recipeID string) ([]ingredient.BatchOutcome, error) {
	query := `SELECT outcome FROM ingredient_branches WHERE recipe_id = $1 AND state = 'resumed' ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []ingredient.BatchOutcome{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var out ingredient.BatchOutcome
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: outcome for recipe %s: %v", ingredient.ErrStoreInconsistency, recipeID, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}

func (r *PostgresRepo) FinishBatch(ctx context.Context, recipeID string, status BatchStatus) error {
	query := `UPDATE ingredient_batches SET status = $1, updated_at = NOW() WHERE recipe_id = $2`
	_, err := r.db.ExecContext(ctx, query, status, recipeID)
	return err
}

func (r *PostgresRepo) FailBatch(ctx context.Context, recipeID string) ([]ingredient.WorkItem, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE ingredient_batches SET status = 'failed', updated_at = NOW()
		WHERE recipe_id = $1 AND (status = 'running' OR (status = 'assembling' AND expires_at < NOW()))`, recipeID)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, false, err
	}

	rows, err := tx.QueryContext(ctx, `UPDATE ingredient_branches SET state = 'cancelled', updated_at = NOW() WHERE recipe_id = $1 AND state = 'pending' RETURNING work_item`, recipeID)
	if err != nil {
		return nil, false, err
	}
	var cancelled []ingredient.WorkItem
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, false, err
		}
		var item ingredient.WorkItem
		if err := json.Unmarshal(raw, &item); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("%w: work item for recipe %s: %v", ingredient.ErrStoreInconsistency, recipeID, err)
		}
		cancelled = append(cancelled, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return cancelled, true, nil
}

func (r *PostgresRepo) Stale(ctx context.Context, now time.Time) ([]string, error) {
	query := `SELECT recipe_id FROM ingredient_batches WHERE status IN ('running', 'assembling') AND expires_at < $1`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) Status(ctx context.Context, recipeID string) (BatchStatus, error) {
	var status BatchStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM ingredient_batches WHERE recipe_id = $1`, recipeID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBatchNotFound
	}
	return status, err
}
