package workflow

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipebox/backend/internal/ingredient"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepo(db), mock
}

func TestPostgresRepo_CreateBatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	expires := time.Now().Add(time.Hour)
	branches := []Branch{
		{Handle: "h0", Position: 0, Item: ingredient.WorkItem{RecipeID: "r1", IngredientID: "a"}},
		{Handle: "h1", Position: 1, Item: ingredient.WorkItem{RecipeID: "r1", IngredientID: "b"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingredient_batches")).
		WithArgs("r1", BatchRunning, 2, expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingredient_branches")).
		WithArgs("r1", "a", 0, "h0", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingredient_branches")).
		WithArgs("r1", "b", 1, "h1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateBatch(context.Background(), "r1", expires, branches))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ResolveBranchStaleHandle(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ingredient_branches SET state = 'resumed'")).
		WithArgs(sqlmock.AnyArg(), "gone").
		WillReturnRows(sqlmock.NewRows([]string{"recipe_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT recipe_id FROM ingredient_branches WHERE resume_handle = $1 AND state = 'resumed'")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"recipe_id"}))

	id, ok, err := repo.ResolveBranch(context.Background(), "gone", ingredient.BatchOutcome{Status: ingredient.StatusOK})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ResolveBranchAlreadyResumed(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ingredient_branches SET state = 'resumed'")).
		WithArgs(sqlmock.AnyArg(), "h1").
		WillReturnRows(sqlmock.NewRows([]string{"recipe_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT recipe_id FROM ingredient_branches WHERE resume_handle = $1 AND state = 'resumed'")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"recipe_id"}).AddRow("r1"))

	id, ok, err := repo.ResolveBranch(context.Background(), "h1", ingredient.BatchOutcome{Status: ingredient.StatusOK})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "r1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_BeginAssembly(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingredient_batches SET status = 'assembling'")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingredient_batches SET status = 'assembling'")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.BeginAssembly(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.BeginAssembly(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_OutcomesRejectsCorruptRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	good, _ := json.Marshal(ingredient.BatchOutcome{Status: ingredient.StatusOK})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT outcome FROM ingredient_branches")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"outcome"}).AddRow(good).AddRow([]byte("{broken")))

	_, err := repo.Outcomes(context.Background(), "r1")
	assert.ErrorIs(t, err, ingredient.ErrStoreInconsistency)
}

func TestPostgresRepo_FailBatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	item, _ := json.Marshal(ingredient.WorkItem{RecipeID: "r1", IngredientID: "b", Content: "milk"})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingredient_batches SET status = 'failed'")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ingredient_branches SET state = 'cancelled'")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"work_item"}).AddRow(item))
	mock.ExpectCommit()

	cancelled, ok, err := repo.FailBatch(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "milk", cancelled[0].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FailBatchNotRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingredient_batches SET status = 'failed'")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, ok, err := repo.FailBatch(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_StaleIncludesAssembling(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ('running', 'assembling') AND expires_at < $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"recipe_id"}).AddRow("r1").AddRow("r2"))

	ids, err := repo.Stale(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FailBatchCoversExpiredAssembling(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("(status = 'running' OR (status = 'assembling' AND expires_at < NOW()))")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ingredient_branches SET state = 'cancelled'")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"work_item"}))
	mock.ExpectCommit()

	cancelled, ok, err := repo.FailBatch(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Status(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM ingredient_batches")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := repo.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}
