package recipe

import (
	"context"
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

var recipeColumns = []string{"id", "owner_id", "content", "ingredient_statuses", "is_complete", "has_parsing_succeeded", "notification_channel", "expires_at", "created_at"}

func TestPostgresRepo_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	rec := &Recipe{
		ID:                 "r1",
		OwnerID:            "u1",
		Content:            Content{Title: "Soup"},
		IngredientStatuses: map[string]ingredient.Status{"i1": ingredient.StatusOff},
		IsComplete:         true,
		ExpiresAt:          now.Add(time.Hour),
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO recipes")).
		WithArgs("r1", "u1", sqlmock.AnyArg(), []byte(`{"i1":"off"}`), true, sqlmock.AnyArg(), sqlmock.AnyArg(), rec.ExpiresAt).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, now, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, content")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(recipeColumns).AddRow(
			"r1", "u1", []byte(`{"title":"Soup","ingredientGroups":[{"id":"g1","ingredients":[{"id":"i1","name":"salt"}]}]}`),
			[]byte(`{"i1":"ok"}`), true, false, nil, now, now,
		))

	rec, err := repo.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Soup", rec.Content.Title)
	assert.Equal(t, ingredient.StatusOK, rec.IngredientStatuses["i1"])
	require.NotNil(t, rec.HasParsingSucceeded)
	assert.False(t, *rec.HasParsingSucceeded)
	assert.Nil(t, rec.NotificationChannel)
	assert.False(t, rec.Succeeded())
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, content")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recipeColumns))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_GetNotificationChannel(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT notification_channel FROM recipes")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"notification_channel"}).AddRow("channel-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT notification_channel FROM recipes")).
		WithArgs("r2").
		WillReturnRows(sqlmock.NewRows([]string{"notification_channel"}).AddRow(nil))

	ch, err := repo.GetNotificationChannel(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "channel-1", *ch)

	ch, err = repo.GetNotificationChannel(context.Background(), "r2")
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestPostgresRepo_MarkFailed(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recipes SET is_complete = TRUE, has_parsing_succeeded = FALSE")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recipes SET is_complete = TRUE, has_parsing_succeeded = FALSE")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.MarkFailed(context.Background(), "r1"))
	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "gone"), ErrNotFound)
}

func TestPostgresRepo_PutMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recipes SET content")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Put(context.Background(), &Recipe{ID: "gone"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_CountByState(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WillReturnRows(sqlmock.NewRows([]string{"processing", "complete", "failed"}).AddRow(2, 7, 1))

	c, err := repo.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processing: 2, Complete: 7, Failed: 1}, c)
}

func TestPostgresRepo_DeleteExpired(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM recipes WHERE expires_at < $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}
