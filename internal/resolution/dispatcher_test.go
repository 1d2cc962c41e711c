package resolution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/ingredient"
)

func workItem() ingredient.WorkItem {
	return ingredient.WorkItem{
		RecipeID:         "recipe-1",
		IngredientID:     "ing-1",
		Content:          "200 g tofu",
		DetectedLanguage: "en-US",
		FallbackLanguage: "pl",
		RecipeExpiry:     time.Now().Add(time.Hour).UTC(),
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	store := correlation.NewMemoryStore()
	d := NewDispatcher(provider, store, 24*time.Hour)

	item := workItem()
	provider.On("Submit", ctx, mock.MatchedBy(func(p ingredient.Prompt) bool {
		return p.Language == "en" && p.Input == "200 g tofu"
	})).Return("job-1", nil)

	jobID, err := d.Dispatch(ctx, "handle-1", item)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	rec, err := store.Take(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "handle-1", rec.ResumeHandle)
	assert.Equal(t, item, rec.WorkItem)
	assert.Equal(t, item.RecipeExpiry, rec.ExpiresAt)
	provider.AssertExpectations(t)
}

func TestDispatcher_DefaultExpiry(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	store := correlation.NewMemoryStore()
	d := NewDispatcher(provider, store, time.Hour)
	now := time.Now()
	d.now = func() time.Time { return now }

	item := workItem()
	item.RecipeExpiry = time.Time{}
	provider.On("Submit", ctx, mock.Anything).Return("job-1", nil)

	_, err := d.Dispatch(ctx, "h", item)
	require.NoError(t, err)
	rec, err := store.Take(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)
}

func TestDispatcher_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"InputTooLong", &ingredient.ProviderError{StatusCode: 400, Code: "string_above_max_length", Kind: ingredient.ErrInputTooLong}, ingredient.ErrInputTooLong},
		{"OutOfCredits", &ingredient.ProviderError{StatusCode: 429, Code: "insufficient_quota", Kind: ingredient.ErrOutOfCredits}, ingredient.ErrOutOfCredits},
		{"Transient", ingredient.ErrProviderTransient, ingredient.ErrProviderTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			provider := new(MockProvider)
			store := correlation.NewMemoryStore()
			d := NewDispatcher(provider, store, time.Hour)

			provider.On("Submit", ctx, mock.Anything).Return("", tt.err)

			_, err := d.Dispatch(ctx, "h", workItem())
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestDispatcher_PutFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	store := new(MockStore)
	d := NewDispatcher(provider, store, time.Hour)

	provider.On("Submit", ctx, mock.Anything).Return("job-9", nil)
	store.On("Put", ctx, mock.Anything).Return(errors.New("redis down"))

	_, err := d.Dispatch(ctx, "h", workItem())
	assert.ErrorIs(t, err, ingredient.ErrStoreInconsistency)
	assert.Contains(t, err.Error(), "job-9")
}

func TestDispatcher_LaunchAfterPut(t *testing.T) {
	ctx := context.Background()
	provider := new(MockLaunchingProvider)
	store := correlation.NewMemoryStore()
	d := NewDispatcher(provider, store, time.Hour)

	provider.On("Submit", ctx, mock.Anything).Return("job-1", nil)
	provider.On("Launch", ctx, "job-1").Run(func(args mock.Arguments) {
		_, err := store.Peek(ctx, "job-1")
		assert.NoError(t, err, "record must exist before launch")
	}).Return(nil)

	_, err := d.Dispatch(ctx, "h", workItem())
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestDispatcher_PutFailureCancelsLaunch(t *testing.T) {
	ctx := context.Background()
	provider := new(MockLaunchingProvider)
	store := new(MockStore)
	d := NewDispatcher(provider, store, time.Hour)

	provider.On("Submit", ctx, mock.Anything).Return("job-9", nil)
	provider.On("Cancel", "job-9").Return().Once()
	store.On("Put", ctx, mock.Anything).Return(errors.New("redis down"))

	_, err := d.Dispatch(ctx, "h", workItem())
	assert.ErrorIs(t, err, ingredient.ErrStoreInconsistency)
	provider.AssertExpectations(t)
	provider.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
}

func TestDispatcher_LaunchFailureDropsRecord(t *testing.T) {
	ctx := context.Background()
	provider := new(MockLaunchingProvider)
	store := new(MockStore)
	d := NewDispatcher(provider, store, time.Hour)

	provider.On("Submit", ctx, mock.Anything).Return("job-1", nil)
	provider.On("Launch", ctx, "job-1").Return(errors.New("gone"))
	store.On("Put", ctx, mock.Anything).Return(nil)
	store.On("Delete", ctx, "job-1").Return(errors.New("redis down")).Once()

	_, err := d.Dispatch(ctx, "h", workItem())
	assert.Error(t, err)
	store.AssertExpectations(t)
}
