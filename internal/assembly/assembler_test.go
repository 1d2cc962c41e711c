package assembly

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recipebox/backend/features/recipe"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/ingredient"
)

var testMessages = Messages{ReadyTitle: "Ready", ReadyBody: "Your recipe is ready", FailedTitle: "Failed", FailedBody: "Parsing failed"}

func strPtr(s string) *string { return &s }

func threeLineRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		ID:      "recipe-1",
		OwnerID: "user-1",
		Content: recipe.Content{
			Title: "Shakshuka",
			IngredientGroups: []recipe.IngredientGroup{{
				ID: "g1",
				Ingredients: []recipe.Ingredient{
					{ID: "a", Name: "2 eggs", OriginalText: "2 eggs"},
					{ID: "b", Name: "1 can of tomatoes + 2 tbsp concentrate", OriginalText: "1 can of tomatoes + 2 tbsp concentrate"},
					{ID: "c", Name: "salt", OriginalText: "salt"},
				},
			}},
		},
		NotificationChannel: strPtr("ch-1"),
	}
}

func outcomeFor(id, original string, status ingredient.Status, names ...string) ingredient.BatchOutcome {
	results := make([]ingredient.ParsedIngredient, 0, len(names))
	for _, n := range names {
		results = append(results, ingredient.ParsedIngredient{Name: n, OriginalText: original, Resolved: true})
	}
	return ingredient.BatchOutcome{
		Status:           status,
		OriginalWorkItem: ingredient.WorkItem{RecipeID: "recipe-1", IngredientID: id, Content: original},
		Results:          results,
	}
}

func TestApply_SpliceExpandsInPlace(t *testing.T) {
	rec := threeLineRecipe()
	apply(context.Background(), rec, []ingredient.BatchOutcome{
		outcomeFor("b", "1 can of tomatoes + 2 tbsp concentrate", ingredient.StatusOK, "chopped tomatoes", "tomato concentrate"),
	})

	ings := rec.Content.IngredientGroups[0].Ingredients
	require.Len(t, ings, 4)
	assert.Equal(t, "a", ings[0].ID)
	assert.Equal(t, "b", ings[1].ID)
	assert.Equal(t, "chopped tomatoes", ings[1].Name)
	assert.Equal(t, "tomato concentrate", ings[2].Name)
	assert.NotEqual(t, "b", ings[2].ID)
	assert.NotEmpty(t, ings[2].ID)
	assert.Equal(t, "c", ings[3].ID)

	assert.Equal(t, ingredient.StatusOK, rec.IngredientStatuses["b"])
	assert.Equal(t, ingredient.StatusOK, rec.IngredientStatuses[ings[2].ID])
}

func TestApply_EmptyResultsDropLine(t *testing.T) {
	rec := threeLineRecipe()
	apply(context.Background(), rec, []ingredient.BatchOutcome{
		outcomeFor("c", "salt", ingredient.StatusOK),
	})

	ings := rec.Content.IngredientGroups[0].Ingredients
	require.Len(t, ings, 2)
	assert.Equal(t, "a", ings[0].ID)
	assert.Equal(t, "b", ings[1].ID)
	assert.NotContains(t, rec.IngredientStatuses, "c")
}

func TestApply_UnknownIngredientSkipped(t *testing.T) {
	rec := threeLineRecipe()
	before := append([]recipe.Ingredient(nil), rec.Content.IngredientGroups[0].Ingredients...)

	apply(context.Background(), rec, []ingredient.BatchOutcome{
		outcomeFor("zzz", "ghost", ingredient.StatusOK, "ghost"),
	})

	assert.Equal(t, before, rec.Content.IngredientGroups[0].Ingredients)
	assert.Empty(t, rec.IngredientStatuses)
}

func TestApply_OrderIndependent(t *testing.T) {
	rec := threeLineRecipe()
	apply(context.Background(), rec, []ingredient.BatchOutcome{
		outcomeFor("c", "salt", ingredient.StatusOK, "salt"),
		outcomeFor("b", "tomatoes", ingredient.StatusOK, "tomatoes", "concentrate"),
		outcomeFor("a", "2 eggs", ingredient.StatusUnparsableModelOutput, "2 eggs"),
	})

	var names []string
	for _, ing := range rec.Content.IngredientGroups[0].Ingredients {
		names = append(names, ing.Name)
	}
	assert.Equal(t, []string{"2 eggs", "tomatoes", "concentrate", "salt"}, names)
	assert.Equal(t, ingredient.StatusUnparsableModelOutput, rec.IngredientStatuses["a"])
}

func TestAssembler_Assemble(t *testing.T) {
	ctx := context.Background()
	store := new(MockRecipeStore)
	notifier := new(MockNotifier)
	a := NewAssembler(store, notifier, testMessages)

	rec := threeLineRecipe()
	store.On("Get", mock.Anything, "recipe-1").Return(rec, nil)
	store.On("Put", mock.Anything, mock.MatchedBy(func(r *recipe.Recipe) bool {
		return r.IsComplete && r.HasParsingSucceeded != nil && *r.HasParsingSucceeded && r.NotificationChannel == nil
	})).Return(nil).Once()
	notifier.On("Publish", mock.Anything, "ch-1", mock.MatchedBy(func(m push.Message) bool {
		return m.Title == "Ready" && m.Data["recipeId"] == "recipe-1"
	})).Return(nil).Once()
	notifier.On("DeleteChannel", mock.Anything, "ch-1").Return(nil).Once()

	err := a.Assemble(ctx, "recipe-1", []ingredient.BatchOutcome{
		outcomeFor("a", "2 eggs", ingredient.StatusOK, "eggs"),
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestAssembler_NotificationFailureIsNotFatal(t *testing.T) {
	store := new(MockRecipeStore)
	notifier := new(MockNotifier)
	a := NewAssembler(store, notifier, testMessages)

	store.On("Get", mock.Anything, "recipe-1").Return(threeLineRecipe(), nil)
	store.On("Put", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Publish", mock.Anything, "ch-1", mock.Anything).Return(errors.New("gateway down"))
	notifier.On("DeleteChannel", mock.Anything, "ch-1").Return(errors.New("gateway down"))

	assert.NoError(t, a.Assemble(context.Background(), "recipe-1", nil))
}

func TestAssembler_AlreadyComplete(t *testing.T) {
	store := new(MockRecipeStore)
	notifier := new(MockNotifier)
	a := NewAssembler(store, notifier, testMessages)

	rec := threeLineRecipe()
	rec.IsComplete = true
	store.On("Get", mock.Anything, "recipe-1").Return(rec, nil)

	assert.NoError(t, a.Assemble(context.Background(), "recipe-1", nil))
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssembler_MissingRecipe(t *testing.T) {
	store := new(MockRecipeStore)
	a := NewAssembler(store, new(MockNotifier), testMessages)
	store.On("Get", mock.Anything, "recipe-1").Return(nil, recipe.ErrNotFound)

	err := a.Assemble(context.Background(), "recipe-1", nil)
	assert.ErrorIs(t, err, ingredient.ErrStoreInconsistency)
}
