package recipe

import (
	"errors"
	"time"

	"recipebox/backend/internal/ingredient"
)

var ErrNotFound = errors.New("recipe not found")

type Ingredient struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Unit             *string `json:"unit"`
	Quantity         *string `json:"quantity"`
	PreparationNotes *string `json:"preparationNotes"`
	OriginalText     string  `json:"originalText"`
	IsProcessed      bool    `json:"isProcessed"`
}

type IngredientGroup struct {
	ID          string       `json:"id"`
	Name        *string      `json:"name"`
	Ingredients []Ingredient `json:"ingredients"`
}

type Content struct {
	Title            string            `json:"title"`
	Description      *string           `json:"description"`
	Steps            []string          `json:"steps"`
	IngredientGroups []IngredientGroup `json:"ingredientGroups"`
	URL              string            `json:"url"`
	Category         *string           `json:"category"`
	ImageURL         string            `json:"imageUrl"`
	Lang             string            `json:"lang"`
}

// Recipe is the stored aggregate. Once IsComplete is set it is no longer mutated.
type Recipe struct {
	ID                  string                       `json:"id"`
	OwnerID             string                       `json:"-"`
	Content             Content                      `json:"recipe"`
	IngredientStatuses  map[string]ingredient.Status `json:"ingredientStatuses"`
	IsComplete          bool                         `json:"-"`
	HasParsingSucceeded *bool                        `json:"-"`
	NotificationChannel *string                      `json:"-"`
	ExpiresAt           time.Time                    `json:"-"`
	CreatedAt           time.Time                    `json:"-"`
}

// Succeeded treats a recipe scraped without ingredient parsing as successful.
func (r *Recipe) Succeeded() bool {
	return r.HasParsingSucceeded == nil || *r.HasParsingSucceeded
}

// Locate returns the group and position of an ingredient.
func (c *Content) Locate(ingredientID string) (group, index int, ok bool) {
	for g := range c.IngredientGroups {
		for i := range c.IngredientGroups[g].Ingredients {
			if c.IngredientGroups[g].Ingredients[i].ID == ingredientID {
				return g, i, true
			}
		}
	}
	return 0, 0, false
}

type Counts struct {
	Processing int `json:"processing"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
}
