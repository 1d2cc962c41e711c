package ingredient

import "time"

type Status string

const (
	StatusOK                    Status = "ok"
	StatusOff                   Status = "off"
	StatusLineTooLong           Status = "lineTooLong"
	StatusUnparsableModelOutput Status = "unparsableModelOutput"
	StatusProviderError         Status = "providerError"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusOff, StatusLineTooLong, StatusUnparsableModelOutput, StatusProviderError:
		return true
	}
	return false
}

// WorkItem is one ingredient line pending resolution. Only AttemptCount changes
// over its lifetime.
type WorkItem struct {
	RecipeID         string    `json:"recipeId"`
	IngredientID     string    `json:"ingredientId"`
	Content          string    `json:"content"`
	DetectedLanguage string    `json:"detectedLanguage,omitempty"`
	FallbackLanguage string    `json:"fallbackLanguage"`
	RecipeExpiry     time.Time `json:"recipeExpiry"`
	AttemptCount     int       `json:"attemptCount"`
}

// Expired reports whether the owning recipe is past its expiry. A zero expiry never expires.
func (w WorkItem) Expired(now time.Time) bool {
	return !w.RecipeExpiry.IsZero() && !now.Before(w.RecipeExpiry)
}

// ParsedIngredient is a single resolved ingredient. Quantity stays a string so
// ranges ("1-2") and fractions ("1/2") survive.
type ParsedIngredient struct {
	Name             string  `json:"name"`
	Quantity         *string `json:"quantity,omitempty"`
	Unit             *string `json:"unit,omitempty"`
	PreparationNotes *string `json:"preparationNotes,omitempty"`
	OriginalText     string  `json:"originalText"`
	Resolved         bool    `json:"resolved"`
}

type BatchOutcome struct {
	Status           Status             `json:"status"`
	OriginalWorkItem WorkItem           `json:"originalWorkItem"`
	Results          []ParsedIngredient `json:"results"`
}

// Fallback resolves a line to exactly one unresolved ingredient echoing the input.
func Fallback(item WorkItem, status Status) BatchOutcome {
	return BatchOutcome{
		Status:           status,
		OriginalWorkItem: item,
		Results: []ParsedIngredient{{
			Name:         item.Content,
			OriginalText: item.Content,
			Resolved:     false,
		}},
	}
}

func Resolved(item WorkItem, results []ParsedIngredient) BatchOutcome {
	if results == nil {
		results = []ParsedIngredient{}
	}
	return BatchOutcome{Status: StatusOK, OriginalWorkItem: item, Results: results}
}

// Prompt is a provider-agnostic inference request.
type Prompt struct {
	Language     string
	Instructions string
	Examples     []Example
	Input        string
}

type Example struct {
	Input  string
	Output string
}
