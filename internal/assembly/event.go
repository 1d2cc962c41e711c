package assembly

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"recipebox/backend/internal/ingredient"
)

var ErrUnknownEventShape = errors.New("unrecognised failure event")

// FailureEvent is published when a batch fails outright. Its payload is either
// the work items that were still in flight or the outcomes gathered so far;
// which one depends on how far the batch got before it failed.
type FailureEvent struct {
	WorkItems []ingredient.WorkItem
	Outcomes  []ingredient.BatchOutcome
}

func WorkItemsFailed(items []ingredient.WorkItem) FailureEvent {
	return FailureEvent{WorkItems: items}
}

func OutcomesFailed(outcomes []ingredient.BatchOutcome) FailureEvent {
	return FailureEvent{Outcomes: outcomes}
}

func (e FailureEvent) RecipeID() (string, error) {
	switch {
	case len(e.WorkItems) > 0 && e.WorkItems[0].RecipeID != "":
		return e.WorkItems[0].RecipeID, nil
	case len(e.Outcomes) > 0 && e.Outcomes[0].OriginalWorkItem.RecipeID != "":
		return e.Outcomes[0].OriginalWorkItem.RecipeID, nil
	}
	return "", ErrUnknownEventShape
}

func (e FailureEvent) MarshalJSON() ([]byte, error) {
	if e.Outcomes != nil {
		return json.Marshal(e.Outcomes)
	}
	if e.WorkItems == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.WorkItems)
}

// UnmarshalJSON matches the payload by structure: outcome elements carry an
// originalWorkItem object, work item elements carry recipeId at the top level.
func (e *FailureEvent) UnmarshalJSON(data []byte) error {
	var elems []map[string]json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownEventShape, err)
	}
	if len(elems) == 0 {
		*e = FailureEvent{}
		return nil
	}

	_, isOutcome := elems[0]["originalWorkItem"]
	_, isItem := elems[0]["recipeId"]
	dec := json.NewDecoder(bytes.NewReader(data))
	switch {
	case isOutcome:
		var outs []ingredient.BatchOutcome
		if err := dec.Decode(&outs); err != nil {
			return err
		}
		*e = FailureEvent{Outcomes: outs}
	case isItem:
		var items []ingredient.WorkItem
		if err := dec.Decode(&items); err != nil {
			return err
		}
		*e = FailureEvent{WorkItems: items}
	default:
		return ErrUnknownEventShape
	}
	return nil
}
