package resolution

import (
	"time"

	"recipebox/backend/internal/ingredient"
)

// RetryPolicy bounds re-dispatch of a line. The attempt counter travels inside
// the work item itself.
type RetryPolicy struct {
	MaxAttempts int
}

// Next returns the work item for the next attempt, or false when the budget is
// spent or the recipe has expired.
func (p RetryPolicy) Next(item ingredient.WorkItem, now time.Time) (ingredient.WorkItem, bool) {
	if item.AttemptCount >= p.MaxAttempts || item.Expired(now) {
		return item, false
	}
	item.AttemptCount++
	return item, true
}
