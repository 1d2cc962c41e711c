package job

import (
	"encoding/json"
	"time"
)

// Job is an NSQ message that exhausted its delivery attempts. Retrying it
// republishes Payload to Topic.
type Job struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	RecipeID  string          `json:"recipe_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
