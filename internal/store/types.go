package store

import "time"

// Outcome of an executed operation.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// OperationEntry is one row of the operation log.
type OperationEntry struct {
	Seq         int64     `json:"seq"`
	RunID       string    `json:"run_id"`
	OperationID string    `json:"operation_id"`
	WorkItemID  string    `json:"work_item_id"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// timeLayout is used for every persisted timestamp.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
