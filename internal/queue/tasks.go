package queue

const TypeSessionSweep = "session:sweep"

// SessionSweepPayload asks the worker to check one upload session for
// staleness and remove its staging area if it has gone idle.
type SessionSweepPayload struct {
	ContentKey string `json:"content_key"`
}
