package queue

import (
	"github.com/hibiken/asynq"
)

// HandlersRegistry maps task types to their handlers for the worker process.
// The upload session sweeper is the only registrant today; new background
// jobs register here and the worker serves them off the same mux.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

// Mux exposes the underlying mux for asynq.Server.Run.
func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}
