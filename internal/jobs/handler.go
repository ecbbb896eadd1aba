package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/stride-app/stride-api/internal/domain"
)

// Handler executes one attempt of a job. Returning nil marks the job
// succeeded; returning an error records a failed attempt. Wrap the error
// with Permanent to skip the retry budget and move the job straight to
// the dead state.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so the worker moves the job to the dead state
// immediately instead of rescheduling it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Registry maps job types to their handlers.
type Registry struct {
	handlers map[domain.JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register binds a handler to a job type. Registering the same type twice
// is a programming error and panics at startup.
func (r *Registry) Register(jobType domain.JobType, handler Handler) {
	if !jobType.IsValid() {
		panic(fmt.Sprintf("jobs: registering handler for unknown job type %q", jobType))
	}
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("jobs: handler for job type %q already registered", jobType))
	}
	r.handlers[jobType] = handler
}

// Resolve returns the handler for the given job type, or false when none
// is registered.
func (r *Registry) Resolve(jobType domain.JobType) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}
