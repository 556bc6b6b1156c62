package processor

import (
	"context"
	"errors"

	"server/internal/domain"
)

// Outcome enumerates what a processor can report back about a job.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Valid reports whether o is a recognized outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeStarted || o == OutcomeSucceeded || o == OutcomeFailed
}

// Event is a processor's notification about a job. Delivery is
// at-least-once and order is not guaranteed; the job store absorbs
// duplicates.
type Event struct {
	Outcome   Outcome `json:"outcome"`
	ResultKey string  `json:"result_key,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// ErrPollNotSupported is returned by dispatchers whose backend offers no
// status endpoint; those jobs rely solely on callbacks.
var ErrPollNotSupported = errors.New("processor does not support polling")

// Dispatcher forwards a job to one external processing backend. Dispatch is
// fire-and-forget: a nil error means the processor accepted the request, not
// that the work finished. The returned ref, when non-empty, is the
// processor's handle for later polling.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job, callbackURL string) (ref string, err error)
	Poll(ctx context.Context, ref string) (*Event, error)
}

// Registry maps each job kind to its dispatcher. The kind set is closed, so
// dispatch is a table lookup rather than runtime branching.
type Registry map[domain.JobKind]Dispatcher

// For returns the dispatcher responsible for the kind.
func (r Registry) For(kind domain.JobKind) (Dispatcher, bool) {
	d, ok := r[kind]
	return d, ok
}
