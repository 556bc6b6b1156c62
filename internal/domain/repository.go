package domain

import "context"

// TransitionFields carries the optional payload of a status transition.
// Exactly one of ResultAssetKey/ErrorMessage is set when the target status
// is terminal; both stay empty otherwise.
type TransitionFields struct {
	ResultAssetKey string
	ErrorMessage   string
}

// JobRepository defines persistence for job entities. It is the single
// source of truth for the lifecycle: Transition must apply the
// check-and-update atomically so concurrent callbacks cannot produce an
// invalid state history.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error)
	// Transition moves the job to the given status if and only if its
	// current status permits it per CanTransition. It returns
	// ErrInvalidTransition otherwise and ErrNotFound for unknown jobs.
	Transition(ctx context.Context, jobID string, to JobStatus, fields TransitionFields) error
	// SetProcessorRef records the external processor's request handle.
	// It is not a lifecycle transition.
	SetProcessorRef(ctx context.Context, jobID, ref string) error
	// ListPollable returns non-terminal jobs with a processor ref that have
	// not been updated for at least the given number of seconds.
	ListPollable(ctx context.Context, staleSeconds int, limit int) ([]Job, error)
}

// UploadCredential authorizes a single direct upload to object storage.
type UploadCredential struct {
	UploadURL string
	ObjectKey string
}

// ObjectStore issues time-limited storage credentials and answers
// best-effort existence checks. It holds no state of its own.
type ObjectStore interface {
	PresignUpload(ctx context.Context, fileName, contentType string, purpose Purpose) (*UploadCredential, error)
	// PresignDownload returns a short-lived read URL, or ErrNotFound when
	// the key is unknown to storage.
	PresignDownload(ctx context.Context, objectKey string) (string, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
}
