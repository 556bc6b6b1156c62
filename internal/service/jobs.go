package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/processor"
)

// Jobs implements the submission service and the processing callback
// handler on top of the job store, the object storage gateway and the
// per-kind dispatcher registry. It keeps no state of its own; everything
// shared lives in the store.
type Jobs struct {
	repo        domain.JobRepository
	store       domain.ObjectStore
	registry    processor.Registry
	callbackURL string
	token       string
	logger      zerolog.Logger
}

// NewJobs wires the job lifecycle service. callbackBase is the externally
// reachable prefix under which processors deliver events; token, when set,
// is appended so the callback endpoint can authenticate deliveries.
func NewJobs(repo domain.JobRepository, store domain.ObjectStore, registry processor.Registry, callbackBase, token string, logger zerolog.Logger) *Jobs {
	return &Jobs{
		repo:        repo,
		store:       store,
		registry:    registry,
		callbackURL: strings.TrimSuffix(callbackBase, "/"),
		token:       token,
		logger:      logger,
	}
}

// CreateJob validates the request, persists the job as queued and forwards
// it to the processor for its kind. It returns once persistence succeeds;
// a synchronous dispatch failure moves the job to failed instead of
// surfacing as an error, so the returned job always reflects the committed
// state.
func (s *Jobs) CreateJob(ctx context.Context, ownerID string, kind domain.JobKind, sourceAssetKey string, rawParams json.RawMessage) (*domain.Job, error) {
	verr := &domain.ValidationError{}
	if ownerID == "" {
		verr.Add("owner_id", "required")
	}
	if !kind.Valid() {
		verr.Add("kind", "must be one of photo_to_video, video_translation, emotion_control, audio_replacement")
	}
	if sourceAssetKey == "" {
		verr.Add("source_asset_key", "required")
	} else if kind.Valid() && domain.KeyPurpose(sourceAssetKey) != domain.PurposeForKind(kind) {
		verr.Add("source_asset_key", fmt.Sprintf("was not issued for %s uploads", kind))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if len(rawParams) == 0 {
		rawParams = json.RawMessage(`{}`)
	}
	params, err := domain.DecodeParams(kind, rawParams)
	if err != nil {
		return nil, err
	}
	// Store the normalized form, not the client's UI-scale payload.
	canonical, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           kind,
		Status:         domain.JobStatusQueued,
		SourceAssetKey: sourceAssetKey,
		ParamsJSON:     canonical,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	// Dispatch happens after the insert committed, outside any store
	// operation, so a slow processor never blocks observers of the queued
	// job. A queued job must always have an outstanding dispatch: when the
	// processor rejects synchronously the job goes straight to failed.
	s.dispatch(ctx, job)
	return job, nil
}

func (s *Jobs) dispatch(ctx context.Context, job *domain.Job) {
	d, ok := s.registry.For(job.Kind)
	if !ok {
		s.failDispatch(ctx, job, fmt.Errorf("no processor registered for kind %s", job.Kind))
		return
	}
	ref, err := d.Dispatch(ctx, job, s.CallbackURL(job.ID))
	if err != nil {
		s.failDispatch(ctx, job, err)
		return
	}
	if ref != "" {
		if err := s.repo.SetProcessorRef(ctx, job.ID, ref); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record processor ref")
		} else {
			job.ProcessorRef = ref
		}
	}
	s.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("ref", ref).Msg("job dispatched")
}

func (s *Jobs) failDispatch(ctx context.Context, job *domain.Job, cause error) {
	reason := "dispatch failed: " + cause.Error()
	s.logger.Error().Err(cause).Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("dispatch failed")
	if err := s.repo.Transition(ctx, job.ID, domain.JobStatusFailed, domain.TransitionFields{ErrorMessage: reason}); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record dispatch failure")
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = reason
}

// CallbackURL builds the processor callback address for a job.
func (s *Jobs) CallbackURL(jobID string) string {
	u := s.callbackURL + "/v1/internal/callbacks/" + jobID
	if s.token != "" {
		u += "?token=" + url.QueryEscape(s.token)
	}
	return u
}

// ApplyEvent transitions a job according to a processor event. Delivery is
// at-least-once and unordered: duplicates and late events against terminal
// jobs are absorbed as no-ops, never surfaced as errors.
func (s *Jobs) ApplyEvent(ctx context.Context, jobID string, ev processor.Event) error {
	if !ev.Outcome.Valid() {
		verr := &domain.ValidationError{}
		return verr.Add("outcome", "must be one of started, succeeded, failed")
	}

	var to domain.JobStatus
	var fields domain.TransitionFields
	switch ev.Outcome {
	case processor.OutcomeStarted:
		to = domain.JobStatusProcessing
	case processor.OutcomeFailed:
		to = domain.JobStatusFailed
		fields.ErrorMessage = ev.Reason
		if fields.ErrorMessage == "" {
			fields.ErrorMessage = "processing failed"
		}
	case processor.OutcomeSucceeded:
		// A job must never succeed with an unusable result reference.
		ok, err := s.verifyResult(ctx, ev.ResultKey)
		if err != nil {
			return err
		}
		if !ok {
			to = domain.JobStatusFailed
			fields.ErrorMessage = fmt.Sprintf("result asset verification failed: %s", ev.ResultKey)
		} else {
			to = domain.JobStatusSucceeded
			fields.ResultAssetKey = ev.ResultKey
		}
	}

	err := s.repo.Transition(ctx, jobID, to, fields)
	switch {
	case err == nil:
		s.logger.Info().Str("job_id", jobID).Str("status", string(to)).Msg("job transitioned")
		return nil
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Warn().Str("job_id", jobID).Str("outcome", string(ev.Outcome)).Msg("callback for unknown job dropped")
		return domain.ErrUnknownJob
	case errors.Is(err, domain.ErrInvalidTransition):
		job, getErr := s.repo.GetByID(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		if job.Status.Terminal() {
			s.logger.Warn().Str("job_id", jobID).Str("outcome", string(ev.Outcome)).Str("status", string(job.Status)).Msg("duplicate delivery for terminal job ignored")
			return nil
		}
		if ev.Outcome == processor.OutcomeStarted {
			// At-least-once start acks against an already-processing job.
			s.logger.Warn().Str("job_id", jobID).Msg("duplicate start ack ignored")
			return nil
		}
		s.logger.Error().Str("job_id", jobID).Str("status", string(job.Status)).Str("outcome", string(ev.Outcome)).Msg("unexpected transition ordering")
		return nil
	default:
		return err
	}
}

func (s *Jobs) verifyResult(ctx context.Context, resultKey string) (bool, error) {
	if resultKey == "" {
		return false, nil
	}
	ok, err := s.store.Exists(ctx, resultKey)
	if err != nil {
		return false, fmt.Errorf("verify result asset: %w", err)
	}
	return ok, nil
}

// GetJobForOwner fetches a job scoped to its owner. Jobs belonging to other
// owners are indistinguishable from missing ones.
func (s *Jobs) GetJobForOwner(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// ListJobs returns the owner's jobs most-recent-first.
func (s *Jobs) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// ResultURL issues a download credential for a succeeded job's result.
func (s *Jobs) ResultURL(ctx context.Context, job *domain.Job) (string, error) {
	if job.Status != domain.JobStatusSucceeded {
		return "", domain.ErrNotFound
	}
	return s.store.PresignDownload(ctx, job.ResultAssetKey)
}

// Poll reconciles one stale job against its processor. It returns true when
// an event was applied.
func (s *Jobs) Poll(ctx context.Context, job *domain.Job) (bool, error) {
	d, ok := s.registry.For(job.Kind)
	if !ok {
		return false, fmt.Errorf("no processor registered for kind %s", job.Kind)
	}
	ev, err := d.Poll(ctx, job.ProcessorRef)
	if err != nil {
		if errors.Is(err, processor.ErrPollNotSupported) {
			return false, nil
		}
		return false, err
	}
	if ev == nil {
		return false, nil
	}
	if err := s.ApplyEvent(ctx, job.ID, *ev); err != nil {
		return false, err
	}
	return true, nil
}

// ListPollable exposes the store's stale-job scan to the worker.
func (s *Jobs) ListPollable(ctx context.Context, staleSeconds, limit int) ([]domain.Job, error) {
	return s.repo.ListPollable(ctx, staleSeconds, limit)
}
