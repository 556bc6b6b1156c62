package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
)

type createJobRequest struct {
	Kind           string          `json:"kind"`
	SourceAssetKey string          `json:"source_asset_key"`
	Parameters     json.RawMessage `json:"parameters"`
}

type jobView struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	SourceAssetKey string          `json:"source_asset_key"`
	Parameters     json.RawMessage `json:"parameters"`
	ResultAssetKey string          `json:"result_asset_key,omitempty"`
	ErrorReason    string          `json:"error_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func viewOf(job *domain.Job) jobView {
	return jobView{
		ID:             job.ID,
		Kind:           string(job.Kind),
		Status:         string(job.Status),
		SourceAssetKey: job.SourceAssetKey,
		Parameters:     json.RawMessage(job.ParamsJSON),
		ResultAssetKey: job.ResultAssetKey,
		ErrorReason:    job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// JobsCreate accepts a generation request and answers as soon as the job is
// durable; processing happens asynchronously.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Jobs.CreateJob(r.Context(), userID, domain.JobKind(req.Kind), req.SourceAssetKey, req.Parameters)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			a.json(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation_failed",
				"fields": verr.Fields,
			})
			return
		}
		a.Logger.Error().Err(err).Str("kind", req.Kind).Msg("job submission failed")
		a.error(w, http.StatusInternalServerError, "internal", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": string(job.Status)})
}

// JobsGet reports the latest committed state of one job.
func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.GetJobForOwner(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		if a.notFound(w, err) {
			return
		}
		a.Logger.Error().Err(err).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

// JobsList returns the caller's jobs most-recent-first.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	jobs, err := a.Jobs.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Msg("job listing failed")
		a.error(w, http.StatusInternalServerError, "internal", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, viewOf(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// JobsResult issues a download credential for a finished job's output.
func (a *App) JobsResult(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.GetJobForOwner(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		if a.notFound(w, err) {
			return
		}
		a.Logger.Error().Err(err).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	url, err := a.Jobs.ResultURL(r.Context(), job)
	if err != nil {
		if a.notFound(w, err) {
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to presign result download")
		a.error(w, http.StatusServiceUnavailable, "storage_unavailable", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	a.json(w, http.StatusOK, map[string]string{"download_url": url})
}
