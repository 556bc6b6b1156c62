package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/processor"
)

type callbackRequest struct {
	Outcome   string `json:"outcome"`
	ResultKey string `json:"result_key"`
	Reason    string `json:"reason"`
}

// ProcessorCallback receives completion and progress events from external
// processors. Delivery is at-least-once and unordered; anything already
// settled is acknowledged as a no-op so processors never retry forever.
func (a *App) ProcessorCallback(w http.ResponseWriter, r *http.Request) {
	if a.CallbackToken != "" && !a.callbackAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback token")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	ev := processor.Event{
		Outcome:   processor.Outcome(req.Outcome),
		ResultKey: req.ResultKey,
		Reason:    req.Reason,
	}
	if err := a.Jobs.ApplyEvent(r.Context(), jobID, ev); err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			a.error(w, http.StatusBadRequest, "bad_request", verr.Error())
		case errors.Is(err, domain.ErrUnknownJob):
			a.error(w, http.StatusNotFound, "unknown_job", "no job with that id")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("callback processing failed")
			a.error(w, http.StatusInternalServerError, "internal", "event not applied")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (a *App) callbackAuthorized(r *http.Request) bool {
	if r.Header.Get("X-Callback-Token") == a.CallbackToken {
		return true
	}
	// FAL webhooks cannot set custom headers; the token rides on the URL.
	return r.URL.Query().Get("token") == a.CallbackToken
}
