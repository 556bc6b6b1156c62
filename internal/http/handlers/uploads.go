package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/middleware"
)

// UploadIssuer is the slice of the object storage gateway the upload
// endpoint needs.
type UploadIssuer interface {
	PresignUpload(ctx context.Context, fileName, contentType string, purpose domain.Purpose) (*domain.UploadCredential, error)
}

type uploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Purpose     string `json:"purpose"`
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

// UploadsCreate issues a presigned upload credential. The client PUTs the
// file bytes straight to storage; they never pass through this service.
func (a *App) UploadsCreate(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	purpose, err := domain.ParsePurpose(req.Purpose)
	if err != nil {
		a.error(w, http.StatusBadRequest, "unknown_purpose", "purpose must name a generation kind")
		return
	}
	cred, err := a.Uploads.PresignUpload(r.Context(), req.FileName, req.ContentType, purpose)
	if err != nil {
		a.Logger.Error().Err(err).Str("purpose", req.Purpose).Msg("failed to presign upload")
		a.error(w, http.StatusServiceUnavailable, "storage_unavailable", tryAgainMessage(middleware.LocaleFromContext(r.Context())))
		return
	}
	a.json(w, http.StatusCreated, uploadResponse{UploadURL: cred.UploadURL, ObjectKey: cred.ObjectKey})
}

// notFound maps a domain.ErrNotFound to a 404 with a generic body.
func (a *App) notFound(w http.ResponseWriter, err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return true
	}
	return false
}
