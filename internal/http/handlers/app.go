package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/middleware"
	"server/internal/service"
)

// App bundles the dependencies of the HTTP layer.
type App struct {
	Jobs          *service.Jobs
	Uploads       UploadIssuer
	Stats         StatsSource
	Logger        zerolog.Logger
	CallbackToken string
}

func NewApp(jobs *service.Jobs, uploads UploadIssuer, stats StatsSource, logger zerolog.Logger, callbackToken string) *App {
	return &App{Jobs: jobs, Uploads: uploads, Stats: stats, Logger: logger, CallbackToken: callbackToken}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// tryAgainMessage is the generic user-facing text for storage-layer access
// problems; the detail goes to the log, not the client.
func tryAgainMessage(locale string) string {
	switch locale {
	case "es":
		return "algo salió mal, inténtalo de nuevo"
	case "pt":
		return "algo deu errado, tente novamente"
	case "ja":
		return "問題が発生しました。もう一度お試しください"
	case "ko":
		return "문제가 발생했습니다. 다시 시도해 주세요"
	default:
		return "something went wrong, please try again"
	}
}
