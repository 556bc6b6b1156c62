package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the router-level policy knobs.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
}

// NewRouter assembles the public HTTP surface.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserID)

		r.Post("/v1/uploads", app.UploadsCreate)
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/", app.JobsList)
			r.Get("/{job_id}", app.JobsGet)
			r.Get("/{job_id}/result", app.JobsResult)
		})
	})

	// Processor-facing; authenticated by callback token, not user identity.
	r.Post("/v1/internal/callbacks/{job_id}", app.ProcessorCallback)

	r.Get("/v1/stats/summary", app.StatsSummary)

	return r
}
