package handlers

import (
	"context"
	"net/http"

	"server/internal/domain"
)

// StatsSource provides aggregate job counters.
type StatsSource interface {
	StatsSummary(ctx context.Context) (*domain.JobStats, error)
}

func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	if a.Stats == nil {
		a.error(w, http.StatusNotFound, "not_found", "stats disabled")
		return
	}
	stats, err := a.Stats.StatsSummary(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":        stats.Total,
		"succeeded":    stats.Succeeded,
		"failed":       stats.Failed,
		"success_rate": stats.SuccessRate,
	})
}
