package handlers

import (
	"context"
	"net/http"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
)

// StatsSource lists live processors.
type StatsSource interface {
	Stats(ctx context.Context) []engine.Stats
}

// ProcessorsHandler exposes processor statistics. It is read-only; nothing
// here can change a schedule.
type ProcessorsHandler struct {
	source StatsSource
}

func NewProcessorsHandler(source StatsSource) *ProcessorsHandler {
	if source == nil {
		panic("handlers: stats source cannot be nil")
	}
	return &ProcessorsHandler{source: source}
}

// List answers GET /admin/processors, optionally filtered by ?doctor_id= and
// ?day=.
func (h *ProcessorsHandler) List(w http.ResponseWriter, r *http.Request) {
	doctor := r.URL.Query().Get("doctor_id")
	day := r.URL.Query().Get("day")

	out := make([]engine.Stats, 0)
	for _, s := range h.source.Stats(r.Context()) {
		if doctor != "" && s.DoctorID != doctor {
			continue
		}
		if day != "" && s.Day != day {
			continue
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": out, "count": len(out)})
}
