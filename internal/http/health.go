package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger is satisfied by the local database and the record ledger client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthHandler struct {
	encoder encoder
	db      Pinger
	ledger  Pinger
}

func newHealthHandler(encoder encoder, db Pinger, ledger Pinger) *healthHandler {
	return &healthHandler{
		encoder: encoder,
		db:      db,
		ledger:  ledger,
	}
}

func (h healthHandler) Routes(r chi.Router) {
	r.Get("/liveness", h.handleLiveness)
	r.Get("/readiness", h.handleReadiness)
}

func (h healthHandler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeHealthy(w)
}

func (h healthHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeUnhealthy(w, "Unhealthy. Database unreachable")
		return
	}

	if err := h.ledger.Ping(r.Context()); err != nil {
		writeUnhealthy(w, "Unhealthy. Record ledger unreachable")
		return
	}

	writeHealthy(w)
}

func writeHealthy(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeUnhealthy(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(reason))
}
