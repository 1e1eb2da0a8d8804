package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/syncblob"
	"github.com/tillsync/tillsync/pkg/errors"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type vaultHandler struct {
	encoder encoder
	log     zerolog.Logger
	service syncblob.Service
	scope   string
}

func newVaultHandler(encoder encoder, log zerolog.Logger, service syncblob.Service, scope string) *vaultHandler {
	return &vaultHandler{
		encoder: encoder,
		log:     log,
		service: service,
		scope:   scope,
	}
}

func (h vaultHandler) Routes(r chi.Router) {
	r.Post("/", h.reconcile)
	r.Get("/", h.retrieve)
	r.Get("/exists", h.exists)
	r.Get("/history", h.history)
	r.Delete("/", h.wipe)
}

type reconcileRequest struct {
	Version       string `json:"version"`
	EncryptedData string `json:"encrypted_data"`
	RecoveryHash  string `json:"recovery_hash"`
}

type reconcileResponse struct {
	Outcome       domain.ReconcileOutcome `json:"outcome"`
	LatestID      string                  `json:"latest_id"`
	LatestVersion string                  `json:"latest_version"`
}

func (h vaultHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		data reconcileRequest
	)

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.log.Warn().Err(err).Msg("vault: failed to decode reconcile request body")
		h.encoder.StatusResponse(ctx, w, nil, http.StatusBadRequest)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(data.EncryptedData)
	if err != nil {
		h.encoder.StatusResponse(ctx, w, errorResponse{
			Message: "encrypted_data must be base64",
			Status:  http.StatusBadRequest,
		}, http.StatusBadRequest)
		return
	}

	candidate := domain.SyncBlob{
		Scope:         h.scope,
		Version:       data.Version,
		EncryptedData: payload,
		RecoveryHash:  data.RecoveryHash,
		Timestamp:     time.Now().UTC(),
	}

	outcome, latest, err := h.service.Reconcile(ctx, candidate)
	if err != nil {
		if errors.Is(err, syncblob.ErrInvalidVersion) || errors.Is(err, syncblob.ErrEmptyPayload) || errors.Is(err, syncblob.ErrEmptyRecoveryHash) {
			h.encoder.StatusResponse(ctx, w, errorResponse{
				Message: err.Error(),
				Status:  http.StatusBadRequest,
			}, http.StatusBadRequest)
			return
		}

		h.log.Error().Err(err).Msgf("vault: reconcile failed scope: %s version: %s", h.scope, data.Version)
		h.encoder.Error(w, err)
		return
	}

	resp := reconcileResponse{Outcome: outcome}
	if latest != nil {
		resp.LatestID = latest.ID
		resp.LatestVersion = latest.Version
	}

	status := http.StatusOK
	if outcome == domain.OutcomeStored || outcome == domain.OutcomeReplaced {
		status = http.StatusCreated
	}

	h.encoder.StatusResponse(ctx, w, resp, status)
}

func (h vaultHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	var (
		ctx          = r.Context()
		recoveryHash = r.Header.Get("X-Recovery-Hash")
	)

	blob, err := h.service.Retrieve(ctx, h.scope, recoveryHash)
	if err != nil {
		switch {
		case errors.Is(err, syncblob.ErrNoBlobForScope):
			h.encoder.StatusNotFound(ctx, w)
		case errors.Is(err, syncblob.ErrRecoveryHashMismatch):
			h.log.Warn().Msgf("vault: recovery hash mismatch scope: %s ip: %s", h.scope, ReadUserIP(r))
			h.encoder.StatusResponse(ctx, w, nil, http.StatusForbidden)
		default:
			h.encoder.Error(w, err)
		}
		return
	}

	h.encoder.StatusResponse(ctx, w, blob, http.StatusOK)
}

func (h vaultHandler) exists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	exists, err := h.service.Exists(ctx, h.scope)
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	h.encoder.StatusResponse(ctx, w, struct {
		Exists bool `json:"exists"`
	}{Exists: exists}, http.StatusOK)
}

func (h vaultHandler) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blobs, err := h.service.History(ctx, h.scope)
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	if blobs == nil {
		blobs = []domain.SyncBlob{}
	}

	h.encoder.StatusResponse(ctx, w, blobs, http.StatusOK)
}

func (h vaultHandler) wipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Wipe(ctx, h.scope); err != nil {
		h.encoder.Error(w, err)
		return
	}

	h.log.Info().Msgf("vault: wiped blob history scope: %s", h.scope)

	h.encoder.NoContent(w)
}
