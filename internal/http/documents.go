package http

import (
	"encoding/json"
	"net/http"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/pkg/errors"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// sessionSource hands the handler the current cipher session. The session is
// re-read per request so a lock between requests takes effect immediately.
type sessionSource interface {
	Session() *cipher.Session
}

type documentHandler struct {
	encoder encoder
	log     zerolog.Logger
	service docstore.Service
	source  sessionSource
}

func newDocumentHandler(encoder encoder, log zerolog.Logger, service docstore.Service, source sessionSource) *documentHandler {
	return &documentHandler{
		encoder: encoder,
		log:     log,
		service: service,
		source:  source,
	}
}

func (h documentHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Put("/{documentKey}", h.store)
	r.Get("/{documentKey}", h.get)
	r.Delete("/{documentKey}", h.delete)
	r.Post("/sweep", h.sweep)
}

func (h documentHandler) store(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context()
		key = chi.URLParam(r, "documentKey")
	)

	var doc interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.log.Warn().Err(err).Msgf("documents: invalid body for key: %s", key)
		h.encoder.StatusResponse(ctx, w, errorResponse{
			Message: "request body must be valid JSON",
			Status:  http.StatusBadRequest,
		}, http.StatusBadRequest)
		return
	}

	if err := h.service.Set(ctx, h.source.Session(), key, doc); err != nil {
		h.writeDocError(w, r, key, err)
		return
	}

	h.encoder.NoContent(w)
}

func (h documentHandler) get(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context()
		key = chi.URLParam(r, "documentKey")
	)

	doc, err := h.service.Get(ctx, h.source.Session(), key)
	if err != nil {
		h.writeDocError(w, r, key, err)
		return
	}

	if doc == nil {
		h.encoder.StatusNotFound(ctx, w)
		return
	}

	h.encoder.StatusResponse(ctx, w, domain.Document{Key: key, Value: doc}, http.StatusOK)
}

func (h documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context()
		key = chi.URLParam(r, "documentKey")
	)

	if err := h.service.Delete(ctx, key); err != nil {
		h.writeDocError(w, r, key, err)
		return
	}

	h.encoder.NoContent(w)
}

func (h documentHandler) list(w http.ResponseWriter, r *http.Request) {
	var (
		ctx    = r.Context()
		prefix = r.URL.Query().Get("prefix")
	)

	docs, err := h.service.ListByPrefix(ctx, h.source.Session(), prefix)
	if err != nil {
		h.writeDocError(w, r, prefix, err)
		return
	}

	if docs == nil {
		docs = []domain.Document{}
	}

	h.encoder.StatusResponse(ctx, w, docs, http.StatusOK)
}

func (h documentHandler) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.service.Sweep(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("documents: manual sweep failed")
		h.encoder.Error(w, err)
		return
	}

	h.encoder.StatusResponse(ctx, w, report, http.StatusOK)
}

func (h documentHandler) writeDocError(w http.ResponseWriter, r *http.Request, key string, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, cipher.ErrKeyUnavailable):
		h.encoder.StatusResponse(ctx, w, errorResponse{
			Message: "Locked: no active cipher session",
			Status:  http.StatusPreconditionFailed,
		}, http.StatusPreconditionFailed)
	case errors.Is(err, domain.ErrMissingChunk):
		h.log.Error().Err(err).Msgf("documents: unreadable chunked document key: %s", key)
		h.encoder.StatusResponse(ctx, w, errorResponse{
			Message: err.Error(),
			Status:  http.StatusBadGateway,
		}, http.StatusBadGateway)
	default:
		h.log.Error().Err(err).Msgf("documents: operation failed key: %s", key)
		h.encoder.Error(w, err)
	}
}
