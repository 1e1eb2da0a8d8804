package http

import (
	"encoding/json"
	"net/http"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

// sessionCookieName is the cookie marking a client that performed the
// unlock. RequireUnlocked checks it alongside the server-side session.
const sessionCookieName = "till_session"

// sessionHolder is the part of the server the handler needs: swapping the
// active cipher session in and out.
type sessionHolder interface {
	Session() *cipher.Session
	setSession(sess *cipher.Session)
	clearSession()
}

type sessionHandler struct {
	encoder encoder
	log     zerolog.Logger
	config  *domain.Config
	holder  sessionHolder

	cookieStore *sessions.CookieStore
}

func newSessionHandler(encoder encoder, log zerolog.Logger, config *domain.Config, cookieStore *sessions.CookieStore, holder sessionHolder) *sessionHandler {
	return &sessionHandler{
		encoder:     encoder,
		log:         log,
		config:      config,
		cookieStore: cookieStore,
		holder:      holder,
	}
}

func (h sessionHandler) Routes(r chi.Router) {
	r.Post("/unlock", h.unlock)
	r.Post("/lock", h.lock)
	r.Get("/status", h.status)
}

type unlockRequest struct {
	Phrase string `json:"phrase"`
	Pin    string `json:"pin"`
}

type sessionStatusResponse struct {
	Unlocked bool `json:"unlocked"`
}

func (h sessionHandler) unlock(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		data unlockRequest
	)

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.log.Warn().Err(err).Msg("session: failed to decode unlock request body")
		h.encoder.StatusResponse(ctx, w, nil, http.StatusBadRequest)
		return
	}

	sess, err := cipher.NewSession(data.Phrase, data.Pin)
	if err != nil {
		h.log.Warn().Msgf("session: unlock rejected ip: %s", ReadUserIP(r))
		h.encoder.StatusResponse(ctx, w, errorResponse{
			Message: err.Error(),
			Status:  http.StatusBadRequest,
		}, http.StatusBadRequest)
		return
	}

	h.cookieStore.Options.HttpOnly = true
	h.cookieStore.Options.SameSite = http.SameSiteLaxMode
	h.cookieStore.Options.Path = h.config.Server.BaseURL

	fwdProto := r.Header.Get("X-Forwarded-Proto")
	if fwdProto == "https" {
		h.cookieStore.Options.Secure = true
		h.cookieStore.Options.SameSite = http.SameSiteStrictMode
	}

	cookieSession, _ := h.cookieStore.Get(r, sessionCookieName)
	cookieSession.Values["unlocked"] = true
	cookieSession.Save(r, w)

	h.holder.setSession(sess)

	h.log.Info().Msgf("session: unlocked ip: %s", ReadUserIP(r))

	h.encoder.StatusResponse(ctx, w, sessionStatusResponse{Unlocked: true}, http.StatusOK)
}

func (h sessionHandler) lock(w http.ResponseWriter, r *http.Request) {
	h.holder.clearSession()

	cookieSession, _ := h.cookieStore.Get(r, sessionCookieName)
	if !cookieSession.IsNew {
		cookieSession.Values["unlocked"] = false
		cookieSession.Options.MaxAge = -1
		if err := cookieSession.Save(r, w); err != nil {
			h.log.Error().Err(err).Msg("session: could not expire session cookie")
		}
	}

	h.log.Info().Msgf("session: locked ip: %s", ReadUserIP(r))

	h.encoder.NoContent(w)
}

func (h sessionHandler) status(w http.ResponseWriter, r *http.Request) {
	sess := h.holder.Session()
	unlocked := sess != nil && !sess.Locked()

	h.encoder.StatusResponse(r.Context(), w, sessionStatusResponse{Unlocked: unlocked}, http.StatusOK)
}
