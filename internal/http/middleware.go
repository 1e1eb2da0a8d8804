package http

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// AuthenticateAPIToken expects a Bearer token in the Authorization header
// and compares it against the configured token in constant time.
func (s *Server) AuthenticateAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With().Str("middleware", "AuthenticateAPIToken").Logger()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Debug().Msg("authorization header missing, denying access")
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			log.Debug().Msg("authorization header format must be Bearer {token}")
			http.Error(w, "Unauthorized: Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		expected := s.config.Config.APIToken
		if expected == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
			log.Warn().Str("ip", ReadUserIP(r)).Msg("invalid api token")
			http.Error(w, "Unauthorized: Invalid API token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireUnlocked rejects document requests while no cipher session is
// active, and requires the caller to present the cookie issued at unlock.
// The check keeps locked-state failures at the HTTP boundary instead of
// surfacing as decryption errors deep in the store.
func (s *Server) RequireUnlocked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.Session()
		if sess == nil || sess.Locked() {
			http.Error(w, "Locked: no active cipher session", http.StatusPreconditionFailed)
			return
		}

		cookieSession, err := s.cookieStore.Get(r, sessionCookieName)
		if err != nil || cookieSession.IsNew {
			s.log.Warn().Str("ip", ReadUserIP(r)).Msg("document request without an unlock cookie")
			http.Error(w, "Unauthorized: no unlock session", http.StatusUnauthorized)
			return
		}

		if unlocked, ok := cookieSession.Values["unlocked"].(bool); !ok || !unlocked {
			http.Error(w, "Unauthorized: session is locked", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware provides structured logging for HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			reqLogger := logger.With().Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				reqID := middleware.GetReqID(r.Context())

				if rec := recover(); rec != nil {
					reqLogger.Error().
						Str("type", "error").
						Timestamp().
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Str("request_id", reqID).
						Msg("unhandled panic recovered by middleware")
					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

func ReadUserIP(r *http.Request) string {
	IPAddress := r.Header.Get("X-Real-Ip")
	if IPAddress == "" {
		IPAddress = r.Header.Get("X-Forwarded-For")
	}
	if IPAddress == "" {
		IPAddress = r.RemoteAddr
	}
	return IPAddress
}
