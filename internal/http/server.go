package http

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/database"
	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/internal/syncblob"
)

type Server struct {
	log     zerolog.Logger
	rootLog logger.Logger
	sse     *sse.Server
	db      *database.DB

	config      *config.AppConfig
	cookieStore *sessions.CookieStore

	version string
	commit  string
	date    string

	docStore    docstore.Service
	syncBlobSvc syncblob.Service
	ledger      domain.RecordClient

	// the active cipher session; nil while the store is locked
	sessionMu sync.RWMutex
	session   *cipher.Session
}

func NewServer(
	log logger.Logger,
	config *config.AppConfig,
	sse *sse.Server,
	db *database.DB,
	version string,
	commit string,
	date string,
	docStore docstore.Service,
	syncBlobSvc syncblob.Service,
	ledger domain.RecordClient,
) *Server {
	return &Server{
		log:     log.With().Str("module", "http").Logger(),
		rootLog: log,
		config:  config,
		sse:     sse,
		db:      db,
		version: version,
		commit:  commit,
		date:    date,

		cookieStore: sessions.NewCookieStore([]byte(config.Config.SessionSecret)),

		docStore:    docStore,
		syncBlobSvc: syncBlobSvc,
		ledger:      ledger,
	}
}

func (s *Server) Open() error {
	addr := fmt.Sprintf("%v:%v", s.config.Config.Server.Host, s.config.Config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := http.Server{
		Handler: s.Handler(),
	}

	s.log.Info().Msgf("starting server, listening on %s", listener.Addr().String())

	return server.Serve(listener)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware(&s.log))

	c := cors.New(cors.Options{
		AllowCredentials:   true,
		AllowedMethods:     []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowOriginFunc:    func(origin string) bool { return true },
		OptionsPassthrough: true,
	})

	r.Use(c.Handler)

	encoder := encoder{}

	r.Route("/api", func(r chi.Router) {
		r.Route("/healthz", newHealthHandler(encoder, s.db, s.ledger).Routes)

		authedRouter := r.Group(nil)
		authedRouter.Use(s.AuthenticateAPIToken)

		authedRouter.Route("/session", newSessionHandler(encoder, s.log, s.config.Config, s.cookieStore, s).Routes)
		authedRouter.Route("/config", newConfigHandler(encoder, s, s.config, s.rootLog).Routes)
		authedRouter.Route("/vault", newVaultHandler(encoder, s.log, s.syncBlobSvc, s.config.Config.Ledger.AccountScope).Routes)

		docRouter := authedRouter.Group(nil)
		docRouter.Use(s.RequireUnlocked)
		docRouter.Route("/documents", newDocumentHandler(encoder, s.log, s.docStore, s).Routes)

		authedRouter.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
			// inject CORS headers to bypass checks
			s.sse.Headers = map[string]string{
				"Content-Type":      "text/event-stream",
				"Cache-Control":     "no-cache",
				"Connection":        "keep-alive",
				"X-Accel-Buffering": "no",
			}
			s.sse.ServeHTTP(w, r)
		})
	})

	return r
}

// Session returns the active cipher session or nil while locked.
func (s *Server) Session() *cipher.Session {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session
}

func (s *Server) setSession(sess *cipher.Session) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.session != nil {
		s.session.Clear()
	}
	s.session = sess
}

func (s *Server) clearSession() {
	s.setSession(nil)
}
