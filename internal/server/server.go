package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/internal/scheduler"
)

type Server struct {
	log    zerolog.Logger
	config *domain.Config

	scheduler scheduler.Service
	ledger    domain.RecordClient

	stopWG sync.WaitGroup
	lock   sync.Mutex
}

func NewServer(log logger.Logger, config *domain.Config, scheduler scheduler.Service, ledger domain.RecordClient) *Server {
	return &Server{
		log:       log.With().Str("module", "server").Logger(),
		config:    config,
		scheduler: scheduler,
		ledger:    ledger,
	}
}

func (s *Server) Start() error {
	go s.probeLedger()

	// start cron scheduler
	s.scheduler.Start()

	return nil
}

func (s *Server) Shutdown() {
	s.log.Info().Msg("shutting down server")

	// stop cron scheduler
	s.scheduler.Stop()
}

// probeLedger pings the record backend once on startup so a dead gateway
// shows up in the logs immediately instead of on the first write.
func (s *Server) probeLedger() {
	if err := s.ledger.Ping(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("record ledger is not reachable")
		return
	}
	s.log.Info().Str("type", s.config.Ledger.Type).Msg("record ledger reachable")
}
