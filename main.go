package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/pflag"

	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/database"
	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/http"
	"github.com/tillsync/tillsync/internal/ledger"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/internal/scheduler"
	"github.com/tillsync/tillsync/internal/server"
	"github.com/tillsync/tillsync/internal/syncblob"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to configuration file")
	pflag.Parse()

	// read config
	cfg := config.New(configPath, version)

	// init new logger
	log := logger.New(cfg.Config)

	// init dynamic config
	cfg.DynamicReload(log)

	// setup server-sent-events
	serverEvents := sse.New()
	serverEvents.CreateStreamWithOpts("logs", sse.StreamOpts{MaxEntries: 1000, AutoReplay: true})

	// register SSE writer
	log.RegisterSSEWriter(serverEvents)

	// setup internal eventbus
	bus := EventBus.New()

	// open database connection
	db, err := database.NewDB(cfg.Config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create new db")
	}

	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("could not open db connection")
	}

	log.Info().Msgf("Starting TillSync")
	log.Info().Msgf("Version: %s", version)
	log.Info().Msgf("Commit: %s", commit)
	log.Info().Msgf("Build date: %s", date)
	log.Info().Msgf("Log-level: %s", cfg.Config.Logging.Level)
	log.Info().Msgf("Using database: %s", db.Driver)

	// connect the record ledger; "memory" keeps records in process
	var ledgerClient domain.RecordClient
	switch cfg.Config.Ledger.Type {
	case "gateway":
		ledgerClient = ledger.NewClient(log, cfg.Config.Ledger)
	default:
		ledgerClient = ledger.NewMemory()
	}
	log.Info().Msgf("Using record ledger: %s", cfg.Config.Ledger.Type)

	// setup repos
	syncBlobRepo := database.NewSyncBlobRepo(log, db)

	// setup services
	var (
		docStoreService   = docstore.NewService(log, ledgerClient, cfg.Config.Ledger.AccountScope, bus)
		syncBlobService   = syncblob.NewService(log, syncBlobRepo, bus)
		schedulingService = scheduler.NewService(log, cfg.Config, docStoreService)
	)

	// register event subscribers
	events.NewSubscribers(log, bus)

	errorChannel := make(chan error)

	go func() {
		httpServer := http.NewServer(
			log,
			cfg,
			serverEvents,
			db,
			version,
			commit,
			date,
			docStoreService,
			syncBlobService,
			ledgerClient,
		)
		errorChannel <- httpServer.Open()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	srv := server.NewServer(log, cfg.Config, schedulingService, ledgerClient)
	if err := srv.Start(); err != nil {
		log.Fatal().Stack().Err(err).Msg("could not start server")
		return
	}

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			log.Log().Msg("shutting down server sighup")
			srv.Shutdown()
			if err := db.Close(); err != nil {
				log.Error().Stack().Err(err).Msg("could not close db connection")
			}
			os.Exit(1)
		case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
			log.Info().Msgf("Shutting down server due to %s...", sig)
			srv.Shutdown()
			if err := db.Close(); err != nil {
				log.Error().Stack().Err(err).Msg("could not close db connection")
			}
			os.Exit(0)
		}
	}
}
