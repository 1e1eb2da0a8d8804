package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tillsync/tillsync/internal/domain"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger interface
type Logger interface {
	Log() *zerolog.Event
	Fatal() *zerolog.Event
	Err(err error) *zerolog.Event
	Error() *zerolog.Event
	Warn() *zerolog.Event
	Info() *zerolog.Event
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	With() zerolog.Context
	RegisterSSEWriter(sse *sse.Server)
	SetLogLevel(level string)
}

// DefaultLogger default logging controller
type DefaultLogger struct {
	log           zerolog.Logger
	level         zerolog.Level
	writers       []io.Writer
	logDir        string
	currentDate   string
	lumberjackLog *lumberjack.Logger
	cfg           *domain.Config
}

func New(cfg *domain.Config) Logger {
	l := &DefaultLogger{
		writers:     make([]io.Writer, 0),
		level:       zerolog.DebugLevel,
		cfg:         cfg,
		currentDate: time.Now().Format("2006-01-02"),
	}

	l.SetLogLevel(cfg.Logging.Level)

	// pretty console output is for dev builds only
	if cfg.Version == "dev" {
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		l.writers = append(l.writers, consoleWriter)
	} else {
		l.writers = append(l.writers, os.Stderr)
	}

	if cfg.Logging.Path != "" {
		l.logDir = cfg.Logging.Path
		if _, err := os.Stat(l.logDir); os.IsNotExist(err) {
			if err := os.MkdirAll(l.logDir, 0755); err != nil {
				fmt.Printf("failed to create log directory: %v\n", err)
			}
		}

		logFilename := filepath.Join(l.logDir, fmt.Sprintf("tillsync-%s.log", l.currentDate))

		l.lumberjackLog = &lumberjack.Logger{
			Filename:   logFilename,
			MaxSize:    cfg.Logging.MaxFileSize,
			MaxBackups: cfg.Logging.MaxBackupCount,
		}

		l.writers = append(l.writers, l.lumberjackLog)

		go l.scheduleRotationCheck()
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	l.log = zerolog.New(io.MultiWriter(l.writers...)).With().Stack().Logger()

	return l
}

func (l *DefaultLogger) RegisterSSEWriter(sse *sse.Server) {
	w := NewSSEWriter(sse)

	l.writers = append(l.writers, w)
	l.log = zerolog.New(io.MultiWriter(l.writers...)).With().Stack().Logger()

	l.Info().Msg("SSE writer registered for logging")
}

// scheduleRotationCheck sleeps until the next midnight and then triggers a
// date-based rotation, on top of lumberjack's size-based one.
func (l *DefaultLogger) scheduleRotationCheck() {
	if l.lumberjackLog == nil || l.logDir == "" {
		return
	}

	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(nextMidnight.Sub(now))

		l.checkRotate()
	}
}

// checkRotate swaps in a new dated log file when the date has changed.
func (l *DefaultLogger) checkRotate() {
	if l.lumberjackLog == nil || l.logDir == "" {
		return
	}

	today := time.Now().Format("2006-01-02")
	if today != l.currentDate {
		l.currentDate = today
		l.lumberjackLog.Filename = filepath.Join(l.logDir, fmt.Sprintf("tillsync-%s.log", l.currentDate))

		_ = l.lumberjackLog.Close()

		newWriters := make([]io.Writer, 0, len(l.writers))
		for _, w := range l.writers {
			if _, ok := w.(*lumberjack.Logger); ok {
				newWriters = append(newWriters, l.lumberjackLog)
			} else {
				newWriters = append(newWriters, w)
			}
		}
		l.writers = newWriters

		l.log = zerolog.New(io.MultiWriter(l.writers...)).With().Stack().Logger()
	}
}

func (l *DefaultLogger) SetLogLevel(level string) {
	switch level {
	case "INFO":
		l.level = zerolog.InfoLevel
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "DEBUG":
		l.level = zerolog.DebugLevel
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "ERROR":
		l.level = zerolog.ErrorLevel
	case "WARN":
		l.level = zerolog.WarnLevel
	case "TRACE":
		l.level = zerolog.TraceLevel
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		l.level = zerolog.Disabled
	}
}

// Log log something at fatal level.
func (l *DefaultLogger) Log() *zerolog.Event {
	l.checkRotate()
	return l.log.Log().Timestamp()
}

// Fatal log something at fatal level. This will panic!
func (l *DefaultLogger) Fatal() *zerolog.Event {
	l.checkRotate()
	return l.log.Fatal().Timestamp()
}

// Error log something at Error level
func (l *DefaultLogger) Error() *zerolog.Event {
	l.checkRotate()
	return l.log.Error().Timestamp()
}

// Err log something at Err level
func (l *DefaultLogger) Err(err error) *zerolog.Event {
	l.checkRotate()
	return l.log.Err(err).Timestamp()
}

// Warn log something at warning level.
func (l *DefaultLogger) Warn() *zerolog.Event {
	l.checkRotate()
	return l.log.Warn().Timestamp()
}

// Info log something at info level.
func (l *DefaultLogger) Info() *zerolog.Event {
	l.checkRotate()
	return l.log.Info().Timestamp()
}

// Debug log something at debug level.
func (l *DefaultLogger) Debug() *zerolog.Event {
	l.checkRotate()
	return l.log.Debug().Timestamp()
}

// Trace log something at trace level.
func (l *DefaultLogger) Trace() *zerolog.Event {
	l.checkRotate()
	return l.log.Trace().Timestamp()
}

// With log with context
func (l *DefaultLogger) With() zerolog.Context {
	l.checkRotate()
	return l.log.With().Timestamp()
}
