// Package events wires bus topics to their in-process consumers. The bus
// keeps publishers decoupled from logging and stream fan-out; handlers here
// are the only subscribers the server registers.
package events

import (
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
)

// Bus is the subset of EventBus.Bus the subscribers need.
type Bus interface {
	Subscribe(topic string, fn interface{}) error
}

type Subscriber struct {
	log zerolog.Logger
	bus Bus
}

func NewSubscribers(log logger.Logger, bus Bus) *Subscriber {
	s := &Subscriber{
		log: log.With().Str("module", "events").Logger(),
		bus: bus,
	}

	s.Register()

	return s
}

func (s *Subscriber) Register() {
	subscriptions := map[string]interface{}{
		domain.EventSyncBlobStored:   s.onSyncBlobStored,
		domain.EventSyncBlobConflict: s.onSyncBlobConflict,
		domain.EventDocumentWritten:  s.onDocumentWritten,
		domain.EventDocumentDeleted:  s.onDocumentDeleted,
		domain.EventOrphanSweepDone:  s.onOrphanSweepDone,
	}

	for topic, handler := range subscriptions {
		if err := s.bus.Subscribe(topic, handler); err != nil {
			s.log.Error().Err(err).Str("topic", topic).Msg("could not subscribe to topic")
		}
	}
}

func (s *Subscriber) onSyncBlobStored(payload domain.EventPayload) {
	s.log.Info().
		Str("scope", payload.Subject).
		Str("version", payload.Message).
		Msg("sync blob stored")
}

func (s *Subscriber) onSyncBlobConflict(payload domain.EventPayload) {
	s.log.Warn().
		Str("scope", payload.Subject).
		Str("version", payload.Message).
		Msg("sync blob conflict recorded, manual resolution needed")
}

func (s *Subscriber) onDocumentWritten(key string) {
	s.log.Debug().Str("key", key).Msg("document written")
}

func (s *Subscriber) onDocumentDeleted(key string) {
	s.log.Debug().Str("key", key).Msg("document deleted")
}

func (s *Subscriber) onOrphanSweepDone(report *docstore.SweepReport) {
	s.log.Info().
		Int("scanned", report.RecordsScanned).
		Int("orphans", report.OrphansDeleted).
		Dur("duration", report.Duration).
		Msg("orphan sweep finished")
}
