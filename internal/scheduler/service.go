package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
)

type Service interface {
	Start()
	Stop()
	// AddJob adds a job that runs periodically at the given interval.
	AddJob(job cron.Job, interval time.Duration, identifier string) (int, error)
	// AddJobWithSpec adds a job using a cron spec string (e.g., "0 4 * * *").
	AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error)
	RemoveJobByIdentifier(id string) error
	GetNextRun(id string) (time.Time, error)
}

type service struct {
	log      zerolog.Logger
	config   *domain.Config
	docStore docstore.Service

	cron *cron.Cron
	jobs map[string]cron.EntryID
	m    sync.RWMutex
}

func NewService(log logger.Logger, config *domain.Config, docStore docstore.Service) Service {
	return &service{
		log:      log.With().Str("module", "scheduler").Logger(),
		config:   config,
		docStore: docStore,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
		jobs: map[string]cron.EntryID{},
	}
}

func (s *service) Start() {
	s.log.Info().Msg("starting scheduler service")

	s.cron.Start()

	go s.addAppJobs()
}

func (s *service) addAppJobs() {
	// give the other services a moment to come up before jobs can fire
	time.Sleep(5 * time.Second)

	if !s.config.Maintenance.SweepEnabled {
		s.log.Info().Msg("orphan sweep is disabled, skipping 'maintenance-orphan-sweep' job")
		return
	}

	sweepJob := &OrphanSweepJob{
		Name:     "maintenance-orphan-sweep",
		Log:      s.log.With().Str("job", "maintenance-orphan-sweep").Logger(),
		DocStore: s.docStore,
	}

	spec := s.config.Maintenance.SweepSchedule
	if spec == "" {
		spec = "0 4 * * *"
	}

	if _, err := s.AddJobWithSpec(sweepJob, spec, "maintenance-orphan-sweep"); err != nil {
		s.log.Error().Err(err).Msg("failed to add 'maintenance-orphan-sweep' job")
		return
	}

	s.log.Info().Str("schedule", spec).Msg("orphan sweep job scheduled")
}

func (s *service) Stop() {
	s.log.Info().Msg("stopping scheduler service")
	s.cron.Stop()
}

func (s *service) AddJob(job cron.Job, interval time.Duration, identifier string) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.jobs[identifier]; exists {
		s.log.Warn().Str("identifier", identifier).Msg("job with this identifier already exists, skipping add")
		return 0, fmt.Errorf("job with identifier '%s' already exists", identifier)
	}

	entryID, err := s.cron.AddJob(fmt.Sprintf("@every %s", interval.String()), cron.NewChain(
		cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		s.log.Error().Err(err).Str("identifier", identifier).Msg("failed to add job with interval")
		return 0, fmt.Errorf("failed to add job '%s': %w", identifier, err)
	}

	s.log.Info().Str("identifier", identifier).Dur("interval", interval).Int("entryID", int(entryID)).Msg("scheduled job added")
	s.jobs[identifier] = entryID
	return int(entryID), nil
}

// AddJobWithSpec adds a job using a cron specification string.
func (s *service) AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.jobs[identifier]; exists {
		s.log.Warn().Str("identifier", identifier).Msg("job with this identifier already exists, skipping add")
		return 0, fmt.Errorf("job with identifier '%s' already exists", identifier)
	}

	entryID, err := s.cron.AddJob(spec, cron.NewChain(
		cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		s.log.Error().Err(err).Str("identifier", identifier).Str("spec", spec).Msg("failed to add job with spec")
		return 0, fmt.Errorf("failed to add job '%s' with spec '%s': %w", identifier, spec, err)
	}

	s.log.Info().Str("identifier", identifier).Str("spec", spec).Int("entryID", int(entryID)).Msg("scheduled job added")
	s.jobs[identifier] = entryID
	return int(entryID), nil
}

func (s *service) RemoveJobByIdentifier(id string) error {
	s.m.Lock()
	defer s.m.Unlock()

	v, ok := s.jobs[id]
	if !ok {
		return nil
	}

	s.log.Debug().Msgf("scheduler.Remove: removing job: %v", id)

	s.cron.Remove(v)
	delete(s.jobs, id)

	return nil
}

func (s *service) GetNextRun(id string) (time.Time, error) {
	entry := s.getEntryById(id)

	if !entry.Valid() {
		return time.Time{}, nil
	}

	s.log.Debug().Msgf("scheduler.GetNextRun: %s next run: %s", id, entry.Next)

	return entry.Next, nil
}

func (s *service) getEntryById(id string) cron.Entry {
	s.m.Lock()
	defer s.m.Unlock()

	v, ok := s.jobs[id]
	if !ok {
		return cron.Entry{}
	}

	return s.cron.Entry(v)
}
