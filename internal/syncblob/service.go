// Package syncblob reconciles uploaded database snapshots against the
// stored history. The server never sees plaintext: blobs arrive encrypted
// and the only signals available for conflict decisions are the version
// string and the raw ciphertext bytes.
package syncblob

import (
	"bytes"
	"context"
	"crypto/subtle"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

var (
	ErrInvalidVersion       = errors.Sentinel("sync blob version is not a dotted numeric version")
	ErrEmptyPayload         = errors.Sentinel("sync blob payload is empty")
	ErrEmptyRecoveryHash    = errors.Sentinel("sync blob recovery hash is empty")
	ErrRecoveryHashMismatch = errors.Sentinel("recovery hash does not match the stored blob")
	ErrNoBlobForScope       = errors.Sentinel("no sync blob stored for this scope")
)

type Service interface {
	// Reconcile decides what to do with an uploaded candidate and returns
	// the outcome plus the blob now considered latest for the scope.
	Reconcile(ctx context.Context, candidate domain.SyncBlob) (domain.ReconcileOutcome, *domain.SyncBlob, error)
	// Retrieve returns the latest blob, gated on the caller presenting the
	// recovery hash the blob was uploaded with.
	Retrieve(ctx context.Context, scope string, recoveryHash string) (*domain.SyncBlob, error)
	History(ctx context.Context, scope string) ([]domain.SyncBlob, error)
	Exists(ctx context.Context, scope string) (bool, error)
	Wipe(ctx context.Context, scope string) error
}

type eventPublisher interface {
	Publish(topic string, args ...interface{})
}

func NewService(log logger.Logger, repo domain.SyncBlobRepo, bus eventPublisher) Service {
	return &service{
		log:  log.With().Str("module", "syncblob").Logger(),
		repo: repo,
		bus:  bus,
	}
}

type service struct {
	log  zerolog.Logger
	repo domain.SyncBlobRepo
	bus  eventPublisher
}

// CompareVersions orders two dotted numeric version strings. Missing
// trailing components count as zero, so "1.2" and "1.2.0" are equal.
// Returns -1, 0 or 1.
func CompareVersions(a, b string) (int, error) {
	va, err := version.NewVersion(a)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidVersion, "%q", a)
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidVersion, "%q", b)
	}
	return va.Compare(vb), nil
}

func (s *service) Reconcile(ctx context.Context, candidate domain.SyncBlob) (domain.ReconcileOutcome, *domain.SyncBlob, error) {
	if len(candidate.EncryptedData) == 0 {
		return "", nil, ErrEmptyPayload
	}
	if candidate.RecoveryHash == "" {
		return "", nil, ErrEmptyRecoveryHash
	}
	if _, err := version.NewVersion(candidate.Version); err != nil {
		return "", nil, errors.Wrap(ErrInvalidVersion, "%q", candidate.Version)
	}

	if candidate.Timestamp.IsZero() {
		candidate.Timestamp = time.Now().UTC()
	}

	existing, err := s.repo.Latest(ctx, candidate.Scope)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not load latest blob for scope")
	}

	if existing == nil {
		candidate.Synced = true
		stored, err := s.repo.Store(ctx, candidate)
		if err != nil {
			return "", nil, err
		}

		s.log.Info().Str("scope", stored.Scope).Str("version", stored.Version).Msg("first sync blob stored for scope")
		s.publish(domain.EventSyncBlobStored, stored)
		return domain.OutcomeStored, stored, nil
	}

	cmp, err := CompareVersions(candidate.Version, existing.Version)
	if err != nil {
		return "", nil, err
	}

	switch {
	case cmp > 0:
		candidate.Synced = true
		stored, err := s.repo.Store(ctx, candidate)
		if err != nil {
			return "", nil, err
		}

		s.log.Info().
			Str("scope", stored.Scope).
			Str("version", stored.Version).
			Str("replaces", existing.Version).
			Msg("newer sync blob appended")
		s.publish(domain.EventSyncBlobStored, stored)
		return domain.OutcomeReplaced, stored, nil

	case cmp < 0:
		s.log.Debug().
			Str("scope", candidate.Scope).
			Str("candidate", candidate.Version).
			Str("stored", existing.Version).
			Msg("older sync blob discarded")
		return domain.OutcomeKeptExisting, existing, nil

	default:
		if bytes.Equal(candidate.EncryptedData, existing.EncryptedData) {
			return domain.OutcomeNoOpIdentical, existing, nil
		}

		// same version, different bytes: both snapshots are kept, the
		// stored one stays latest and the candidate is flagged for a
		// manual decision
		candidate.Conflict = true
		candidate.ConflictWith = existing.ID
		recorded, err := s.repo.Store(ctx, candidate)
		if err != nil {
			return "", nil, err
		}

		s.log.Warn().
			Str("scope", recorded.Scope).
			Str("version", recorded.Version).
			Str("conflict_with", existing.ID).
			Msg("sync blob conflict recorded")
		s.publish(domain.EventSyncBlobConflict, recorded)
		return domain.OutcomeConflictRecorded, existing, nil
	}
}

func (s *service) Retrieve(ctx context.Context, scope string, recoveryHash string) (*domain.SyncBlob, error) {
	blob, err := s.repo.Latest(ctx, scope)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrNoBlobForScope
	}

	// An empty hash never unlocks a blob, whatever the stored value is.
	if recoveryHash == "" || blob.RecoveryHash == "" ||
		subtle.ConstantTimeCompare([]byte(blob.RecoveryHash), []byte(recoveryHash)) != 1 {
		s.log.Warn().Str("scope", scope).Msg("recovery hash mismatch on blob retrieval")
		return nil, ErrRecoveryHashMismatch
	}

	return blob, nil
}

func (s *service) History(ctx context.Context, scope string) ([]domain.SyncBlob, error) {
	return s.repo.History(ctx, scope)
}

func (s *service) Exists(ctx context.Context, scope string) (bool, error) {
	count, err := s.repo.CountByScope(ctx, scope)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *service) Wipe(ctx context.Context, scope string) error {
	return s.repo.DeleteByScope(ctx, scope)
}

func (s *service) publish(topic string, blob *domain.SyncBlob) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, domain.EventPayload{
		Subject:   blob.Scope,
		Message:   blob.Version,
		Timestamp: time.Now(),
	})
}
