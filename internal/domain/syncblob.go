package domain

import (
	"context"
	"time"
)

// SyncBlob is one full-database snapshot uploaded by a device. Blobs are
// append-only: reconciliation may add entries but never mutates or removes
// an existing one. "Latest" is defined by version ordering, not by when a
// blob arrived.
type SyncBlob struct {
	ID            string    `json:"id"`
	Scope         string    `json:"scope"`
	Version       string    `json:"version"`
	EncryptedData []byte    `json:"encrypted_data"`
	RecoveryHash  string    `json:"recovery_hash"`
	Timestamp     time.Time `json:"timestamp"`
	Synced        bool      `json:"synced"`
	Conflict      bool      `json:"conflict"`
	ConflictWith  string    `json:"conflict_with,omitempty"`
}

// ReconcileOutcome is the decision the reconciler makes for a candidate
// blob against the stored latest.
type ReconcileOutcome string

const (
	// OutcomeStored - no blob existed for the scope, candidate stored.
	OutcomeStored ReconcileOutcome = "STORED"
	// OutcomeReplaced - candidate is newer, appended as new latest.
	OutcomeReplaced ReconcileOutcome = "REPLACED"
	// OutcomeKeptExisting - candidate is older, discarded.
	OutcomeKeptExisting ReconcileOutcome = "KEPT_EXISTING"
	// OutcomeNoOpIdentical - same version, byte-identical payload.
	OutcomeNoOpIdentical ReconcileOutcome = "NOOP_IDENTICAL"
	// OutcomeConflictRecorded - same version, different payload. The
	// candidate is appended flagged as a conflict; content-level resolution
	// is a manual step.
	OutcomeConflictRecorded ReconcileOutcome = "CONFLICT_RECORDED"
)

// SyncBlobRepo persists the append-only blob history.
type SyncBlobRepo interface {
	Store(ctx context.Context, blob SyncBlob) (*SyncBlob, error)
	// Latest returns the highest-version blob for the scope, or nil when
	// none exists.
	Latest(ctx context.Context, scope string) (*SyncBlob, error)
	History(ctx context.Context, scope string) ([]SyncBlob, error)
	CountByScope(ctx context.Context, scope string) (int, error)
	DeleteByScope(ctx context.Context, scope string) error
}
