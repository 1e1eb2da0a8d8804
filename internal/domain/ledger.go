package domain

import (
	"context"

	"github.com/tillsync/tillsync/pkg/errors"
)

// MaxRecordBytes is the hard value-size limit the ledger enforces per
// record. Everything the store writes must fit inside it.
const MaxRecordBytes = 64

// ErrRecordNotFound is returned when a record does not exist under the
// requested key.
var ErrRecordNotFound = errors.Sentinel("ledger: record not found")

// ErrRecordTooLarge is returned by PutRecord when the value exceeds
// MaxRecordBytes.
var ErrRecordTooLarge = errors.Sentinel("ledger: record value exceeds 64 bytes")

// Record is one key-value entry in an account's flat namespace.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RecordClient is the boundary to the remote ledger. Calls are
// authenticated out-of-band, may fail transiently, and are never retried
// here; retry policy belongs to the caller.
type RecordClient interface {
	PutRecord(ctx context.Context, scope string, key string, value string) error
	GetRecord(ctx context.Context, scope string, key string) (string, error)
	DeleteRecord(ctx context.Context, scope string, key string) error
	ListRecords(ctx context.Context, scope string, prefix string) ([]Record, error)
	// Ping probes the ledger gateway for readiness checks.
	Ping(ctx context.Context) error
}
