package domain

import (
	"github.com/tillsync/tillsync/pkg/errors"
)

// ChunkPayloadBytes is the largest slice of an encoded document stored in a
// single chunk record. 48 raw bytes leaves room for the ledger to re-encode
// a chunk as base64 (48 * 4/3 = 64) without breaching MaxRecordBytes.
const ChunkPayloadBytes = 48

// ErrMissingChunk signals that a meta record exists but one or more of its
// chunks are gone. The document is unreadable; it is never returned partial.
var ErrMissingChunk = errors.Sentinel("docstore: chunk missing for chunked document")

// RecordLayout says how a logical document is laid out on the ledger. The
// layout is decided once at write time and carried through reads instead of
// being re-derived from value lengths.
type RecordLayout int

const (
	// LayoutSingle stores the whole encoded document in one direct record.
	LayoutSingle RecordLayout = iota
	// LayoutChunked splits the encoded document across chunk records plus
	// one meta record.
	LayoutChunked
)

// ChunkMeta is the value of a "{key}:meta" record. Field names are kept to
// one letter so the JSON always fits inside MaxRecordBytes.
type ChunkMeta struct {
	ChunkCount int   `json:"c"`
	TotalSize  int   `json:"s"`
	CreatedAt  int64 `json:"t"`
}

// Document is a decoded logical document surfaced by listings.
type Document struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}
