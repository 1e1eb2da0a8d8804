// Package docstore maps arbitrary-size encrypted documents onto the
// ledger's tiny fixed-capacity records. Values that fit in one record are
// written directly; larger values are split into 48-byte chunk records
// plus one meta record, with the meta written last so its existence always
// implies a complete chunk set.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/codec"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

const (
	metaSuffix   = ":meta"
	chunkInfix   = ":chunk:"
	maxValueSize = domain.MaxRecordBytes
	chunkSize    = domain.ChunkPayloadBytes
)

// Service is the document-level API the rest of the application sees. Every
// operation takes the caller's cipher session handle; a cleared handle makes
// the whole store unavailable rather than silently returning stale data.
//
// Writes to the same logical key must not interleave within one process;
// the store performs no per-key coordination itself.
type Service interface {
	Set(ctx context.Context, sess *cipher.Session, key string, doc interface{}) error
	Get(ctx context.Context, sess *cipher.Session, key string) (interface{}, error)
	Delete(ctx context.Context, key string) error
	// ListByPrefix surfaces single-record documents under the prefix.
	// Chunked documents are not reassembled by listings; callers fetch
	// those per key with Get.
	ListByPrefix(ctx context.Context, sess *cipher.Session, prefix string) ([]domain.Document, error)
	// Sweep is the maintenance pass reclaiming orphaned chunk records.
	Sweep(ctx context.Context) (*SweepReport, error)
}

type eventPublisher interface {
	Publish(topic string, args ...interface{})
}

func NewService(log logger.Logger, client domain.RecordClient, scope string, bus eventPublisher) Service {
	return &service{
		log:    log.With().Str("module", "docstore").Logger(),
		client: client,
		scope:  scope,
		bus:    &noopGuard{pub: bus},
	}
}

type service struct {
	log    zerolog.Logger
	client domain.RecordClient
	scope  string
	bus    *noopGuard
}

// noopGuard wraps the optional event publisher so call sites stay clean.
type noopGuard struct {
	pub eventPublisher
}

func (g *noopGuard) publish(topic string, args ...interface{}) {
	if g != nil && g.pub != nil {
		g.pub.Publish(topic, args...)
	}
}

// writePlan is the layout decision for one Set, made once instead of being
// re-derived from string lengths at every call site.
type writePlan struct {
	Layout domain.RecordLayout
	Value  string
	Chunks []string
	Meta   domain.ChunkMeta
}

func planWrite(value string, now time.Time) writePlan {
	if len(value) <= maxValueSize {
		return writePlan{Layout: domain.LayoutSingle, Value: value}
	}

	chunks := make([]string, 0, (len(value)+chunkSize-1)/chunkSize)
	for start := 0; start < len(value); start += chunkSize {
		end := start + chunkSize
		if end > len(value) {
			end = len(value)
		}
		chunks = append(chunks, value[start:end])
	}

	return writePlan{
		Layout: domain.LayoutChunked,
		Chunks: chunks,
		Meta: domain.ChunkMeta{
			ChunkCount: len(chunks),
			TotalSize:  len(value),
			CreatedAt:  now.Unix(),
		},
	}
}

func (s *service) Set(ctx context.Context, sess *cipher.Session, key string, doc interface{}) error {
	if sess == nil || sess.Locked() {
		return cipher.ErrKeyUnavailable
	}

	value, err := s.sealValue(sess, doc)
	if err != nil {
		return err
	}

	plan := planWrite(value, time.Now())

	switch plan.Layout {
	case domain.LayoutSingle:
		if err := s.client.PutRecord(ctx, s.scope, key, plan.Value); err != nil {
			return errors.Wrap(err, "could not write record %q", key)
		}
		// a previous chunked write under the same key would shadow nothing
		// on reads (direct wins), but its records are dead weight now
		s.cleanupChunked(ctx, key)

	case domain.LayoutChunked:
		for i, chunk := range plan.Chunks {
			if err := s.client.PutRecord(ctx, s.scope, chunkKey(key, i), chunk); err != nil {
				return errors.Wrap(err, "could not write chunk %d of %q", i, key)
			}
		}

		metaValue, err := json.Marshal(plan.Meta)
		if err != nil {
			return errors.Wrap(err, "could not marshal meta for %q", key)
		}
		// meta goes last: its existence is the only consistency guarantee
		// the non-transactional backend allows
		if err := s.client.PutRecord(ctx, s.scope, metaKey(key), string(metaValue)); err != nil {
			return errors.Wrap(err, "could not write meta for %q", key)
		}

		// a stale direct record from a previous small write would shadow
		// the chunked document on reads, drop it
		if err := s.client.DeleteRecord(ctx, s.scope, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("could not remove stale direct record")
		}

		s.log.Debug().
			Str("key", key).
			Int("chunks", plan.Meta.ChunkCount).
			Str("size", humanize.Bytes(uint64(plan.Meta.TotalSize))).
			Msg("document written chunked")
	}

	s.bus.publish(domain.EventDocumentWritten, key)
	return nil
}

func (s *service) Get(ctx context.Context, sess *cipher.Session, key string) (interface{}, error) {
	if sess == nil || sess.Locked() {
		return nil, cipher.ErrKeyUnavailable
	}

	// small-value path first
	value, err := s.client.GetRecord(ctx, s.scope, key)
	switch {
	case err == nil:
		doc, openErr := s.openValue(sess, value)
		if openErr == nil {
			return doc, nil
		}
		if errors.Is(openErr, cipher.ErrKeyUnavailable) {
			return nil, openErr
		}
		// a direct record that does not round-trip is treated as absent
		// for this path; the chunked lookup below may still serve the key
		s.log.Warn().Err(openErr).Str("key", key).Msg("direct record does not round-trip, trying chunked lookup")
	case errors.Is(err, domain.ErrRecordNotFound):
		// fall through to the chunked lookup
	default:
		return nil, errors.Wrap(err, "could not read record %q", key)
	}

	meta, err := s.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		// no direct record, no meta: the document does not exist
		return nil, nil
	}

	assembled, err := s.readChunks(ctx, key, meta.ChunkCount)
	if err != nil {
		return nil, err
	}

	doc, err := s.openValue(sess, assembled)
	if err != nil {
		return nil, errors.Wrap(err, "could not open chunked document %q", key)
	}
	return doc, nil
}

func (s *service) Delete(ctx context.Context, key string) error {
	// direct record, best-effort
	if err := s.client.DeleteRecord(ctx, s.scope, key); err != nil {
		return errors.Wrap(err, "could not delete record %q", key)
	}

	meta, err := s.readMeta(ctx, key)
	if err != nil {
		return err
	}
	if meta == nil {
		// nothing chunked under this key, and absent keys are not an error
		s.bus.publish(domain.EventDocumentDeleted, key)
		return nil
	}

	for i := 0; i < meta.ChunkCount; i++ {
		if err := s.client.DeleteRecord(ctx, s.scope, chunkKey(key, i)); err != nil {
			return errors.Wrap(err, "could not delete chunk %d of %q", i, key)
		}
	}
	if err := s.client.DeleteRecord(ctx, s.scope, metaKey(key)); err != nil {
		return errors.Wrap(err, "could not delete meta of %q", key)
	}

	s.bus.publish(domain.EventDocumentDeleted, key)
	return nil
}

func (s *service) ListByPrefix(ctx context.Context, sess *cipher.Session, prefix string) ([]domain.Document, error) {
	if sess == nil || sess.Locked() {
		return nil, cipher.ErrKeyUnavailable
	}

	records, err := s.client.ListRecords(ctx, s.scope, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "could not list records under %q", prefix)
	}

	documents := make([]domain.Document, 0, len(records))
	for _, record := range records {
		if isInternalKey(record.Key) {
			continue
		}

		doc, err := s.openValue(sess, record.Value)
		if err != nil {
			// one corrupted record must not fail the whole listing
			s.log.Warn().Err(err).Str("key", record.Key).Msg("skipping undecodable record in listing")
			continue
		}
		documents = append(documents, domain.Document{Key: record.Key, Value: doc})
	}

	return documents, nil
}

// sealValue runs a document through codec and cipher and returns the base64
// transport string.
func (s *service) sealValue(sess *cipher.Session, doc interface{}) (string, error) {
	encoded, err := codec.Encode(doc)
	if err != nil {
		return "", err
	}
	payload, err := sess.Encrypt(encoded)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// openValue reverses sealValue.
func (s *service) openValue(sess *cipher.Session, value string) (interface{}, error) {
	payload, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Wrap(err, "value is not valid base64")
	}
	encoded, err := sess.Decrypt(payload)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := codec.Decode(encoded, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *service) readMeta(ctx context.Context, key string) (*domain.ChunkMeta, error) {
	value, err := s.client.GetRecord(ctx, s.scope, metaKey(key))
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not read meta of %q", key)
	}

	var meta domain.ChunkMeta
	if err := json.Unmarshal([]byte(value), &meta); err != nil {
		return nil, errors.Wrap(err, "meta record of %q is corrupt", key)
	}
	return &meta, nil
}

func (s *service) readChunks(ctx context.Context, key string, count int) (string, error) {
	var sb strings.Builder
	for i := 0; i < count; i++ {
		chunk, err := s.client.GetRecord(ctx, s.scope, chunkKey(key, i))
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return "", errors.Wrap(domain.ErrMissingChunk, "chunk %d of %d missing for %q", i, count, key)
			}
			return "", errors.Wrap(err, "could not read chunk %d of %q", i, key)
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

// cleanupChunked removes meta and chunk records left behind when a key
// switches from the chunked to the single-record layout. Best effort: the
// new direct record already wins on reads.
func (s *service) cleanupChunked(ctx context.Context, key string) {
	meta, err := s.readMeta(ctx, key)
	if err != nil || meta == nil {
		return
	}

	for i := 0; i < meta.ChunkCount; i++ {
		if err := s.client.DeleteRecord(ctx, s.scope, chunkKey(key, i)); err != nil {
			s.log.Warn().Err(err).Str("key", key).Int("chunk", i).Msg("could not remove stale chunk")
		}
	}
	if err := s.client.DeleteRecord(ctx, s.scope, metaKey(key)); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("could not remove stale meta")
	}
}

func chunkKey(key string, index int) string {
	return fmt.Sprintf("%s%s%d", key, chunkInfix, index)
}

func metaKey(key string) string {
	return key + metaSuffix
}

// isInternalKey reports whether a ledger key is a store-internal artifact
// that must never surface to callers.
func isInternalKey(key string) bool {
	return strings.Contains(key, chunkInfix) || strings.HasSuffix(key, metaSuffix)
}
