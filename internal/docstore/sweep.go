package docstore

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/pkg/errors"
)

// sweepDeleteWorkers bounds the concurrent deletes issued to the ledger
// during a sweep. The sweep is a maintenance pass, not a latency-sensitive
// path, so the bound stays small.
const sweepDeleteWorkers = 4

// SweepReport summarizes one orphan-chunk sweep.
type SweepReport struct {
	RecordsScanned int           `json:"records_scanned"`
	OrphansDeleted int           `json:"orphans_deleted"`
	BytesReclaimed uint64        `json:"bytes_reclaimed"`
	Duration       time.Duration `json:"duration"`
}

// Sweep scans the whole account scope for chunk records that can never be
// read again: chunks whose base key has no meta record (a write that died
// before its meta), and chunks whose index lies beyond their meta's count
// (leftovers of a shrinking rewrite). The normal write path never cleans
// these up; meta-last ordering only guarantees they are invisible.
func (s *service) Sweep(ctx context.Context) (*SweepReport, error) {
	started := time.Now()

	records, err := s.client.ListRecords(ctx, s.scope, "")
	if err != nil {
		return nil, errors.Wrap(err, "could not scan account scope")
	}

	chunkCounts := map[string]int{}
	quarantined := map[string]struct{}{}
	for _, record := range records {
		if base, ok := strings.CutSuffix(record.Key, metaSuffix); ok {
			meta, err := s.readMetaValue(record.Key, record.Value)
			if err != nil {
				// without a readable count we cannot tell live chunks
				// from dead ones, so this key is off limits
				s.log.Warn().Err(err).Str("key", record.Key).Msg("unparseable meta record, leaving its chunks alone")
				quarantined[base] = struct{}{}
				continue
			}
			chunkCounts[base] = meta.ChunkCount
		}
	}

	var orphans []domain.Record
	for _, record := range records {
		base, index, ok := splitChunkKey(record.Key)
		if !ok {
			continue
		}
		if _, skip := quarantined[base]; skip {
			continue
		}

		count, hasMeta := chunkCounts[base]
		if !hasMeta || index >= count {
			orphans = append(orphans, record)
		}
	}

	var deleted, reclaimed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepDeleteWorkers)
	for _, orphan := range orphans {
		orphan := orphan
		g.Go(func() error {
			if err := s.client.DeleteRecord(gctx, s.scope, orphan.Key); err != nil {
				return errors.Wrap(err, "could not delete orphan %q", orphan.Key)
			}
			deleted.Add(1)
			reclaimed.Add(int64(len(orphan.Value)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &SweepReport{
		RecordsScanned: len(records),
		OrphansDeleted: int(deleted.Load()),
		BytesReclaimed: uint64(reclaimed.Load()),
		Duration:       time.Since(started),
	}

	s.log.Info().
		Int("scanned", report.RecordsScanned).
		Int("orphans", report.OrphansDeleted).
		Str("reclaimed", humanize.Bytes(report.BytesReclaimed)).
		Msg("orphan chunk sweep finished")

	s.bus.publish(domain.EventOrphanSweepDone, report)

	return report, nil
}

func (s *service) readMetaValue(key, value string) (*domain.ChunkMeta, error) {
	var meta domain.ChunkMeta
	if err := json.Unmarshal([]byte(value), &meta); err != nil {
		return nil, errors.Wrap(err, "meta record %q is corrupt", key)
	}
	return &meta, nil
}

// splitChunkKey parses "{base}:chunk:{index}" and reports whether the key
// is a chunk record at all.
func splitChunkKey(key string) (base string, index int, ok bool) {
	pos := strings.LastIndex(key, chunkInfix)
	if pos < 0 {
		return "", 0, false
	}

	index, err := strconv.Atoi(key[pos+len(chunkInfix):])
	if err != nil || index < 0 {
		return "", 0, false
	}

	return key[:pos], index, true
}
