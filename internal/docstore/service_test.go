package docstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/ledger"
	"github.com/tillsync/tillsync/internal/logger"
)

const testScope = "merchant-1"

func newTestStore(t *testing.T) (Service, *ledger.Memory, *cipher.Session) {
	t.Helper()

	sess, err := cipher.NewSession("abandon ability able about above absent absorb abstract absurd abuse access zoo", "1234")
	require.NoError(t, err)

	mem := ledger.NewMemory()
	svc := NewService(logger.Mock(), mem, testScope, nil)
	return svc, mem, sess
}

func TestPlanWrite(t *testing.T) {
	now := time.Unix(1756166400, 0)

	t.Run("64 bytes stays single", func(t *testing.T) {
		plan := planWrite(strings.Repeat("a", 64), now)
		assert.Equal(t, domain.LayoutSingle, plan.Layout)
	})

	t.Run("65 bytes forces chunking", func(t *testing.T) {
		plan := planWrite(strings.Repeat("a", 65), now)
		assert.Equal(t, domain.LayoutChunked, plan.Layout)
		assert.Equal(t, 2, plan.Meta.ChunkCount) // ceil(65/48)
		assert.Equal(t, 65, plan.Meta.TotalSize)
		assert.Len(t, plan.Chunks, 2)
		assert.Len(t, plan.Chunks[0], 48)
		assert.Len(t, plan.Chunks[1], 17)
	})

	t.Run("chunk count is ceil(len/48)", func(t *testing.T) {
		for _, tt := range []struct {
			size  int
			count int
		}{
			{96, 2},
			{97, 3},
			{144, 3},
			{4800, 100},
		} {
			plan := planWrite(strings.Repeat("x", tt.size), now)
			assert.Equal(t, tt.count, plan.Meta.ChunkCount, "size %d", tt.size)
		}
	})

	t.Run("no chunk exceeds the payload limit", func(t *testing.T) {
		plan := planWrite(strings.Repeat("z", 1000), now)
		for i, chunk := range plan.Chunks {
			assert.LessOrEqual(t, len(chunk), domain.ChunkPayloadBytes, "chunk %d", i)
		}
	})
}

func TestService_SetGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, sess := newTestStore(t)

	tests := []struct {
		name string
		key  string
		doc  interface{}
	}{
		{"small document", "settings:currency", "PI"},
		{"product", "product:PROD-1", map[string]interface{}{"name": "Coffee", "pricePi": 2.0}},
		{"large invoice", "invoice:INV-1", map[string]interface{}{
			"id":    "INV-1765198043478-A3F2",
			"memo":  strings.Repeat("unique-item-", 40),
			"lines": []interface{}{map[string]interface{}{"sku": "A", "qty": 3.0}},
		}},
		{"unicode", "customer:C-1", map[string]interface{}{"name": "مقهى الياسمين"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, svc.Set(ctx, sess, tt.key, tt.doc))

			got, err := svc.Get(ctx, sess, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.doc, got)
		})
	}
}

func TestService_Get_AbsentKey(t *testing.T) {
	ctx := context.Background()
	svc, _, sess := newTestStore(t)

	got, err := svc.Get(ctx, sess, "invoice:does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_ChunkLayoutOnLedger(t *testing.T) {
	ctx := context.Background()
	svc, mem, sess := newTestStore(t)

	// large enough that the sealed base64 form cannot fit one record
	doc := map[string]interface{}{"memo": strings.Repeat("order-line ", 30)}
	require.NoError(t, svc.Set(ctx, sess, "invoice:INV-9", doc))

	// no direct record, meta present, chunks contiguous from zero
	_, err := mem.GetRecord(ctx, testScope, "invoice:INV-9")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	metaValue, err := mem.GetRecord(ctx, testScope, "invoice:INV-9:meta")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(metaValue), domain.MaxRecordBytes)

	records, err := mem.ListRecords(ctx, testScope, "invoice:INV-9:chunk:")
	require.NoError(t, err)
	assert.NotEmpty(t, records)
	for _, record := range records {
		assert.LessOrEqual(t, len(record.Value), domain.ChunkPayloadBytes)
	}
}

func TestService_Get_MissingChunk(t *testing.T) {
	ctx := context.Background()
	svc, mem, sess := newTestStore(t)

	doc := map[string]interface{}{"memo": strings.Repeat("pi ", 200)}
	require.NoError(t, svc.Set(ctx, sess, "invoice:INV-3", doc))

	// knock out one middle chunk; get must fail, never return truncated data
	require.NoError(t, mem.DeleteRecord(ctx, testScope, "invoice:INV-3:chunk:1"))

	_, err := svc.Get(ctx, sess, "invoice:INV-3")
	assert.ErrorIs(t, err, domain.ErrMissingChunk)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, mem, sess := newTestStore(t)

	t.Run("single-record document", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, sess, "settings:tip", "15%"))
		require.NoError(t, svc.Delete(ctx, "settings:tip"))

		got, err := svc.Get(ctx, sess, "settings:tip")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("chunked document removes meta and all chunks", func(t *testing.T) {
		doc := map[string]interface{}{"memo": strings.Repeat("q", 500)}
		require.NoError(t, svc.Set(ctx, sess, "invoice:INV-4", doc))
		require.NoError(t, svc.Delete(ctx, "invoice:INV-4"))

		assert.Equal(t, 0, mem.Len(testScope))
	})

	t.Run("absent key is not an error", func(t *testing.T) {
		assert.NoError(t, svc.Delete(ctx, "never-written"))
	})
}

func TestService_LayoutSwitch(t *testing.T) {
	ctx := context.Background()
	svc, mem, sess := newTestStore(t)

	large := map[string]interface{}{"memo": strings.Repeat("growth ", 100)}

	t.Run("chunked rewrite drops the stale direct record", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, sess, "product:P-1", "small"))
		require.NoError(t, svc.Set(ctx, sess, "product:P-1", large))

		got, err := svc.Get(ctx, sess, "product:P-1")
		require.NoError(t, err)
		assert.Equal(t, large, got)
	})

	t.Run("single rewrite drops stale meta and chunks", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, sess, "product:P-2", large))
		require.NoError(t, svc.Set(ctx, sess, "product:P-2", "small"))

		got, err := svc.Get(ctx, sess, "product:P-2")
		require.NoError(t, err)
		assert.Equal(t, "small", got)

		records, err := mem.ListRecords(ctx, testScope, "product:P-2:")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestService_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	svc, mem, sess := newTestStore(t)

	require.NoError(t, svc.Set(ctx, sess, "invoice:INV-1", "one"))
	require.NoError(t, svc.Set(ctx, sess, "invoice:INV-2", "two"))
	require.NoError(t, svc.Set(ctx, sess, "product:PROD-1", "coffee"))
	// a chunked invoice adds :chunk:/:meta records under the same prefix
	require.NoError(t, svc.Set(ctx, sess, "invoice:INV-5", map[string]interface{}{
		"memo": strings.Repeat("long ", 100),
	}))

	t.Run("internal keys never surface", func(t *testing.T) {
		docs, err := svc.ListByPrefix(ctx, sess, "invoice:")
		require.NoError(t, err)

		for _, doc := range docs {
			assert.NotContains(t, doc.Key, ":chunk:")
			assert.False(t, strings.HasSuffix(doc.Key, ":meta"))
		}

		// only the single-record invoices come back; the chunked one needs Get
		require.Len(t, docs, 2)
		assert.Equal(t, "invoice:INV-1", docs[0].Key)
		assert.Equal(t, "one", docs[0].Value)
	})

	t.Run("a corrupted record is skipped, not fatal", func(t *testing.T) {
		require.NoError(t, mem.PutRecord(ctx, testScope, "invoice:INV-BAD", "not-a-payload"))

		docs, err := svc.ListByPrefix(ctx, sess, "invoice:")
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("prefix isolation", func(t *testing.T) {
		docs, err := svc.ListByPrefix(ctx, sess, "product:")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "product:PROD-1", docs[0].Key)
	})
}

func TestService_LockedSession(t *testing.T) {
	ctx := context.Background()
	svc, _, sess := newTestStore(t)

	require.NoError(t, svc.Set(ctx, sess, "product:PROD-1", map[string]interface{}{"name": "Coffee", "pricePi": 2.0}))

	sess.Clear()

	_, err := svc.Get(ctx, sess, "product:PROD-1")
	assert.ErrorIs(t, err, cipher.ErrKeyUnavailable)

	err = svc.Set(ctx, sess, "product:PROD-2", "x")
	assert.ErrorIs(t, err, cipher.ErrKeyUnavailable)

	_, err = svc.ListByPrefix(ctx, sess, "product:")
	assert.ErrorIs(t, err, cipher.ErrKeyUnavailable)
}

// The end-to-end merchant scenario: derive from phrase+PIN, store a product,
// read it back, lock, and verify the store goes dark instead of serving
// stale plaintext.
func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()

	phrase := "abandon ability able about above absent absorb abstract absurd abuse access zoo"
	sess, err := cipher.NewSession(phrase, "1234")
	require.NoError(t, err)

	mem := ledger.NewMemory()
	svc := NewService(logger.Mock(), mem, testScope, nil)

	doc := map[string]interface{}{"name": "Coffee", "pricePi": 2.0}
	require.NoError(t, svc.Set(ctx, sess, "product:PROD-1", doc))

	got, err := svc.Get(ctx, sess, "product:PROD-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	sess.Clear()
	_, err = svc.Get(ctx, sess, "product:PROD-1")
	assert.ErrorIs(t, err, cipher.ErrKeyUnavailable)

	// same secrets, fresh session: data is still there
	again, err := cipher.NewSession(phrase, "1234")
	require.NoError(t, err)
	got, err = svc.Get(ctx, again, "product:PROD-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}
