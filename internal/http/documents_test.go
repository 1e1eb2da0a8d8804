package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tillsync/tillsync/internal/cipher"
	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/ledger"
	"github.com/tillsync/tillsync/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDocumentTestRouter(t *testing.T) (*chi.Mux, *fakeSessionHolder, *ledger.Memory) {
	t.Helper()

	sess, err := cipher.NewSession("correct horse battery staple", "4711")
	require.NoError(t, err)

	mem := ledger.NewMemory()
	svc := docstore.NewService(logger.Mock(), mem, "merchant-1", nil)
	holder := &fakeSessionHolder{sess: sess}

	handler := newDocumentHandler(encoder{}, zerolog.Nop(), svc, holder)
	router := chi.NewRouter()
	handler.Routes(router)
	return router, holder, mem
}

func TestDocumentHandler_StoreAndGet(t *testing.T) {
	router, _, _ := newDocumentTestRouter(t)

	body := `{"total": 1299, "currency": "PI", "items": ["espresso", "croissant"]}`
	req := httptest.NewRequest("PUT", "/invoice:INV-1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest("GET", "/invoice:INV-1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var doc domain.Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "invoice:INV-1", doc.Key)

	value, ok := doc.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1299), value["total"])
	assert.Equal(t, "PI", value["currency"])
}

func TestDocumentHandler_Get_NotFound(t *testing.T) {
	router, _, _ := newDocumentTestRouter(t)

	req := httptest.NewRequest("GET", "/invoice:gone", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDocumentHandler_Store_BadBody(t *testing.T) {
	router, _, _ := newDocumentTestRouter(t)

	req := httptest.NewRequest("PUT", "/invoice:INV-1", strings.NewReader("{broken"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDocumentHandler_Store_LockedSession(t *testing.T) {
	router, holder, _ := newDocumentTestRouter(t)
	holder.clearSession()

	req := httptest.NewRequest("PUT", "/invoice:INV-1", strings.NewReader(`{"total": 1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "Locked")
}

func TestDocumentHandler_Delete(t *testing.T) {
	router, _, mem := newDocumentTestRouter(t)

	req := httptest.NewRequest("PUT", "/invoice:INV-1", strings.NewReader(`{"total": 1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest("DELETE", "/invoice:INV-1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, mem.Len("merchant-1"))
}

func TestDocumentHandler_List(t *testing.T) {
	router, _, _ := newDocumentTestRouter(t)

	for _, key := range []string{"invoice:INV-1", "invoice:INV-2", "receipt:R-1"} {
		req := httptest.NewRequest("PUT", "/"+key, strings.NewReader(`{"v": 1}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code)
	}

	req := httptest.NewRequest("GET", "/?prefix=invoice:", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var docs []domain.Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "invoice:INV-1", docs[0].Key)
	assert.Equal(t, "invoice:INV-2", docs[1].Key)
}

func TestDocumentHandler_List_EmptyScope(t *testing.T) {
	router, _, _ := newDocumentTestRouter(t)

	req := httptest.NewRequest("GET", "/?prefix=invoice:", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestDocumentHandler_Sweep(t *testing.T) {
	router, _, mem := newDocumentTestRouter(t)

	// A chunk with no meta is unreachable and should be reclaimed.
	require.NoError(t, mem.PutRecord(context.Background(), "merchant-1", "invoice:dead:chunk:0", strings.Repeat("x", 48)))

	req := httptest.NewRequest("POST", "/sweep", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var report docstore.SweepReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, 1, report.OrphansDeleted)
	assert.Equal(t, 0, mem.Len("merchant-1"))
}
