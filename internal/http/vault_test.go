package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/internal/syncblob"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBlobRepo is an in-memory domain.SyncBlobRepo for handler tests.
type memBlobRepo struct {
	blobs []domain.SyncBlob
}

func (r *memBlobRepo) Store(_ context.Context, blob domain.SyncBlob) (*domain.SyncBlob, error) {
	blob.ID = fmt.Sprintf("blob-%d", len(r.blobs)+1)
	r.blobs = append(r.blobs, blob)
	return &blob, nil
}

func (r *memBlobRepo) Latest(_ context.Context, scope string) (*domain.SyncBlob, error) {
	var latest *domain.SyncBlob
	var latestVer *version.Version
	for i := range r.blobs {
		b := r.blobs[i]
		if b.Scope != scope || b.Conflict {
			continue
		}
		v, err := version.NewVersion(b.Version)
		if err != nil {
			continue
		}
		if latestVer == nil || v.GreaterThan(latestVer) {
			latest = &r.blobs[i]
			latestVer = v
		}
	}
	return latest, nil
}

func (r *memBlobRepo) History(_ context.Context, scope string) ([]domain.SyncBlob, error) {
	var out []domain.SyncBlob
	for _, b := range r.blobs {
		if b.Scope == scope {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memBlobRepo) CountByScope(_ context.Context, scope string) (int, error) {
	blobs, _ := r.History(nil, scope)
	return len(blobs), nil
}

func (r *memBlobRepo) DeleteByScope(_ context.Context, scope string) error {
	var kept []domain.SyncBlob
	for _, b := range r.blobs {
		if b.Scope != scope {
			kept = append(kept, b)
		}
	}
	r.blobs = kept
	return nil
}

const vaultTestScope = "merchant-1"

func newVaultTestRouter(t *testing.T) (*chi.Mux, *memBlobRepo) {
	t.Helper()

	repo := &memBlobRepo{}
	svc := syncblob.NewService(logger.Mock(), repo, nil)

	handler := newVaultHandler(encoder{}, zerolog.Nop(), svc, vaultTestScope)
	router := chi.NewRouter()
	handler.Routes(router)
	return router, repo
}

func reconcileBody(t *testing.T, vers, payload, hash string) string {
	t.Helper()

	body, err := json.Marshal(reconcileRequest{
		Version:       vers,
		EncryptedData: base64.StdEncoding.EncodeToString([]byte(payload)),
		RecoveryHash:  hash,
	})
	require.NoError(t, err)
	return string(body)
}

func postReconcile(t *testing.T, router *chi.Mux, body string) (*httptest.ResponseRecorder, reconcileResponse) {
	t.Helper()

	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp reconcileResponse
	if rr.Code < 400 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestVaultHandler_Reconcile(t *testing.T) {
	t.Run("first blob is stored", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		rr, resp := postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, domain.OutcomeStored, resp.Outcome)
		assert.Equal(t, "1.0.0", resp.LatestVersion)
	})

	t.Run("newer version replaces", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))
		rr, resp := postReconcile(t, router, reconcileBody(t, "1.1.0", "snapshot-b", "hash-1"))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, domain.OutcomeReplaced, resp.Outcome)
		assert.Equal(t, "1.1.0", resp.LatestVersion)
	})

	t.Run("older version kept existing", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		postReconcile(t, router, reconcileBody(t, "2.0.0", "snapshot-a", "hash-1"))
		rr, resp := postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-old", "hash-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, domain.OutcomeKeptExisting, resp.Outcome)
		assert.Equal(t, "2.0.0", resp.LatestVersion)
	})

	t.Run("identical payload is a no-op", func(t *testing.T) {
		router, repo := newVaultTestRouter(t)

		postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))
		rr, resp := postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, domain.OutcomeNoOpIdentical, resp.Outcome)
		assert.Len(t, repo.blobs, 1)
	})

	t.Run("divergent payload records a conflict", func(t *testing.T) {
		router, repo := newVaultTestRouter(t)

		postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))
		rr, resp := postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-divergent", "hash-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, domain.OutcomeConflictRecorded, resp.Outcome)

		require.Len(t, repo.blobs, 2)
		assert.True(t, repo.blobs[1].Conflict)
		assert.Equal(t, repo.blobs[0].ID, repo.blobs[1].ConflictWith)
	})

	t.Run("rejects invalid version", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		rr, _ := postReconcile(t, router, reconcileBody(t, "not a version", "snapshot-a", "hash-1"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects non-base64 payload", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		rr, _ := postReconcile(t, router, `{"version":"1.0.0","encrypted_data":"%%%not-base64%%%","recovery_hash":"hash-1"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects missing recovery hash", func(t *testing.T) {
		router, repo := newVaultTestRouter(t)

		rr, _ := postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", ""))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, repo.blobs)
	})
}

func TestVaultHandler_Retrieve(t *testing.T) {
	t.Run("no blob for scope", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Recovery-Hash", "hash-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("wrong recovery hash", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)
		postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Recovery-Hash", "wrong")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("matching recovery hash returns latest", func(t *testing.T) {
		router, _ := newVaultTestRouter(t)
		postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))
		postReconcile(t, router, reconcileBody(t, "1.1.0", "snapshot-b", "hash-1"))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Recovery-Hash", "hash-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var blob domain.SyncBlob
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &blob))
		assert.Equal(t, "1.1.0", blob.Version)
		assert.Equal(t, []byte("snapshot-b"), blob.EncryptedData)
	})
}

func TestVaultHandler_ExistsHistoryWipe(t *testing.T) {
	router, repo := newVaultTestRouter(t)

	req := httptest.NewRequest("GET", "/exists", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"exists": false}`, rr.Body.String())

	postReconcile(t, router, reconcileBody(t, "1.0.0", "snapshot-a", "hash-1"))
	postReconcile(t, router, reconcileBody(t, "1.1.0", "snapshot-b", "hash-1"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/exists", nil))
	assert.JSONEq(t, `{"exists": true}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var history []domain.SyncBlob
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("DELETE", "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, repo.blobs)
}
