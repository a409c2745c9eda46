package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrow/internal/identity/proof"
	"escrow/internal/identity/service"
	"escrow/internal/identity/store"
)

func newIdentityRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(store.NewInMemory(), proof.NewSigner("test-key", "escrow-test", time.Hour),
		service.WithLogger(logger))
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, method, path string, payload any, proof string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if proof != "" {
		req.Header.Set("Authorization", "Bearer "+proof)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndFetchIdentity(t *testing.T) {
	router := newIdentityRouter(t)

	rec := postJSON(t, router, http.MethodPost, "/v1/identities", map[string]string{"display_name": "alice"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created registerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.IdentityID)
	assert.NotEmpty(t, created.Proof)
	assert.Equal(t, "alice", created.DisplayName)

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/v1/identities/"+created.IdentityID, nil))
	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched map[string]any
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&fetched))
	assert.Equal(t, created.IdentityID, fetched["id"])
	assert.Equal(t, "alice", fetched["display_name"])

	t.Run("duplicate name ignoring case", func(t *testing.T) {
		rec := postJSON(t, router, http.MethodPost, "/v1/identities", map[string]string{"display_name": "ALICE"}, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "duplicate_registration")
	})

	t.Run("update own profile", func(t *testing.T) {
		rec := postJSON(t, router, http.MethodPatch, "/v1/identities/me",
			map[string]string{"display_name": "Alice", "avatar_ref": "ipfs://a"}, created.Proof)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"avatar_ref":"ipfs://a"`)
	})

	t.Run("update without proof", func(t *testing.T) {
		rec := postJSON(t, router, http.MethodPatch, "/v1/identities/me", map[string]string{"display_name": "x"}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("update with forged proof", func(t *testing.T) {
		rec := postJSON(t, router, http.MethodPatch, "/v1/identities/me", map[string]string{"display_name": "x"}, "forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRegisterValidation(t *testing.T) {
	router := newIdentityRouter(t)

	rec := postJSON(t, router, http.MethodPost, "/v1/identities", map[string]string{"display_name": "  "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")

	req := httptest.NewRequest(http.MethodPost, "/v1/identities", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	badRec := httptest.NewRecorder()
	router.ServeHTTP(badRec, req)
	assert.Equal(t, http.StatusBadRequest, badRec.Code)
}

func TestGetIdentityErrors(t *testing.T) {
	router := newIdentityRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/identities/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/identities/9b2f7c1e-3b7e-4f55-8a55-0f4f1a0d2b11", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
