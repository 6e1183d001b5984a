package artifacthandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloq-dev/cloq/api"
	"github.com/cloq-dev/cloq/envelope"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/cloq-dev/cloq/storage"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnvelope returns structurally valid envelope bytes. The handler never
// decrypts, so the cryptographic fields can be arbitrary.
func testEnvelope(t *testing.T, name string) []byte {
	t.Helper()
	env, err := envelope.New(envelope.Metadata{OriginalName: name, Size: 3})
	require.NoError(t, err)
	env.WrappedKey = bytes.Repeat([]byte{1}, 256)
	env.Nonce = bytes.Repeat([]byte{2}, 12)
	env.Tag = bytes.Repeat([]byte{3}, 16)
	env.Ciphertext = []byte{4, 5, 6}
	data, err := envelope.Serialize(env)
	require.NoError(t, err)
	return data
}

func newTestRouter(t *testing.T, maxSize int64) (*chi.Mux, *storage.Store, *storage.FileBackend) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	store := storage.NewStore(backend, storage.NewMemoryCatalog(), testLogger())

	mux := chi.NewRouter()
	NewHandler(store, maxSize, testLogger()).RegisterRoutes(mux)
	return mux, store, backend
}

func serve(mux http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestUploadDownload(t *testing.T) {
	mux, _, _ := newTestRouter(t, 0)
	data := testEnvelope(t, "tool")

	w := serve(mux, http.MethodPost, "/api/vendor/artifacts?vendor_id=acme&name=tool&version=1.0", data)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec interfaces.ArtifactRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "acme", rec.VendorID)
	assert.Equal(t, "tool", rec.Name)
	assert.Equal(t, "1.0", rec.Version)
	assert.Equal(t, int64(len(data)), rec.Size)
	assert.Equal(t, envelope.FormatVersion, rec.EnvelopeVersion)
	assert.Equal(t, storage.Checksum(data), rec.Checksum)

	w = serve(mux, http.MethodGet, "/api/enterprise/artifacts/"+rec.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes(), "bytes are returned unmodified")
	assert.Equal(t, rec.Checksum, w.Header().Get(api.ChecksumHeader))
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	w = serve(mux, http.MethodHead, "/api/enterprise/artifacts/"+rec.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.Checksum, w.Header().Get(api.ChecksumHeader))

	w = serve(mux, http.MethodGet, "/api/metadata/artifacts/"+rec.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got interfaces.ArtifactRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, rec.ID, got.ID)
}

func TestUploadRejectsMalformed(t *testing.T) {
	mux, store, _ := newTestRouter(t, 0)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", []byte{}},
		{"garbage", []byte("not an envelope")},
		{"truncated", testEnvelope(t, "x")[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, http.MethodPost, "/api/vendor/artifacts", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalArtifacts, "nothing is stored for rejected uploads")
}

func TestUploadTooLarge(t *testing.T) {
	data := testEnvelope(t, "tool")
	mux, _, _ := newTestRouter(t, int64(len(data)-1))

	w := serve(mux, http.MethodPost, "/api/vendor/artifacts", data)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadLabelTooLong(t *testing.T) {
	mux, _, _ := newTestRouter(t, 0)
	long := string(bytes.Repeat([]byte("a"), maxLabelLength+1))

	w := serve(mux, http.MethodPost, "/api/vendor/artifacts?name="+long, testEnvelope(t, "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadErrors(t *testing.T) {
	mux, _, _ := newTestRouter(t, 0)

	w := serve(mux, http.MethodGet, "/api/enterprise/artifacts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missing := interfaces.NewArtifactID()
	w = serve(mux, http.MethodGet, "/api/enterprise/artifacts/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(mux, http.MethodHead, "/api/enterprise/artifacts/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(mux, http.MethodGet, "/api/metadata/artifacts/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadCorrupted(t *testing.T) {
	mux, store, backend := newTestRouter(t, 0)
	ctx := context.Background()

	id, err := store.Put(ctx, testEnvelope(t, "tool"))
	require.NoError(t, err)
	require.NoError(t, backend.Store(ctx, id, []byte("bit rot")))

	w := serve(mux, http.MethodGet, "/api/enterprise/artifacts/"+id.String(), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "bit rot")
}

func TestListAndStats(t *testing.T) {
	mux, _, _ := newTestRouter(t, 0)

	for _, vendor := range []string{"acme", "acme", "globex"} {
		w := serve(mux, http.MethodPost, "/api/vendor/artifacts?vendor_id="+vendor, testEnvelope(t, "x"))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := serve(mux, http.MethodGet, "/api/vendor/artifacts?vendor_id=acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Artifacts, 2)

	w = serve(mux, http.MethodGet, "/api/vendor/artifacts", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(mux, http.MethodGet, "/api/metadata/artifacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Artifacts, 3)

	w = serve(mux, http.MethodGet, "/api/metadata/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.TotalArtifacts)
	assert.Equal(t, int64(2), stats.Vendors)
	assert.Contains(t, stats.Storage, "file://")

	w = serve(mux, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, api.HealthResponse{Status: "healthy", Artifacts: 3}, health)
}

// MockRegistry implements interfaces.ArtifactRegistry for error paths.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Put(ctx context.Context, data []byte) (interfaces.ArtifactID, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(interfaces.ArtifactID), args.Error(1)
}

func (m *MockRegistry) Get(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockRegistry) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRegistry) Publish(ctx context.Context, data []byte, version uint32, labels interfaces.ArtifactLabels) (*interfaces.ArtifactRecord, error) {
	args := m.Called(ctx, data, version, labels)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ArtifactRecord), args.Error(1)
}

func (m *MockRegistry) Record(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ArtifactRecord), args.Error(1)
}

func (m *MockRegistry) List(ctx context.Context, vendorID string) ([]interfaces.ArtifactRecord, error) {
	args := m.Called(ctx, vendorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ArtifactRecord), args.Error(1)
}

func (m *MockRegistry) Stats(ctx context.Context) (*interfaces.CatalogStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.CatalogStats), args.Error(1)
}

func TestStoreUnavailable(t *testing.T) {
	registry := &MockRegistry{}
	registry.On("Publish", mock.Anything, mock.Anything, envelope.FormatVersion, mock.Anything).
		Return(nil, interfaces.ErrStoreUnavailable)
	registry.On("Stats", mock.Anything).Return(nil, interfaces.ErrStoreUnavailable)

	mux := chi.NewRouter()
	NewHandler(registry, 0, testLogger()).RegisterRoutes(mux)

	w := serve(mux, http.MethodPost, "/api/vendor/artifacts", testEnvelope(t, "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	registry.AssertExpectations(t)
}
