package artifacthandler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloq-dev/cloq/api"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux, _, _ := newTestRouter(t, 0)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL+"/", testLogger())
	client.MaxElapsedTime = time.Second
	return client, srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	data := testEnvelope(t, "tool")

	rec, err := client.Upload(ctx, data, interfaces.ArtifactLabels{VendorID: "acme", Name: "tool", Version: "2"})
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.VendorID)

	got, err := client.Download(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := client.Exists(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(ctx, interfaces.NewArtifactID())
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := client.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	all, err := client.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	got2, err := client.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Checksum, got2.Checksum)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalArtifacts)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	_, err := client.Download(ctx, interfaces.NewArtifactID())
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)

	_, err = client.Upload(ctx, []byte("garbage"), interfaces.ArtifactLabels{})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestClientDetectsTransferCorruption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(api.ChecksumHeader, "blake3:0000000000000000000000000000000000000000000000000000000000000000")
		w.Write([]byte("envelope"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	client.MaxElapsedTime = 300 * time.Millisecond

	_, err := client.Download(context.Background(), interfaces.NewArtifactID())
	assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"artifacts":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	client.MaxElapsedTime = 10 * time.Second

	list, err := client.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	_, err := client.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), calls.Load())
}
