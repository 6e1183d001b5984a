package artifacthandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cloq-dev/cloq/api"
	"github.com/cloq-dev/cloq/envelope"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/cloq-dev/cloq/metrics"
	"github.com/go-chi/chi/v5"
)

const maxLabelLength = 256

// locator is implemented by registries that can describe their storage.
type locator interface {
	LocationURI() string
}

// Handler processes HTTP requests for the artifact relay. It only ever sees
// opaque envelope bytes: uploads are checked for structure, never decrypted.
type Handler struct {
	store           interfaces.ArtifactRegistry
	maxArtifactSize int64
	log             *slog.Logger
}

// NewHandler creates a new HTTP request handler for the artifact relay.
//
// Parameters:
//   - store: Catalog-aware artifact store
//   - maxArtifactSize: Largest accepted envelope in bytes (0 selects the default)
//   - log: Structured logger for operational insights
func NewHandler(store interfaces.ArtifactRegistry, maxArtifactSize int64, log *slog.Logger) *Handler {
	if maxArtifactSize <= 0 {
		maxArtifactSize = api.DefaultMaxArtifactSize
	}
	return &Handler{
		store:           store,
		maxArtifactSize: maxArtifactSize,
		log:             log,
	}
}

// RegisterRoutes configures the HTTP router with artifact relay endpoints:
//   - POST /api/vendor/artifacts - Upload an envelope
//   - GET /api/vendor/artifacts - List a vendor's uploads
//   - GET /api/enterprise/artifacts/{artifact_id} - Download an envelope
//   - HEAD /api/enterprise/artifacts/{artifact_id} - Check existence
//   - GET /api/metadata/artifacts[/{artifact_id}] - Catalog records
//   - GET /api/metadata/stats - Catalog summary
//   - GET /health - Health with artifact count
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/vendor/artifacts", h.HandleUpload)
	r.Get("/api/vendor/artifacts", h.HandleVendorList)
	r.Get("/api/enterprise/artifacts/{artifact_id}", h.HandleDownload)
	r.Head("/api/enterprise/artifacts/{artifact_id}", h.HandleExists)
	r.Get("/api/metadata/artifacts", h.HandleList)
	r.Get("/api/metadata/artifacts/{artifact_id}", h.HandleRecord)
	r.Get("/api/metadata/stats", h.HandleStats)
	r.Get("/health", h.HandleHealth)
}

// HandleUpload stores a sealed envelope received as the raw request body.
//
// URL format: POST /api/vendor/artifacts?vendor_id=...&name=...&version=...
//
// Status codes:
//   - 201 Created: Envelope stored, body is the catalog record
//   - 400 Bad Request: Body is not a well-formed envelope or labels are invalid
//   - 413 Request Entity Too Large: Body exceeds the configured limit
//   - 503 Service Unavailable: No storage backend accepted the envelope
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	labels := interfaces.ArtifactLabels{
		VendorID: query.Get("vendor_id"),
		Name:     query.Get("name"),
		Version:  query.Get("version"),
	}
	for _, v := range []string{labels.VendorID, labels.Name, labels.Version} {
		if len(v) > maxLabelLength {
			metrics.ArtifactUploads.WithLabelValues("rejected").Inc()
			http.Error(w, "Label too long", http.StatusBadRequest)
			return
		}
	}

	if r.ContentLength > h.maxArtifactSize {
		metrics.ArtifactUploads.WithLabelValues("rejected").Inc()
		http.Error(w, "Artifact too large", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxArtifactSize))
	if err != nil {
		metrics.ArtifactUploads.WithLabelValues("rejected").Inc()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Artifact too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Error("Failed to read upload body", "err", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	header, err := envelope.PeekHeader(data)
	if err != nil {
		metrics.ArtifactUploads.WithLabelValues("rejected").Inc()
		h.log.Debug("Rejected malformed envelope", "err", err, slog.Int("size", len(data)))
		http.Error(w, "Malformed envelope", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Publish(r.Context(), data, header.Version, labels)
	if err != nil {
		metrics.ArtifactUploads.WithLabelValues("error").Inc()
		h.log.Error("Failed to store artifact", "err", err)
		h.writeStoreError(w, err)
		return
	}

	metrics.ArtifactUploads.WithLabelValues("ok").Inc()
	metrics.ArtifactSize.Observe(float64(len(data)))

	h.writeJSON(w, http.StatusCreated, rec)
}

// HandleDownload streams stored envelope bytes.
//
// URL format: GET /api/enterprise/artifacts/{artifact_id}
//
// Status codes:
//   - 200 OK: Body is the envelope, X-Cloq-Checksum carries its checksum
//   - 400 Bad Request: Invalid artifact identifier
//   - 404 Not Found: Unknown artifact
//   - 500 Internal Server Error: Stored bytes failed checksum verification
//   - 503 Service Unavailable: Storage not reachable
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.artifactID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Record(r.Context(), id)
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues(downloadResult(err)).Inc()
		h.writeStoreError(w, err)
		return
	}

	data, err := h.store.Get(r.Context(), id)
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues(downloadResult(err)).Inc()
		h.log.Error("Failed to fetch artifact", slog.String("artifact_id", id.String()), "err", err)
		h.writeStoreError(w, err)
		return
	}

	metrics.ArtifactDownloads.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+id.String()+`.cloq"`)
	w.Header().Set(api.ChecksumHeader, rec.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Debug("Failed to write artifact", slog.String("artifact_id", id.String()), "err", err)
	}
}

// HandleExists answers a HEAD request for an artifact with 200 or 404.
func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	id, ok := h.artifactID(w, r)
	if !ok {
		return
	}

	exists, err := h.store.Exists(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if rec, err := h.store.Record(r.Context(), id); err == nil {
		w.Header().Set(api.ChecksumHeader, rec.Checksum)
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
}

// HandleVendorList lists the uploads of one vendor. vendor_id is required.
func (h *Handler) HandleVendorList(w http.ResponseWriter, r *http.Request) {
	vendorID := r.URL.Query().Get("vendor_id")
	if vendorID == "" {
		http.Error(w, "vendor_id is required", http.StatusBadRequest)
		return
	}
	h.list(w, r, vendorID)
}

// HandleList lists every catalog record, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, vendorID string) {
	records, err := h.store.List(r.Context(), vendorID)
	if err != nil {
		h.log.Error("Failed to list artifacts", "err", err)
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ListResponse{Artifacts: records})
}

// HandleRecord returns the catalog record of one artifact.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.artifactID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Record(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleStats summarizes the catalog.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.log.Error("Failed to compute stats", "err", err)
		h.writeStoreError(w, err)
		return
	}

	resp := api.StatsResponse{CatalogStats: *stats}
	if l, ok := h.store.(locator); ok {
		resp.Storage = l.LocationURI()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports service health together with the artifact count.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.log.Error("Health check failed", "err", err)
		h.writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy", Artifacts: stats.TotalArtifacts})
}

func (h *Handler) artifactID(w http.ResponseWriter, r *http.Request) (interfaces.ArtifactID, bool) {
	id, err := interfaces.ParseArtifactID(r.PathValue("artifact_id"))
	if err != nil {
		http.Error(w, "Invalid artifact id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrArtifactNotFound):
		http.Error(w, "Artifact not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrInvalidArtifactID):
		http.Error(w, "Invalid artifact id", http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		http.Error(w, "Artifact store unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func downloadResult(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrArtifactNotFound):
		return "not_found"
	case errors.Is(err, interfaces.ErrChecksumMismatch):
		return "corrupt"
	default:
		return "error"
	}
}
