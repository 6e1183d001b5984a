package api

import (
	"github.com/cloq-dev/cloq/interfaces"
)

// ChecksumHeader carries the transport checksum recorded at upload on every
// envelope download.
const ChecksumHeader = "X-Cloq-Checksum"

// UploadResponse is returned by a successful envelope upload.
type UploadResponse = interfaces.ArtifactRecord

// ListResponse holds catalog entries, newest first.
type ListResponse struct {
	Artifacts []interfaces.ArtifactRecord `json:"artifacts"`
}

// StatsResponse summarizes the control plane's catalog.
type StatsResponse struct {
	interfaces.CatalogStats

	// Storage is the URI of the configured storage backend, without credentials.
	Storage string `json:"storage"`
}

// HealthResponse is served by the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Artifacts int64  `json:"artifacts"`
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
