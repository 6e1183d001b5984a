/*
Package api provides the HTTP surface of the Cloq control plane.

The control plane is a zero-knowledge relay: vendors upload sealed envelopes
and enterprises download them. It never holds key material and never
decrypts a payload.

This package is organized into two subpackages:

1. artifacthandler - Request processing for artifact upload, download and
   catalog queries, plus the matching HTTP client
2. server - HTTP server configuration and lifecycle management

# API Structure

	POST /api/vendor/artifacts?vendor_id=&name=&version=  upload raw envelope bytes
	GET  /api/vendor/artifacts?vendor_id=                 list a vendor's uploads
	GET  /api/enterprise/artifacts/{artifact_id}          download envelope bytes
	HEAD /api/enterprise/artifacts/{artifact_id}          check existence
	GET  /api/metadata/artifacts                          list all records
	GET  /api/metadata/artifacts/{artifact_id}            one record
	GET  /api/metadata/stats                              catalog summary
	GET  /health                                          health with artifact count

Uploaded envelopes are validated structurally only. Downloads carry the
checksum recorded at upload in the X-Cloq-Checksum header so clients can
detect transfer corruption before attempting to unseal.
*/
package api
