// Package artifacthandler implements the control plane's artifact relay
// endpoints and the client used by the vendor and enterprise tools.
//
// The handler accepts sealed envelopes as raw request bodies, validates
// their binary structure with envelope.PeekHeader and stores them through an
// interfaces.ArtifactRegistry. It never decrypts anything and holds no keys.
//
// The Client retries transient failures with exponential backoff and
// verifies every downloaded envelope against the X-Cloq-Checksum header.
package artifacthandler
