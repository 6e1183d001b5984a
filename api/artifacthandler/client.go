package artifacthandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloq-dev/cloq/api"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/cloq-dev/cloq/storage"
)

// ErrUnexpectedStatus is returned for responses the client does not map to a
// more specific error.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client talks to a control plane. Transient failures (network errors and
// 5xx responses) are retried with exponential backoff; client errors are not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	// MaxElapsedTime bounds the total retry time of a single call.
	MaxElapsedTime time.Duration
}

// NewClient creates a client for the control plane at baseURL
// (e.g. "http://localhost:8080").
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 10 * time.Minute},
		log:            log,
		MaxElapsedTime: 30 * time.Second,
	}
}

// Upload sends envelope bytes and returns the catalog record assigned to them.
func (c *Client) Upload(ctx context.Context, envelopeBytes []byte, labels interfaces.ArtifactLabels) (*interfaces.ArtifactRecord, error) {
	query := url.Values{}
	if labels.VendorID != "" {
		query.Set("vendor_id", labels.VendorID)
	}
	if labels.Name != "" {
		query.Set("name", labels.Name)
	}
	if labels.Version != "" {
		query.Set("version", labels.Version)
	}

	var rec interfaces.ArtifactRecord
	err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/vendor/artifacts", query), bytes.NewReader(envelopeBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	}, http.StatusCreated, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Download fetches envelope bytes and verifies them against the checksum
// header before returning them.
func (c *Client) Download(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	var data []byte
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/enterprise/artifacts/"+url.PathEscape(id.String()), nil), nil)
	}, http.StatusOK, func(resp *http.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		checksum := resp.Header.Get(api.ChecksumHeader)
		if checksum == "" {
			return backoff.Permanent(fmt.Errorf("%w: missing %s header", interfaces.ErrChecksumMismatch, api.ChecksumHeader))
		}
		if err := storage.VerifyChecksum(body, checksum); err != nil {
			return err
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Exists reports whether the control plane holds an artifact.
func (c *Client) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, c.url("/api/enterprise/artifacts/"+url.PathEscape(id.String()), nil), nil)
	}, http.StatusOK, nil)
	if errors.Is(err, interfaces.ErrArtifactNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns catalog records, newest first. An empty vendorID lists all.
func (c *Client) List(ctx context.Context, vendorID string) ([]interfaces.ArtifactRecord, error) {
	path := "/api/metadata/artifacts"
	var query url.Values
	if vendorID != "" {
		path = "/api/vendor/artifacts"
		query = url.Values{"vendor_id": []string{vendorID}}
	}

	var list api.ListResponse
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	}, http.StatusOK, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&list)
	})
	if err != nil {
		return nil, err
	}
	return list.Artifacts, nil
}

// Record returns the catalog record of one artifact.
func (c *Client) Record(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactRecord, error) {
	var rec interfaces.ArtifactRecord
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/metadata/artifacts/"+url.PathEscape(id.String()), nil), nil)
	}, http.StatusOK, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats returns the catalog summary.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var stats api.StatsResponse
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/metadata/stats", nil), nil)
	}, http.StatusOK, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&stats)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs a request with retries. newRequest is called for every attempt
// so that request bodies are fresh.
func (c *Client) do(ctx context.Context, newRequest func() (*http.Request, error), wantStatus int, decode func(*http.Response) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.MaxElapsedTime

	operation := func() error {
		req, err := newRequest()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("could not initialize request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != wantStatus {
			return statusError(resp)
		}
		if decode == nil {
			return nil
		}
		if err := decode(resp); err != nil {
			if errors.Is(err, interfaces.ErrChecksumMismatch) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("could not parse response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("Control plane request failed, retrying", "err", err, slog.Duration("wait", wait))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(interfaces.ErrArtifactNotFound)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", interfaces.ErrStoreUnavailable, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, msg)
	default:
		return backoff.Permanent(fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, msg))
	}
}
