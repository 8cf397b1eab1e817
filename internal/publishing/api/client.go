// Package api republishes successfully processed envelopes to the Crown
// Dependencies tariff API in strict envelope-id sequence.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	dErrors "tariffpub/pkg/domain-errors"
)

// Client is the external tariff API surface the publisher consumes.
type Client interface {
	// EnvelopeExists reports whether the envelope id is already present
	// remotely.
	EnvelopeExists(ctx context.Context, envelopeID string) (bool, error)
	// UploadEnvelope posts the envelope file. A non-2xx response is returned
	// as a CodeUnavailable error so the scheduler retries with backoff.
	UploadEnvelope(ctx context.Context, envelopeID, filename string, body io.Reader) error
}

// HTTPClient talks to one tariff API environment. Staging and production are
// separate instances with separate credentials.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient constructs a client for one API environment.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) EnvelopeExists(ctx context.Context, envelopeID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.envelopeURL(envelopeID), nil)
	if err != nil {
		return false, fmt.Errorf("build envelope request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "query tariff api")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, dErrors.Newf(dErrors.CodeUnavailable,
			"tariff api returned %d for envelope %s", resp.StatusCode, envelopeID)
	}
}

func (c *HTTPClient) UploadEnvelope(ctx context.Context, envelopeID, filename string, body io.Reader) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copy envelope body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.envelopeURL(envelopeID), &buf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "upload envelope to tariff api")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dErrors.Newf(dErrors.CodeUnavailable,
			"tariff api rejected envelope %s with status %d", envelopeID, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) envelopeURL(envelopeID string) string {
	return c.baseURL + "/envelope/" + url.PathEscape(envelopeID)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
