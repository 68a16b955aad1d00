package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HTTPError is returned for any non-2xx response. The message format is
// part of the widget contract: the error string is forwarded verbatim in
// *-error replies.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

// ErrCrossOrigin marks a transport-level failure that looks like a
// cross-origin rejection rather than a backend error. Callers that can
// degrade (conversation fetch) treat it as "no data"; everything else
// surfaces it like any other failure. Keeping the translation in one place
// means a future fix that distinguishes "failed" from "empty" touches only
// this package.
var ErrCrossOrigin = errors.New("CORS_ERROR")

// tunnelBypassHeader skips the interstitial page some tunnel providers
// inject in front of the webhook.
const tunnelBypassHeader = "ngrok-skip-browser-warning"

// Client wraps the conversation API and the chat webhook behind a uniform
// request shape: fixed JSON headers, HTTPError on non-2xx, and the
// cross-origin soft-fail translation.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	logger    zerolog.Logger
	now       func() time.Time
}

func NewClient(endpoints Endpoints) *Client {
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    log.With().Str("component", "backend").Logger(),
		now:       time.Now,
	}
}

// doJSON issues one request with the fixed header set and decodes the JSON
// response body into a generic map.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, body any, extraHeaders map[string]string) (map[string]any, error) {
	raw, err := c.doRaw(ctx, method, rawURL, body, extraHeaders)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decode response body")
	}
	return result, nil
}

// doRaw is doJSON without the response decode; the webhook path needs the
// raw body because empty and malformed responses are tolerated there.
func (c *Client) doRaw(ctx context.Context, method, rawURL string, body any, extraHeaders map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	c.logger.Debug().Str("method", method).Str("url", rawURL).Msg("backend request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.translateTransportFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	return raw, nil
}

// translateTransportFailure maps connection-level errors onto the
// cross-origin sentinel. Anything that produced an HTTP status at all is
// not a transport failure and never reaches this point.
func (c *Client) translateTransportFailure(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		c.logger.Warn().Err(err).Msg("transport failure, translating to cross-origin sentinel")
		return errors.Wrap(ErrCrossOrigin, ue.Err.Error())
	}
	return errors.Wrap(err, "backend request")
}

// cacheBuster returns the value for the t= query parameter on conversation
// GETs, defeating intermediary caches.
func (c *Client) cacheBuster() string {
	return fmt.Sprintf("%d", c.now().UnixMilli())
}
