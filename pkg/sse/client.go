package sse

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/eshop-chat/pkg/chat"
)

const ChatPath = "/chat"

// Client opens chat streams against the backend's GET /chat endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client. Streams are long lived, so the
// client should not carry a global Timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamURL builds /chat?message=<text>&context=<json-array>.
func (c *Client) StreamURL(message string, history chat.Context) (string, error) {
	encoded, err := history.Encode()
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("message", message)
	q.Set("context", encoded)
	return c.baseURL + ChatPath + "?" + q.Encode(), nil
}

// Open issues the streaming request and returns once response headers are
// in. Cancelling ctx or calling Close on the returned stream releases the
// connection.
func (c *Client) Open(ctx context.Context, message string, history chat.Context) (*Stream, error) {
	u, err := c.StreamURL(message, history)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open chat stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, errors.Errorf("chat stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "text/event-stream" {
			log.Warn().Str("component", "sse").Str("content_type", ct).Msg("chat stream has unexpected content type")
		}
	}
	return &Stream{body: resp.Body, dec: NewDecoder(resp.Body)}, nil
}

// Stream is an open event stream.
type Stream struct {
	body io.ReadCloser
	dec  *Decoder

	closeOnce sync.Once
	closeErr  error
}

// Next blocks for the next event. After Close it returns an error.
func (s *Stream) Next() (Event, error) {
	return s.dec.Next()
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
