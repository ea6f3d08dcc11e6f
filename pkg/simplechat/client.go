// Package simplechat is the non-streaming chat path: one POST per turn.
package simplechat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ChatPath       = "/api/chat"
	DefaultTimeout = 30 * time.Second
)

type request struct {
	Message string `json:"message"`
}

type response struct {
	Message *string `json:"message"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send posts message and returns the assistant reply.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(request{Message: message})
	if err != nil {
		return "", errors.Wrap(err, "encoding chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("component", "simplechat").Str("url", req.URL.String()).Msg("sending chat request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "posting chat request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("chat request failed: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decoding chat response")
	}
	if r.Message == nil {
		return "", errors.New("chat response has no message")
	}
	return *r.Message, nil
}
