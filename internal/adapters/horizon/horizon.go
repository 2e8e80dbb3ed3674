// Package horizon checks whether a Stellar account exists on the ledger,
// which is what "funded" means: Horizon only knows accounts holding the
// minimum reserve.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/ascent/internal/domain/model"
)

const defaultTimeout = 10 * time.Second

// ErrInvalidKey is returned for keys that cannot be a Stellar account id.
var ErrInvalidKey = fmt.Errorf("%w: invalid stellar account key", model.ErrValidation)

// Client queries a Horizon server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Client) {
		if c != nil {
			h.http = c
		}
	}
}

// New creates a client for the Horizon server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsFunded reports whether the account exists. Server errors and timeouts
// are model.ErrTransient.
func (c *Client) IsFunded(ctx context.Context, accountKey string) (bool, error) {
	if !validKey(accountKey) {
		return false, ErrInvalidKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts/"+url.PathEscape(accountKey), nil)
	if err != nil {
		return false, fmt.Errorf("build horizon request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("%w: horizon: %w", model.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: horizon returned %d", model.ErrTransient, resp.StatusCode)
	default:
		return false, fmt.Errorf("horizon returned %d for %s", resp.StatusCode, accountKey)
	}
}

// validKey checks the shape of a public account id: 56 base32 characters
// starting with G.
func validKey(k string) bool {
	if len(k) != 56 || k[0] != 'G' {
		return false
	}
	for _, r := range k {
		if !(r >= 'A' && r <= 'Z' || r >= '2' && r <= '7') {
			return false
		}
	}
	return true
}

// Trusting treats every well-formed key as funded. It backs deployments
// with no Horizon server configured.
type Trusting struct{}

// IsFunded implements the funding check.
func (Trusting) IsFunded(_ context.Context, accountKey string) (bool, error) {
	if !validKey(accountKey) {
		return false, ErrInvalidKey
	}
	return true, nil
}
