// Package fetch reads feeds and pages off the network, either directly or
// through the relay service.
package fetch

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
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/skim/internal/format"
	"github.com/jdholdren/skim/internal/skim"
)

// Largest body read from any response.
const maxBodySize = 8 << 20

var ErrNotRelayed = errors.New("operation needs the relay")

type (
	Config struct {
		// Relay routes every request through RelayRoot.
		Relay     bool
		RelayRoot string
		Timeout   time.Duration
	}

	// Client is the network capability of the engine.
	Client struct {
		http  *http.Client
		relay *url.URL
	}

	// Response is a fully read HTTP response.
	Response struct {
		Status int
		Header http.Header
		Body   []byte
		// URL after redirects.
		URL string
	}
)

func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http: &http.Client{Timeout: timeout},
	}
	if cfg.Relay {
		root, err := url.Parse(cfg.RelayRoot)
		if err != nil || !root.IsAbs() {
			return nil, fmt.Errorf("invalid relay root %q", cfg.RelayRoot)
		}
		c.relay = root
	}

	return c, nil
}

// Relayed reports whether requests go through the relay.
func (c *Client) Relayed() bool {
	return c.relay != nil
}

func (c *Client) relayURL(p string, query url.Values) string {
	u := *c.relay
	u.Path = p
	u.RawQuery = query.Encode()
	return u.String()
}

// Get fetches target. Relayed, the relay proxies the request and reports
// the origin's final URL in its own redirect target.
func (c *Client) Get(ctx context.Context, target string) (Response, error) {
	if !c.Relayed() {
		return c.do(ctx, http.MethodGet, target, nil)
	}

	resp, err := c.do(ctx, http.MethodGet, c.relayURL("/bounce", url.Values{"url": {target}}), nil)
	if err != nil {
		return Response{}, err
	}
	resp.URL = unwrapRelayURL(resp.URL, target)

	return resp, nil
}

// FullText fetches the page behind an item. Relayed, the relay returns the
// already extracted article.
func (c *Client) FullText(ctx context.Context, target string) (Response, error) {
	if !c.Relayed() {
		return c.do(ctx, http.MethodGet, target, nil)
	}

	return c.do(ctx, http.MethodGet, c.relayURL("/fulltext", url.Values{"url": {target}}), nil)
}

type bufferReq struct {
	URL    string   `json:"url"`
	Except []string `json:"except"`
}

// Buffer asks the relay to fetch and normalize a feed, leaving out the
// items whose URL is in except.
func (c *Client) Buffer(ctx context.Context, target string, except []string) (format.JSONFeed, error) {
	if !c.Relayed() {
		return format.JSONFeed{}, ErrNotRelayed
	}
	if except == nil {
		except = []string{}
	}

	resp, err := c.postJSON(ctx, c.relayURL("/buffer", nil), bufferReq{URL: target, Except: except})
	if err != nil {
		return format.JSONFeed{}, err
	}
	if resp.Status != http.StatusOK {
		return format.JSONFeed{}, fmt.Errorf("relay answered with status %d", resp.Status)
	}

	var feed format.JSONFeed
	if err := json.Unmarshal(resp.Body, &feed); err != nil {
		return format.JSONFeed{}, fmt.Errorf("error decoding relay response: %s", err)
	}

	return feed, nil
}

type (
	stashReq struct {
		Feeds []string `json:"feeds"`
	}
	stashResp struct {
		Handle string `json:"handle"`
	}
)

// Stash saves the list of feed URLs on the relay and returns an opaque
// handle to restore it from.
func (c *Client) Stash(ctx context.Context, feeds []string) (string, error) {
	if !c.Relayed() {
		return "", ErrNotRelayed
	}

	var out stashResp
	if err := c.retrying(ctx, func(ctx context.Context) (Response, error) {
		return c.postJSON(ctx, c.relayURL("/stash", nil), stashReq{Feeds: feeds})
	}, &out); err != nil {
		return "", fmt.Errorf("error stashing feeds: %w", err)
	}

	return out.Handle, nil
}

// Unstash returns the feed URLs saved under handle.
func (c *Client) Unstash(ctx context.Context, handle string) ([]string, error) {
	if !c.Relayed() {
		return nil, ErrNotRelayed
	}

	var out stashReq
	if err := c.retrying(ctx, func(ctx context.Context) (Response, error) {
		return c.do(ctx, http.MethodGet, c.relayURL("/stash/"+url.PathEscape(handle), nil), nil)
	}, &out); err != nil {
		return nil, fmt.Errorf("error restoring feeds: %w", err)
	}

	return out.Feeds, nil
}

// retrying runs call with a short backoff on transport errors and server
// errors, then decodes the JSON answer into out.
func (c *Client) retrying(ctx context.Context, call func(ctx context.Context) (Response, error), out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	var resp Response
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		resp, err = call(ctx)
		if errors.Is(err, skim.ErrUnauthorized) {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.Status >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("relay answered with status %d", resp.Status))
		}

		return nil
	}); err != nil {
		return err
	}

	if resp.Status != http.StatusOK {
		return fmt.Errorf("relay answered with status %d", resp.Status)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("error decoding relay response: %s", err)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, target string, body any) (Response, error) {
	byts, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("error encoding request: %s", err)
	}

	return c.do(ctx, http.MethodPost, target, bytes.NewReader(byts))
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("error creating request: %s", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("error fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if c.Relayed() && resp.StatusCode == http.StatusUnauthorized {
		return Response{}, skim.ErrUnauthorized
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("error reading %s: %w", target, err)
	}
	slog.DebugContext(ctx, "fetched", "url", target, "status", resp.StatusCode, "bytes", len(byts))

	return Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   byts,
		URL:    resp.Request.URL.String(),
	}, nil
}

// unwrapRelayURL recovers the origin URL from a relay URL.
func unwrapRelayURL(relayed, fallback string) string {
	u, err := url.Parse(relayed)
	if err != nil {
		return fallback
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}

	return fallback
}
