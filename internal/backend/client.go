// Package backend is the REST client for the VMS backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/auth"
	"github.com/technosupport/ts-vms-monitor/internal/data"
)

const (
	defaultUserAgent = "ts-vms-monitor/1.0"
	defaultTimeout   = 10 * time.Second
	refreshPath      = "/auth/refresh"

	// a token this close to its exp claim is refreshed before it is sent
	expirySkew = 30 * time.Second
)

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Logger    zerolog.Logger
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the backend REST API with the session's bearer credential.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	creds     *auth.Credentials
	log       zerolog.Logger

	refreshMu sync.Mutex
}

func NewClient(baseURL string, creds *auth.Credentials, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   u,
		http:      httpClient,
		userAgent: opts.UserAgent,
		creds:     creds,
		log:       opts.Logger,
	}, nil
}

// do sends one request. A token that is about to expire is refreshed
// first. A 401 triggers a single credential refresh and retry; if that
// fails the credential is revoked.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	if path != refreshPath && c.creds.Expired(time.Now().Add(expirySkew)) {
		if err := c.refresh(ctx, c.creds.Token()); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("refresh of expiring credential failed")
		}
	}

	sentWith := c.creds.Token()
	err := c.send(ctx, method, path, query, body, dest, sentWith)
	if !errors.Is(err, ErrUnauthorized) || path == refreshPath {
		return err
	}

	if rerr := c.refresh(ctx, sentWith); rerr != nil {
		c.log.Warn().Err(rerr).Str("path", path).Msg("credential refresh failed, revoking")
		c.creds.Revoke()
		return err
	}
	return c.send(ctx, method, path, query, body, dest, c.creds.Token())
}

// refresh exchanges the credential once; concurrent callers that failed
// with the same token share a single refresh.
func (c *Client) refresh(ctx context.Context, failed string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.creds.Token()
	if current == "" {
		return auth.ErrNoCredential
	}
	if current != failed {
		return nil
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
	}
	if err := c.send(ctx, http.MethodPost, refreshPath, nil, nil, &payload, current); err != nil {
		return err
	}
	token := payload.Token
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		return fmt.Errorf("refresh response carried no token")
	}
	c.creds.Set(token)
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, dest any, token string) error {
	reqURL := *c.baseURL
	reqURL.Path = c.baseURL.Path + path
	reqURL.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "execute request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend request")

	var env data.Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if resp.StatusCode == http.StatusNoContent || (dest == nil && errors.Is(decodeErr, io.EOF)) {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: env.Message}
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
