// Package rest implements the HTTP transport against the Nuclos REST API:
// session handling, request execution with a single transparent re-login on
// 401, and the error taxonomy every failure is normalized into.
package rest

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
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/saierd/go-nuclos/pkg/config"
	"github.com/saierd/go-nuclos/pkg/log"
	"github.com/saierd/go-nuclos/pkg/tracing"
)

// MinimumVersion is the oldest server release whose REST API this client
// speaks.
var MinimumVersion = []int{4, 7}

type Client struct {
	settings *config.Settings
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	sessionID string
	version   string
}

func NewClient(settings *config.Settings) *Client {
	return &Client{
		settings: settings,
		http:     &http.Client{},
		logger:   log.WithModule("rest"),
		tracer:   tracing.Tracer(),
	}
}

// LoggedIn reports whether a session is currently active.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID != ""
}

// Reset drops the session and the cached server version without contacting
// the server.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = ""
	c.version = ""
}

// Version returns the server version string. The answer is cached for the
// lifetime of the client.
func (c *Client) Version(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.version
	c.mu.Unlock()

	if cached != "" {
		return cached, nil
	}

	var answer string

	err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    VersionRoute,
		plain:   &answer,
		noLogin: true,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.version = answer
	c.mu.Unlock()

	return answer, nil
}

// RequireVersion checks whether the server version is at least the given one.
func (c *Client) RequireVersion(ctx context.Context, required ...int) (bool, error) {
	version, err := c.Version(ctx)
	if err != nil {
		return false, err
	}

	// The version route answers something like "4.2021.10 (build ...)".
	numbers := strings.Split(strings.SplitN(version, " ", 2)[0], ".")

	for i, req := range required {
		if i >= len(numbers) {
			break
		}

		part, err := strconv.Atoi(numbers[i])
		if err != nil {
			return false, fmt.Errorf("unexpected server version '%s': %w", version, err)
		}

		if part < req {
			return false, nil
		}

		if part > req {
			break
		}
	}

	return true, nil
}

// Login opens a session. It fails with a VersionError when the server is
// older than MinimumVersion and with an AuthenticationError when the server
// rejects the credentials.
func (c *Client) Login(ctx context.Context) error {
	ok, err := c.RequireVersion(ctx, MinimumVersion...)
	if err != nil {
		return err
	}

	if !ok {
		version, _ := c.Version(ctx)

		return &VersionError{Required: "4.7", Server: version}
	}

	loginData := map[string]string{
		"username": c.settings.Nuclos.Username,
		"password": c.settings.Nuclos.Password,
		"locale":   c.settings.Nuclos.Locale,
	}

	var answer struct {
		SessionID string `json:"sessionId"`
	}

	err = c.do(ctx, request{
		method:  http.MethodPost,
		path:    SessionRoute,
		body:    loginData,
		out:     &answer,
		noLogin: true,
	})
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
			return &AuthenticationError{Reason: "login failed"}
		}

		return err
	}

	if answer.SessionID == "" {
		return &AuthenticationError{Reason: "login failed"}
	}

	c.mu.Lock()
	c.sessionID = answer.SessionID
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Logged in to the Nuclos server",
		"host", c.settings.Server.Host,
		"user", c.settings.Nuclos.Username)

	return nil
}

// Logout closes the session. Calling it without an active session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	if !c.LoggedIn() {
		return nil
	}

	err := c.do(ctx, request{
		method:  http.MethodDelete,
		path:    SessionRoute,
		noLogin: true,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Logged out from the Nuclos server")

	return nil
}

func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, params: params, out: out})
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body, out: out})
}

func (c *Client) Put(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, request{method: http.MethodPut, path: path, body: body, out: out})
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: path})
}

// Download streams the answer of the given route into w, e.g. for document
// attributes.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, sink: w})
}

type request struct {
	method string
	path   string
	params url.Values
	body   any
	out    any       // pointer receiving the decoded JSON answer
	plain  *string   // receives the raw answer instead of decoding JSON
	sink   io.Writer // receives the raw answer as a stream

	// noLogin disables the automatic login and the re-login on 401. Set for
	// session management requests and replays.
	noLogin bool
}

func (c *Client) do(ctx context.Context, req request) error {
	if !req.noLogin && !c.LoggedIn() {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	requestID := uuid.NewString()

	ctx, span := tracing.StartSpan(ctx, c.tracer, "nuclos.request",
		attribute.String(tracing.MethodKey, req.method),
		attribute.String(tracing.RouteKey, req.path),
		attribute.String(tracing.RequestIDKey, requestID),
	)
	defer span.End()

	err := c.send(ctx, req, requestID)
	if err != nil {
		tracing.SetError(span, err)

		// Unauthorized answers mid-session mean the session expired. Log in
		// again and replay the request once.
		var httpErr *HTTPError
		if !req.noLogin && errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
			c.logger.InfoContext(ctx, "Session expired, logging in again")

			c.mu.Lock()
			c.sessionID = ""
			c.mu.Unlock()

			if err := c.Login(ctx); err != nil {
				return err
			}

			req.noLogin = true

			return c.do(ctx, req)
		}

		return err
	}

	return nil
}

func (c *Client) send(ctx context.Context, req request, requestID string) error {
	fullURL := c.buildURL(req.path, req.params)

	var bodyReader io.Reader

	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		bodyReader = bytes.NewReader(encoded)

		c.logger.DebugContext(ctx, "Sending data", "data", string(encoded))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if req.plain == nil && req.sink == nil {
		httpReq.Header.Set("Accept", "application/json")
	}

	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpReq.Header.Set("X-Request-Id", requestID)

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		httpReq.Header.Set("Cookie", "JSESSIONID="+sessionID)
	}

	c.logger.DebugContext(ctx, "Sending request", "method", req.method, "url", fullURL)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return &AuthenticationError{Reason: "insufficient permission"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Reason: httpReason(resp)}
	}

	if req.sink != nil {
		if _, err := io.Copy(req.sink, resp.Body); err != nil {
			return transportError(err)
		}

		return nil
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if len(answer) > 0 {
		c.logger.DebugContext(ctx, "Received answer", "answer", string(answer))
	}

	if req.plain != nil {
		*req.plain = strings.TrimSpace(string(answer))

		return nil
	}

	if req.out != nil && len(answer) > 0 {
		if err := json.Unmarshal(answer, req.out); err != nil {
			return fmt.Errorf("invalid JSON answer: %w", err)
		}
	}

	return nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	fullURL := fmt.Sprintf("%s://%s:%d/%s/rest/%s",
		c.settings.Scheme(),
		c.settings.Server.Host,
		c.settings.Server.Port,
		url.PathEscape(c.settings.Server.Instance),
		path)

	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	return fullURL
}

func httpReason(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err == nil {
		if reason := strings.TrimSpace(string(body)); reason != "" {
			return reason
		}
	}

	return http.StatusText(resp.StatusCode)
}
