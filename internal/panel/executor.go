// Package panel drives the management API of remote 3x-ui style proxy
// panels: session-authenticated request execution with bounded retry, and a
// typed gateway over the panel's capabilities.
package panel

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/session"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

const sessionCookieName = "session"

// Executor performs authenticated HTTP calls against panels. It is the only
// place retries happen; the gateway above it never retries on its own.
type Executor struct {
	sessions   *session.Store
	sessionTTL time.Duration
	retryDelay time.Duration

	mu      sync.Mutex
	clients map[uint]*http.Client
	loginMu map[uint]*sync.Mutex
}

// NewExecutor creates an executor backed by the given session store.
func NewExecutor(sessions *session.Store, sessionTTL, retryDelay time.Duration) *Executor {
	return &Executor{
		sessions:   sessions,
		sessionTTL: sessionTTL,
		retryDelay: retryDelay,
		clients:    make(map[uint]*http.Client),
		loginMu:    make(map[uint]*sync.Mutex),
	}
}

func (e *Executor) httpClient(srv *model.Server) *http.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	timeout := time.Duration(srv.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Rebuild when the configured timeout changed, so admin updates take
	// effect without a restart.
	c, ok := e.clients[srv.ID]
	if !ok || c.Timeout != timeout {
		c = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		}
		e.clients[srv.ID] = c
	}
	return c
}

func (e *Executor) loginLock(serverID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.loginMu[serverID]
	if !ok {
		l = &sync.Mutex{}
		e.loginMu[serverID] = l
	}
	return l
}

// Do executes one logical call against the server's panel. It logs in when
// no valid session exists, retries retryable failures up to the server's
// retry limit with a fixed delay, and returns the decoded envelope on success.
func (e *Executor) Do(ctx context.Context, srv *model.Server, method, path string, body any) (*ApiResponse, error) {
	op := method + " " + path

	if e.sessions.IsLoginLocked(srv) {
		var until time.Time
		if srv.LoginLockedUntil != nil {
			until = *srv.LoginLockedUntil
		}
		logger.Warningf("panel: server %d %s skipped, login locked", srv.ID, op)
		return nil, &AuthLockedError{ServerID: srv.ID, Until: until}
	}

	attempts := srv.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		// The panel may have invalidated the session server-side, so the
		// check runs before every attempt, not only the first.
		if !e.sessions.HasValidSession(srv) {
			if err := e.login(ctx, srv); err != nil {
				return nil, err
			}
		}

		resp, retryable, err := e.doOnce(ctx, srv, method, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			logger.Errorf("panel: server %d %s failed: %v", srv.ID, op, err)
			return nil, &RequestError{ServerID: srv.ID, Op: op, Attempts: attempt, Err: err}
		}
		if attempt < attempts {
			logger.Warningf("panel: server %d %s attempt %d/%d failed, retrying: %v", srv.ID, op, attempt, attempts, err)
			select {
			case <-ctx.Done():
				return nil, &RequestError{ServerID: srv.ID, Op: op, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(e.retryDelay):
			}
		}
	}

	logger.Errorf("panel: server %d %s failed after %d attempts: %v", srv.ID, op, attempts, lastErr)
	return nil, &RequestError{ServerID: srv.ID, Op: op, Attempts: attempts, Err: lastErr}
}

func (e *Executor) doOnce(ctx context.Context, srv *model.Server, method, path string, body any) (resp *ApiResponse, retryable bool, err error) {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, false, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(srv.PanelURL, path), reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: srv.SessionCookie})

	start := time.Now()
	httpResp, err := e.httpClient(srv).Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("execute request: %w", err)
	}
	defer httpResp.Body.Close()
	duration := time.Since(start)

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		e.sessions.Invalidate(srv)
		return nil, true, fmt.Errorf("session rejected with status %d", httpResp.StatusCode)
	case httpResp.StatusCode >= 500:
		return nil, true, fmt.Errorf("panel returned status %d", httpResp.StatusCode)
	case httpResp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	var envelope ApiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil {
		return nil, true, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		// HTTP 200 with a failure flag still counts as a retryable failure,
		// carrying the panel's own message.
		return nil, true, fmt.Errorf("panel reported failure: %s", envelope.Msg)
	}

	logger.Debugf("panel: server %d %s %s ok in %v", srv.ID, method, path, duration)
	return &envelope, false, nil
}

// login authenticates against the panel and records the outcome. Concurrent
// calls for the same server are serialized so only one login is in flight.
func (e *Executor) login(ctx context.Context, srv *model.Server) error {
	l := e.loginLock(srv.ID)
	l.Lock()
	defer l.Unlock()

	// Another caller may have logged in while we waited.
	if e.sessions.HasValidSession(srv) {
		return nil
	}
	if e.sessions.IsLoginLocked(srv) {
		var until time.Time
		if srv.LoginLockedUntil != nil {
			until = *srv.LoginLockedUntil
		}
		return &AuthLockedError{ServerID: srv.ID, Until: until}
	}

	form := url.Values{}
	form.Set("username", srv.Username)
	form.Set("password", srv.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(srv.PanelURL, "/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthFailedError{ServerID: srv.ID, Msg: "create login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient(srv).Do(req)
	if err != nil {
		e.sessions.RecordFailure(srv)
		return &AuthFailedError{ServerID: srv.ID, Msg: "login endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.sessions.RecordFailure(srv)
		return &AuthFailedError{ServerID: srv.ID, Msg: fmt.Sprintf("login returned status %d", resp.StatusCode)}
	}

	var envelope ApiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		e.sessions.RecordFailure(srv)
		return &AuthFailedError{ServerID: srv.ID, Msg: "decode login response", Err: err}
	}
	if !envelope.Success {
		e.sessions.RecordFailure(srv)
		return &AuthFailedError{ServerID: srv.ID, Msg: envelope.Msg}
	}

	var token string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName {
			token = cookie.Value
			break
		}
	}
	if token == "" {
		e.sessions.RecordFailure(srv)
		return &AuthFailedError{ServerID: srv.ID, Msg: "no session cookie in login response"}
	}

	e.sessions.RecordSuccess(srv, token, e.sessionTTL)
	logger.Infof("panel: server %d logged in, session valid for %v", srv.ID, e.sessionTTL)
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
