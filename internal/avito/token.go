package avito

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
)

// defaultTokenLifetime is used when the server omits expires_in.
const defaultTokenLifetime = 3600 * time.Second

// maxFallbackAttempts bounds the refresh ladder; the primary strategy is not
// counted.
const maxFallbackAttempts = 4

// TokenState is the cached bearer token. Replaced wholesale on refresh.
type TokenState struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token is still usable at the given instant.
func (s TokenState) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// TokenManager obtains and caches a client-credentials token for one
// account + proxy pairing. Refreshes are serialized: concurrent callers
// share a single in-flight request.
type TokenManager struct {
	creds    models.AccountCredentials
	proxyCfg *models.ProxyConfig
	baseURL  string
	scope    string
	timeout  time.Duration
	client   *http.Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu    sync.Mutex // guards state
	state TokenState
	group singleflight.Group
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenBaseURL overrides the token endpoint origin.
func WithTokenBaseURL(baseURL string) TokenManagerOption {
	return func(tm *TokenManager) {
		if baseURL != "" {
			tm.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTokenScope sets the requested OAuth scope.
func WithTokenScope(scope string) TokenManagerOption {
	return func(tm *TokenManager) { tm.scope = scope }
}

// WithTokenTimeout bounds each token request.
func WithTokenTimeout(timeout time.Duration) TokenManagerOption {
	return func(tm *TokenManager) {
		if timeout > 0 {
			tm.timeout = timeout
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *logging.Logger) TokenManagerOption {
	return func(tm *TokenManager) { tm.logger = logger }
}

// WithTokenMetrics sets the metrics recorder.
func WithTokenMetrics(m *metrics.Metrics) TokenManagerOption {
	return func(tm *TokenManager) { tm.metrics = m }
}

// WithTokenClock overrides the clock, for tests.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(tm *TokenManager) { tm.now = now }
}

// NewTokenManager builds a token manager over the given transport config.
func NewTokenManager(creds models.AccountCredentials, proxyCfg *models.ProxyConfig, transportOpts proxy.Options, opts ...TokenManagerOption) (*TokenManager, error) {
	tm := &TokenManager{
		creds:    creds,
		proxyCfg: proxyCfg,
		baseURL:  DefaultBaseURL,
		timeout:  30 * time.Second,
		logger:   logging.NewLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}

	client, err := proxy.NewClient(proxyCfg, tm.timeout, transportOpts)
	if err != nil {
		return nil, err
	}
	tm.client = client
	return tm, nil
}

// GetValidToken returns the cached token when fresh, refreshing otherwise.
// Concurrent callers during a refresh all receive the same token.
func (tm *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	state := tm.state
	tm.mu.Unlock()
	if state.Valid(tm.now()) {
		return state.AccessToken, nil
	}

	v, err, _ := tm.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have finished a refresh while we queued.
		tm.mu.Lock()
		state := tm.state
		tm.mu.Unlock()
		if state.Valid(tm.now()) {
			return state.AccessToken, nil
		}

		fresh, err := tm.Refresh(ctx)
		if err != nil {
			return "", err
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the cached token so the next call refreshes.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	tm.state = TokenState{}
	tm.mu.Unlock()
}

// tokenResponse is the shape of a successful token grant.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenErrorResponse is the shape of a clean OAuth error.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// attemptError categorizes one failed token attempt.
type attemptError struct {
	kind    attemptKind
	rawBody string
	err     error
}

type attemptKind int

const (
	attemptNetwork attemptKind = iota
	attemptInvalidClient
	attemptNonJSON
	attemptOther
)

func (e *attemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.rawBody
}

// refreshStrategy is one way to encode and deliver the token request. The
// ladder is a flat ordered list so its bound and order are visible at a
// glance.
type refreshStrategy struct {
	name string
	run  func(ctx context.Context) (*tokenResponse, *attemptError)
}

// Refresh performs a client-credentials grant and stores the new token.
// The fallback ladder engages only when a proxy is configured and the primary
// strategy fails in a way that looks like proxy interference (an HTML or
// otherwise non-JSON response body). Credential errors fail fast.
func (tm *TokenManager) Refresh(ctx context.Context) (TokenState, error) {
	primary := refreshStrategy{name: "form", run: tm.tryForm}

	resp, aerr := primary.run(ctx)
	if aerr == nil {
		return tm.store(resp, primary.name), nil
	}

	tm.recordRefresh("failure", primary.name)

	if err := tm.failFast(aerr); err != nil {
		return TokenState{}, err
	}

	// Only a proxied, interference-looking failure engages the ladder.
	if tm.proxyCfg == nil || aerr.kind != attemptNonJSON {
		return TokenState{}, tm.classify(aerr)
	}

	ladder := []refreshStrategy{
		{name: "json", run: tm.tryJSON},
		{name: "simple", run: tm.trySimplified},
		{name: "altpath", run: tm.tryAlternatePaths},
		{name: "explicit", run: tm.tryExplicitProxyClient},
	}
	if len(ladder) > maxFallbackAttempts {
		ladder = ladder[:maxFallbackAttempts]
	}

	last := aerr
	for _, strategy := range ladder {
		select {
		case <-ctx.Done():
			return TokenState{}, &errors.ErrNetworkUnreachable{Endpoint: tm.tokenURL(tokenPaths[0]), Err: ctx.Err()}
		default:
		}

		tm.logger.DebugWithContext(ctx, "token refresh fallback",
			"strategy", strategy.name,
			"account_id", tm.creds.AccountID,
		)
		resp, aerr := strategy.run(ctx)
		if aerr == nil {
			return tm.store(resp, strategy.name), nil
		}
		tm.recordRefresh("failure", strategy.name)
		if err := tm.failFast(aerr); err != nil {
			return TokenState{}, err
		}
		last = aerr
	}

	return TokenState{}, tm.classify(last)
}

// failFast returns a terminal error for failures the ladder cannot fix.
func (tm *TokenManager) failFast(aerr *attemptError) error {
	switch aerr.kind {
	case attemptInvalidClient:
		return &errors.ErrInvalidCredentials{ClientID: tm.creds.ClientID}
	case attemptNetwork:
		return &errors.ErrNetworkUnreachable{Endpoint: tm.tokenURL(tokenPaths[0]), Err: aerr.err}
	default:
		return nil
	}
}

// classify maps the final failed attempt to the surfaced error kind.
func (tm *TokenManager) classify(aerr *attemptError) error {
	switch aerr.kind {
	case attemptInvalidClient:
		return &errors.ErrInvalidCredentials{ClientID: tm.creds.ClientID}
	case attemptNetwork:
		return &errors.ErrNetworkUnreachable{Endpoint: tm.tokenURL(tokenPaths[0]), Err: aerr.err}
	case attemptNonJSON:
		if tm.proxyCfg != nil {
			return &errors.ErrProxyBlocking{Endpoint: tm.tokenURL(tokenPaths[0]), RawBody: aerr.rawBody}
		}
		return &errors.ErrAuthenticationFailed{
			Message: "token endpoint returned a non-JSON response",
			RawBody: aerr.rawBody,
		}
	default:
		return &errors.ErrAuthenticationFailed{
			Message: "token request failed",
			RawBody: aerr.rawBody,
			Err:     aerr.err,
		}
	}
}

func (tm *TokenManager) store(resp *tokenResponse, strategy string) TokenState {
	lifetime := defaultTokenLifetime
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}
	state := TokenState{
		AccessToken: resp.AccessToken,
		ExpiresAt:   tm.now().Add(lifetime),
	}

	tm.mu.Lock()
	tm.state = state
	tm.mu.Unlock()

	tm.recordRefresh("success", strategy)
	tm.logger.Debug("token refreshed",
		"account_id", tm.creds.AccountID,
		"strategy", strategy,
		"expires_at", state.ExpiresAt.Format(time.RFC3339),
	)
	return state
}

func (tm *TokenManager) recordRefresh(outcome, strategy string) {
	if tm.metrics != nil {
		tm.metrics.RecordTokenRefresh(outcome, strategy)
	}
}

func (tm *TokenManager) tokenURL(path string) string {
	return tm.baseURL + path
}

func (tm *TokenManager) formBody() url.Values {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", tm.creds.ClientID)
	form.Set("client_secret", tm.creds.ClientSecret)
	if tm.scope != "" {
		form.Set("scope", tm.scope)
	}
	return form
}

// tryForm is the primary strategy: form-urlencoded POST to the canonical
// token path.
func (tm *TokenManager) tryForm(ctx context.Context) (*tokenResponse, *attemptError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL(tokenPaths[0]),
		strings.NewReader(tm.formBody().Encode()))
	if err != nil {
		return nil, &attemptError{kind: attemptOther, err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return tm.execute(tm.client, req)
}

// tryJSON retries with a JSON body; some proxies strip or re-encode form
// payloads.
func (tm *TokenManager) tryJSON(ctx context.Context) (*tokenResponse, *attemptError) {
	payload := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     tm.creds.ClientID,
		"client_secret": tm.creds.ClientSecret,
	}
	if tm.scope != "" {
		payload["scope"] = tm.scope
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL(tokenPaths[0]), bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{kind: attemptOther, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return tm.execute(tm.client, req)
}

// trySimplified strips every non-essential header and disables response
// decompression, for proxies that choke on compressed bodies.
func (tm *TokenManager) trySimplified(ctx context.Context) (*tokenResponse, *attemptError) {
	transport, ok := tm.client.Transport.(*http.Transport)
	client := tm.client
	if ok {
		plain := transport.Clone()
		plain.DisableCompression = true
		client = &http.Client{Timeout: tm.timeout, Transport: plain}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL(tokenPaths[0]),
		strings.NewReader(tm.formBody().Encode()))
	if err != nil {
		return nil, &attemptError{kind: attemptOther, err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept-Encoding", "identity")
	return tm.execute(client, req)
}

// tryAlternatePaths walks the alternate token endpoint paths.
func (tm *TokenManager) tryAlternatePaths(ctx context.Context) (*tokenResponse, *attemptError) {
	var last *attemptError
	for _, path := range tokenPaths[1:] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL(path),
			strings.NewReader(tm.formBody().Encode()))
		if err != nil {
			return nil, &attemptError{kind: attemptOther, err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, aerr := tm.execute(tm.client, req)
		if aerr == nil {
			return resp, nil
		}
		last = aerr
	}
	if last == nil {
		last = &attemptError{kind: attemptOther, err: fmt.Errorf("no alternate token paths configured")}
	}
	return nil, last
}

// tryExplicitProxyClient bypasses the shared transport and wires the proxy
// URL straight into a throwaway client, in case the shared transport itself
// is what the proxy dislikes.
func (tm *TokenManager) tryExplicitProxyClient(ctx context.Context) (*tokenResponse, *attemptError) {
	if tm.proxyCfg == nil || tm.proxyCfg.Protocol != models.ProxyHTTP {
		return nil, &attemptError{kind: attemptOther, err: fmt.Errorf("explicit proxy client requires an http proxy")}
	}
	client := &http.Client{
		Timeout: tm.timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(tm.proxyCfg.URL()),
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL(tokenPaths[0]),
		strings.NewReader(tm.formBody().Encode()))
	if err != nil {
		return nil, &attemptError{kind: attemptOther, err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return tm.execute(client, req)
}

// execute runs one token request and categorizes the outcome.
func (tm *TokenManager) execute(client *http.Client, req *http.Request) (*tokenResponse, *attemptError) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &attemptError{kind: networkKind(err), err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &attemptError{kind: attemptNetwork, err: err}
	}

	trimmed := strings.TrimSpace(string(body))
	if !looksLikeJSON(trimmed) {
		return nil, &attemptError{kind: attemptNonJSON, rawBody: snippet(trimmed)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var token tokenResponse
		if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
			return nil, &attemptError{kind: attemptOther, rawBody: snippet(trimmed), err: err}
		}
		return &token, nil
	}

	var oauthErr tokenErrorResponse
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		switch oauthErr.Error {
		case "invalid_client", "unauthorized_client", "invalid_grant":
			return nil, &attemptError{kind: attemptInvalidClient, rawBody: snippet(trimmed)}
		}
	}

	return nil, &attemptError{
		kind:    attemptOther,
		rawBody: snippet(trimmed),
		err:     fmt.Errorf("token endpoint returned status %d", resp.StatusCode),
	}
}

func networkKind(err error) attemptKind {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return attemptNetwork
	}
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return attemptNetwork
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return attemptNetwork
	}
	// url.Error wraps dial failures; treat any transport-level error as
	// network.
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return attemptNetwork
	}
	return attemptOther
}

func looksLikeJSON(body string) bool {
	return strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")
}

func snippet(body string) string {
	const max = 512
	if len(body) > max {
		return body[:max]
	}
	return body
}
