package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
)

// itemsPageSize is the page size used when walking /core/v1/items.
const itemsPageSize = 100

// ApiClient is the typed facade over the Avito API for one account. It owns
// the token manager and the transport for its credentials + proxy pairing;
// callers never see raw HTTP.
type ApiClient struct {
	creds    models.AccountCredentials
	proxyCfg *models.ProxyConfig
	baseURL  string
	timeout  time.Duration
	client   *http.Client
	scope    string
	tokens   *TokenManager
	prober   *proxy.Prober
	logger   *logging.Logger
	metrics  *metrics.Metrics

	transportOpts proxy.Options
}

// ClientOption configures an ApiClient.
type ClientOption func(*ApiClient)

// WithBaseURL overrides the API origin, for tests and staging.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *ApiClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout bounds each API request.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ApiClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithScope sets the OAuth scope requested on token grants.
func WithScope(scope string) ClientOption {
	return func(c *ApiClient) {
		c.scope = scope
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *ApiClient) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *ApiClient) { c.metrics = m }
}

// WithProber replaces the proxy prober, for tests.
func WithProber(p *proxy.Prober) ClientOption {
	return func(c *ApiClient) { c.prober = p }
}

// WithTransportOptions sets transport construction options (uTLS etc).
func WithTransportOptions(opts proxy.Options) ClientOption {
	return func(c *ApiClient) { c.transportOpts = opts }
}

// NewClient builds an API client for the given credentials, routed through
// the given proxy when one is configured.
func NewClient(creds models.AccountCredentials, proxyCfg *models.ProxyConfig, opts ...ClientOption) (*ApiClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials for account %s: %w", creds.AccountID, err)
	}
	if proxyCfg != nil {
		if err := proxyCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid proxy for account %s: %w", creds.AccountID, err)
		}
	}

	c := &ApiClient{
		creds:    creds,
		proxyCfg: proxyCfg,
		baseURL:  DefaultBaseURL,
		timeout:  30 * time.Second,
		logger:   logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	httpClient, err := proxy.NewClient(proxyCfg, c.timeout, c.transportOpts)
	if err != nil {
		return nil, err
	}
	c.client = httpClient

	tokens, err := NewTokenManager(creds, proxyCfg, c.transportOpts,
		WithTokenBaseURL(c.baseURL),
		WithTokenScope(c.scope),
		WithTokenTimeout(c.timeout),
		WithTokenLogger(c.logger),
		WithTokenMetrics(c.metrics),
	)
	if err != nil {
		return nil, err
	}
	c.tokens = tokens

	if c.prober == nil {
		c.prober = proxy.NewProber(c.logger,
			proxy.WithTransportOptions(c.transportOpts),
			proxy.WithProbeMetrics(c.metrics),
		)
	}
	return c, nil
}

// TestConnection verifies the whole chain for this account: proxy first,
// then token, then API reachability. A failed proxy probe short-circuits
// before any token traffic is spent.
func (c *ApiClient) TestConnection(ctx context.Context) models.ConnectionResult {
	if c.proxyCfg != nil {
		probe := c.prober.TestReachability(ctx, c.proxyCfg)
		if !probe.Reachable {
			return models.ConnectionResult{Success: false, Message: probe.Message}
		}
	}

	if _, err := c.tokens.GetValidToken(ctx); err != nil {
		return models.ConnectionResult{Success: false, Message: err.Error()}
	}

	var lastErr error
	for _, path := range accountInfoPaths {
		status, err := c.head(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		// 401/403 still prove the endpoint answered through this transport.
		if status >= 200 && status < 300 || status == http.StatusUnauthorized || status == http.StatusForbidden {
			return models.ConnectionResult{Success: true, Message: "connection ok"}
		}
		lastErr = &errors.ErrUpstreamServer{Endpoint: c.baseURL + path, StatusCode: status}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no account-info endpoints configured")
	}
	return models.ConnectionResult{Success: false, Message: lastErr.Error()}
}

// GetAccountInfo fetches the account profile.
func (c *ApiClient) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	var info models.AccountInfo
	var lastErr error
	for _, path := range accountInfoPaths {
		if err := c.doJSON(ctx, "account_info", http.MethodGet, path, nil, &info); err != nil {
			lastErr = err
			continue
		}
		return &info, nil
	}
	return nil, lastErr
}

// balanceResponse covers both CPA balance endpoint versions. Values are in
// kopecks.
type balanceResponse struct {
	Balance int64 `json:"balance"`
	Advance int64 `json:"advance"`
}

// GetBalance fetches the CPA balance, converting from minor units. The v2
// endpoint is tried before v3 because only v2 reports the advance component.
func (c *ApiClient) GetBalance(ctx context.Context) (*models.BalanceInfo, error) {
	var lastErr error
	for i, path := range balancePaths {
		var resp balanceResponse
		if err := c.doJSON(ctx, "balance", http.MethodPost, path, map[string]any{}, &resp); err != nil {
			lastErr = err
			continue
		}
		source := "v2"
		if i > 0 {
			source = "v3"
		}
		return &models.BalanceInfo{
			Balance: float64(resp.Balance) / 100,
			Advance: float64(resp.Advance) / 100,
			Source:  source,
		}, nil
	}
	return nil, lastErr
}

// itemsPage is one page of /core/v1/items.
type itemsPage struct {
	Resources []struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"resources"`
	Meta struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"meta"`
}

// GetItemsStats walks the item listing and aggregates status counts.
func (c *ApiClient) GetItemsStats(ctx context.Context) (*models.ItemsStats, error) {
	stats := &models.ItemsStats{}
	for page := 1; ; page++ {
		var out itemsPage
		path := fmt.Sprintf("%s?per_page=%d&page=%d", itemsPath, itemsPageSize, page)
		if err := c.doJSON(ctx, "items", http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, item := range out.Resources {
			stats.Total++
			if item.Status == "active" {
				stats.Active++
			} else {
				stats.Inactive++
			}
		}
		if len(out.Resources) < itemsPageSize {
			break
		}
		if out.Meta.Pages > 0 && page >= out.Meta.Pages {
			break
		}
	}
	return stats, nil
}

// listItemIDs collects every item ID, for the stats request body.
func (c *ApiClient) listItemIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for page := 1; ; page++ {
		var out itemsPage
		path := fmt.Sprintf("%s?per_page=%d&page=%d", itemsPath, itemsPageSize, page)
		if err := c.doJSON(ctx, "items", http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, item := range out.Resources {
			ids = append(ids, item.ID)
		}
		if len(out.Resources) < itemsPageSize {
			break
		}
		if out.Meta.Pages > 0 && page >= out.Meta.Pages {
			break
		}
	}
	return ids, nil
}

// itemStatsResponse is the per-item statistics payload.
type itemStatsResponse struct {
	Result struct {
		Items []struct {
			ItemID int64 `json:"itemId"`
			Stats  []struct {
				Date          string `json:"date"`
				UniqViews     int    `json:"uniqViews"`
				UniqContacts  int    `json:"uniqContacts"`
				UniqFavorites int    `json:"uniqFavorites"`
			} `json:"stats"`
		} `json:"items"`
	} `json:"result"`
}

// GetItemsStatsDetailed fetches per-item view/contact/favorite statistics
// over the given date range (inclusive, YYYY-MM-DD).
func (c *ApiClient) GetItemsStatsDetailed(ctx context.Context, dateFrom, dateTo string) ([]models.ItemStatsDetailed, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := c.listItemIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"dateFrom": dateFrom,
		"dateTo":   dateTo,
		"itemIds":  ids,
		"fields":   []string{"uniqViews", "uniqContacts", "uniqFavorites"},
	}
	var resp itemStatsResponse
	path := fmt.Sprintf(itemStatsPathFmt, info.UserID)
	if err := c.doJSON(ctx, "item_stats", http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	rows := make([]models.ItemStatsDetailed, 0, len(resp.Result.Items))
	for _, item := range resp.Result.Items {
		row := models.ItemStatsDetailed{ItemID: item.ItemID}
		for _, day := range item.Stats {
			row.Views += day.UniqViews
			row.Contacts += day.UniqContacts
			row.Favorites += day.UniqFavorites
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// head issues one unauthenticated-shape GET used by TestConnection; only the
// status code matters.
func (c *ApiClient) head(ctx context.Context, path string) (int, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &errors.ErrNetworkUnreachable{Endpoint: c.baseURL + path, Err: err}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// doJSON performs one authenticated call and decodes the JSON response.
// A 401 invalidates the cached token and retries exactly once.
func (c *ApiClient) doJSON(ctx context.Context, operation, method, path string, body any, out any) error {
	endpoint := c.baseURL + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
	}

	start := time.Now()
	status, err := c.doJSONOnce(ctx, method, endpoint, payload, out)
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		status, err = c.doJSONOnce(ctx, method, endpoint, payload, out)
	}
	c.recordCall(operation, status, err, time.Since(start))
	return err
}

func (c *ApiClient) doJSONOnce(ctx context.Context, method, endpoint string, payload []byte, out any) (int, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &errors.ErrNetworkUnreachable{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, &errors.ErrNetworkUnreachable{Endpoint: endpoint, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, &errors.ErrAuthenticationFailed{Message: "token rejected by " + endpoint}
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, &errors.ErrRateLimited{Endpoint: endpoint, RetryAfter: resp.Header.Get("Retry-After")}
	case resp.StatusCode >= 500:
		return resp.StatusCode, &errors.ErrUpstreamServer{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	trimmed := strings.TrimSpace(string(raw))
	if !looksLikeJSON(trimmed) {
		if c.proxyCfg != nil {
			return resp.StatusCode, &errors.ErrProxyBlocking{Endpoint: endpoint, RawBody: snippet(trimmed)}
		}
		return resp.StatusCode, &errors.ErrUpstreamServer{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, snippet(trimmed))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response from %s: %w", endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *ApiClient) recordCall(operation string, status int, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	label := fmt.Sprintf("%d", status)
	if err != nil && status == 0 {
		label = "error"
	}
	c.metrics.RecordAvitoCall(operation, label, elapsed.Seconds())
}
