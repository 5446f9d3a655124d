package avito

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/models"
)

// apiServer is a scripted stand-in for the Avito API: a token endpoint plus
// per-path handlers, with request counting.
type apiServer struct {
	srv           *httptest.Server
	tokenRequests int32
	handlers      map[string]http.HandlerFunc
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	a := &apiServer{handlers: map[string]http.HandlerFunc{}}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			atomic.AddInt32(&a.tokenRequests, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
			return
		}
		if h, ok := a.handlers[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *apiServer) handle(path string, status int, body string) {
	a.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, a *apiServer, opts ...ClientOption) *ApiClient {
	t.Helper()
	all := append([]ClientOption{WithBaseURL(a.srv.URL)}, opts...)
	c, err := NewClient(testCreds(), nil, all...)
	require.NoError(t, err)
	return c
}

func TestTestConnection_Succeeds(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/core/v1/accounts/self", http.StatusOK, `{"id":77,"name":"Shop"}`)

	c := newTestClient(t, a)
	result := c.TestConnection(context.Background())
	assert.True(t, result.Success)
}

func TestTestConnection_TreatsAuthStatusAsReachable(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/core/v1/accounts/self", http.StatusForbidden, `{"error":"forbidden"}`)

	c := newTestClient(t, a)
	result := c.TestConnection(context.Background())
	assert.True(t, result.Success)
}

func TestTestConnection_UnreachableProxyShortCircuits(t *testing.T) {
	a := newAPIServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	deadProxy := &models.ProxyConfig{Host: "127.0.0.1", Port: addr.Port, Protocol: models.ProxyHTTP}

	c, err := NewClient(testCreds(), deadProxy, WithBaseURL(a.srv.URL), WithTimeout(2*time.Second))
	require.NoError(t, err)

	result := c.TestConnection(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, strings.ToLower(result.Message), "proxy")
	// The proxy gate failed, so no token traffic was spent.
	assert.Equal(t, int32(0), atomic.LoadInt32(&a.tokenRequests))
}

func TestGetAccountInfo_FallsBackToSecondPath(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/common/v1/accounts/self", http.StatusOK, `{"id":42,"name":"Backup","email":"a@b.c"}`)

	c := newTestClient(t, a)
	info, err := c.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.UserID)
	assert.Equal(t, "Backup", info.Name)
}

func TestGetBalance_PrefersV2WithAdvance(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/cpa/v2/balanceInfo", http.StatusOK, `{"balance":150050,"advance":2000}`)

	c := newTestClient(t, a)
	balance, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1500.50, balance.Balance)
	assert.Equal(t, 20.00, balance.Advance)
	assert.Equal(t, "v2", balance.Source)
}

func TestGetBalance_FallsBackToV3(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/cpa/v2/balanceInfo", http.StatusInternalServerError, `{"error":"gone"}`)
	a.handle("/cpa/v3/balanceInfo", http.StatusOK, `{"balance":99900}`)

	c := newTestClient(t, a)
	balance, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 999.00, balance.Balance)
	assert.Equal(t, 0.0, balance.Advance)
	assert.Equal(t, "v3", balance.Source)
}

func TestGetItemsStats_WalksPages(t *testing.T) {
	a := newAPIServer(t)
	a.handlers["/core/v1/items"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		page := r.URL.Query().Get("page")
		if page == "1" {
			items := make([]string, itemsPageSize)
			for i := range items {
				status := "active"
				if i%2 == 1 {
					status = "old"
				}
				items[i] = fmt.Sprintf(`{"id":%d,"status":"%s"}`, i+1, status)
			}
			fmt.Fprintf(w, `{"resources":[%s],"meta":{"page":1,"pages":2}}`, strings.Join(items, ","))
			return
		}
		_, _ = w.Write([]byte(`{"resources":[{"id":999,"status":"active"}],"meta":{"page":2,"pages":2}}`))
	}

	c := newTestClient(t, a)
	stats, err := c.GetItemsStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, itemsPageSize+1, stats.Total)
	assert.Equal(t, itemsPageSize/2+1, stats.Active)
	assert.Equal(t, itemsPageSize/2, stats.Inactive)
}

func TestGetItemsStatsDetailed_SumsDailyRows(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/core/v1/accounts/self", http.StatusOK, `{"id":77,"name":"Shop"}`)
	a.handle("/core/v1/items", http.StatusOK, `{"resources":[{"id":5,"status":"active"}],"meta":{"page":1,"pages":1}}`)
	a.handlers["/stats/v1/accounts/77/items"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2026-08-01", body["dateFrom"])
		assert.Equal(t, "2026-08-02", body["dateTo"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"items":[{"itemId":5,"stats":[
			{"date":"2026-08-01","uniqViews":10,"uniqContacts":2,"uniqFavorites":1},
			{"date":"2026-08-02","uniqViews":4,"uniqContacts":1,"uniqFavorites":0}
		]}]}}`))
	}

	c := newTestClient(t, a)
	rows, err := c.GetItemsStatsDetailed(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].ItemID)
	assert.Equal(t, 14, rows[0].Views)
	assert.Equal(t, 3, rows[0].Contacts)
	assert.Equal(t, 1, rows[0].Favorites)
}

func TestDoJSON_MapsRateLimit(t *testing.T) {
	a := newAPIServer(t)
	a.handlers["/cpa/v2/balanceInfo"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}
	a.handlers["/cpa/v3/balanceInfo"] = a.handlers["/cpa/v2/balanceInfo"]

	c := newTestClient(t, a)
	_, err := c.GetBalance(context.Background())
	require.Error(t, err)
	var limited *errors.ErrRateLimited
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "30", limited.RetryAfter)
}

func TestDoJSON_MapsServerError(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/core/v1/items", http.StatusBadGateway, `{"error":"bad gateway"}`)

	c := newTestClient(t, a)
	_, err := c.GetItemsStats(context.Background())
	require.Error(t, err)
	var upstream *errors.ErrUpstreamServer
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.StatusCode)
}

func TestDoJSON_RetriesOnceAfterTokenRejection(t *testing.T) {
	var tokenCount, itemCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			n := atomic.AddInt32(&tokenCount, 1)
			fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
		case "/core/v1/items":
			atomic.AddInt32(&itemCalls, 1)
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"expired"}`))
				return
			}
			_, _ = w.Write([]byte(`{"resources":[],"meta":{"page":1,"pages":1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(testCreds(), nil, WithBaseURL(srv.URL))
	require.NoError(t, err)

	stats, err := c.GetItemsStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCount))
	assert.Equal(t, int32(2), atomic.LoadInt32(&itemCalls))
}
