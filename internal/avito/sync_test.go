package avito

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/errors"
)

func TestSyncAccountData_AllPartsSucceed(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/cpa/v2/balanceInfo", http.StatusOK, `{"balance":50000,"advance":1000}`)
	a.handle("/core/v1/accounts/self", http.StatusOK, `{"id":77,"name":"Shop"}`)
	a.handle("/core/v1/items", http.StatusOK, `{"resources":[{"id":5,"status":"active"},{"id":6,"status":"removed"}],"meta":{"page":1,"pages":1}}`)
	a.handle("/stats/v1/accounts/77/items", http.StatusOK, `{"result":{"items":[{"itemId":5,"stats":[{"date":"2026-08-28","uniqViews":7,"uniqContacts":2,"uniqFavorites":1}]}]}}`)

	c := newTestClient(t, a)
	result, err := c.SyncAccountData(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Partial())
	assert.Equal(t, "acc-1", result.AccountID)
	assert.Equal(t, 500.00, result.Balance.Balance)
	assert.Equal(t, 2, result.Items.Total)
	assert.Equal(t, 1, result.Items.Active)
	assert.Equal(t, 7, result.Totals.Views)
	assert.Equal(t, 2, result.Totals.Contacts)
	assert.False(t, result.SyncedAt.IsZero())
}

func TestSyncAccountData_PartialSuccessKeepsWhatWorked(t *testing.T) {
	a := newAPIServer(t)
	// Both balance endpoints are down; everything else answers.
	a.handle("/cpa/v2/balanceInfo", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/cpa/v3/balanceInfo", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/core/v1/accounts/self", http.StatusOK, `{"id":77,"name":"Shop"}`)
	a.handle("/core/v1/items", http.StatusOK, `{"resources":[{"id":5,"status":"active"}],"meta":{"page":1,"pages":1}}`)
	a.handle("/stats/v1/accounts/77/items", http.StatusOK, `{"result":{"items":[{"itemId":5,"stats":[{"date":"2026-08-28","uniqViews":3,"uniqContacts":1,"uniqFavorites":0}]}]}}`)

	c := newTestClient(t, a)
	result, err := c.SyncAccountData(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Partial())
	assert.Equal(t, []string{"balance"}, result.FailedParts)
	assert.Zero(t, result.Balance.Balance)
	assert.Equal(t, 1, result.Items.Total)
	assert.Equal(t, 3, result.Totals.Views)
}

func TestSyncAccountData_AllPartsFailed(t *testing.T) {
	a := newAPIServer(t)
	a.handle("/cpa/v2/balanceInfo", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/cpa/v3/balanceInfo", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/core/v1/items", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/core/v1/accounts/self", http.StatusInternalServerError, `{"error":"down"}`)
	a.handle("/common/v1/accounts/self", http.StatusInternalServerError, `{"error":"down"}`)

	c := newTestClient(t, a)
	_, err := c.SyncAccountData(context.Background())
	require.Error(t, err)
	var syncErr *errors.ErrSyncFailed
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "acc-1", syncErr.AccountID)
	assert.Len(t, syncErr.Errs, 3)
	assert.Equal(t, errors.KindSyncFailed, errors.KindOf(err))
}
