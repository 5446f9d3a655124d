package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamilies(t *testing.T, m *Metrics) []*dto.MetricFamily {
	t.Helper()
	families, err := m.registry.Gather()
	require.NoError(t, err)
	return families
}

func metricHasLabel(families []*dto.MetricFamily, name, key, value string) bool {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == key && label.GetValue() == value {
					return true
				}
			}
		}
	}
	return false
}

func TestNewMetrics_RegistersFamilies(t *testing.T) {
	m := NewMetrics("testreg")
	m.RecordTokenRefresh("success", "form")
	m.RecordAvitoCall("balance", "200", 0.02)
	m.RecordProxyProbe("reachable")
	m.RecordKeepAliveTick("acc-1", "ok")
	m.SetAccountOnline("acc-1", true)
	m.SetKeepAliveJobs(3)

	families := gatherFamilies(t, m)
	assert.True(t, metricHasLabel(families, "testreg_token_refreshes_total", "strategy", "form"))
	assert.True(t, metricHasLabel(families, "testreg_avito_calls_total", "operation", "balance"))
	assert.True(t, metricHasLabel(families, "testreg_proxy_probes_total", "outcome", "reachable"))
	assert.True(t, metricHasLabel(families, "testreg_keepalive_ticks_total", "account_id", "acc-1"))
	assert.True(t, metricHasLabel(families, "testreg_account_online", "account_id", "acc-1"))
}

func TestAccountOnline_GaugeValue(t *testing.T) {
	m := NewMetrics("testgauge")
	m.SetAccountOnline("acc-2", true)
	m.SetAccountOnline("acc-2", false)

	families := gatherFamilies(t, m)
	for _, family := range families {
		if family.GetName() != "testgauge_account_online" {
			continue
		}
		require.Len(t, family.GetMetric(), 1)
		assert.Equal(t, 0.0, family.GetMetric()[0].GetGauge().GetValue())
		return
	}
	t.Fatal("account_online family not found")
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := NewMetrics("testhandler")
	m.RecordKeepAliveTick("acc-1", "skipped")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "testhandler_keepalive_ticks_total")
}
