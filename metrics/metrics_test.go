package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransactionObserved("push")
		m.RecordAttack("sandwich")
		m.RecordIngestMode("poll", "push", "poll", "inactive")
		m.RecordRelayCall("eth_sendBundle", nil, 0.1)
		m.RecordFeedConnected(true)
		m.RecordNotification("attack", errors.New("x"))
		m.RecordHTTPRequest("/attacks", "GET", 200, 0.01)
	})
}

func TestRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAttack("sandwich")
	m.RecordAttack("sandwich")
	m.RecordAttack("backrun")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attacksDetected.WithLabelValues("sandwich")))

	m.RecordIngestMode("push", "push", "poll", "inactive")
	m.RecordIngestMode("poll", "push", "poll", "inactive")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ingestMode.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestMode.WithLabelValues("poll")))

	m.RecordRelayCall("flashbots_simBundle", errors.New("timeout"), 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayCallsTotal.WithLabelValues("flashbots_simBundle", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(502))
}
