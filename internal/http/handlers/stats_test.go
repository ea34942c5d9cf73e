package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/waitline/internal/observability/metrics"
)

func TestStatsRendersGatheredFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	qm := metrics.NewQueueMetrics(reg)
	qm.ObserveEnqueue("ok", 3)
	qm.ObserveAction("next", "ok", 0.05)
	qm.ObserveAction("next", "ok", 0.15)

	// Families outside the service namespace stay hidden.
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "go_fake_total"})
	reg.MustRegister(other)
	other.Inc()

	h := NewStatsHandler(reg, nil)
	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var env struct {
		Success bool `json:"success"`
		Data    []struct {
			Name    string `json:"name"`
			Type    string `json:"type"`
			Samples []struct {
				Labels map[string]string `json:"labels"`
				Value  *float64          `json:"value"`
				Count  *uint64           `json:"count"`
				Sum    *float64          `json:"sum"`
				P95    *float64          `json:"p95Seconds"`
			} `json:"samples"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.True(t, env.Success)

	byName := map[string]int{}
	for i, fam := range env.Data {
		byName[fam.Name] = i
	}
	assert.NotContains(t, byName, "go_fake_total")

	idx, ok := byName["waitline_queue_enqueues_total"]
	require.True(t, ok)
	counter := env.Data[idx]
	assert.Equal(t, "counter", counter.Type)
	require.Len(t, counter.Samples, 1)
	require.NotNil(t, counter.Samples[0].Value)
	assert.Equal(t, 3.0, *counter.Samples[0].Value)
	assert.Equal(t, "ok", counter.Samples[0].Labels["outcome"])

	idx, ok = byName["waitline_queue_action_duration_seconds"]
	require.True(t, ok)
	hist := env.Data[idx]
	assert.Equal(t, "histogram", hist.Type)
	require.Len(t, hist.Samples, 1)
	sample := hist.Samples[0]
	require.NotNil(t, sample.Count)
	assert.EqualValues(t, 2, *sample.Count)
	require.NotNil(t, sample.Sum)
	assert.InDelta(t, 0.2, *sample.Sum, 1e-9)
	require.NotNil(t, sample.P95)
	assert.Greater(t, *sample.P95, 0.0)
}

func TestStatsEmptyRegistry(t *testing.T) {
	h := NewStatsHandler(prometheus.NewRegistry(), nil)
	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"data":[]`)
}
