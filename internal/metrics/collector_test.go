package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsPipelineMetrics(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())

	c.ObserveExport("success", 2*time.Second)
	c.ObserveExport("Busy", time.Second)
	c.ObserveExport("Busy", time.Second)
	c.ObserveLockWait(500*time.Millisecond, true)
	c.ConverterStarted()
	c.ConverterFinished("ok")
	c.ObserveArtifactSize(4096)
	c.RateLimited()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.exportsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.exportsTotal.WithLabelValues("Busy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.converterRuns.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.converterRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rateLimited))
}

func TestNilCollectorIsNoop(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.ObserveExport("success", time.Second)
	c.ObserveStage("Exporting", time.Second)
	c.ObserveLockWait(time.Second, false)
	c.ConverterStarted()
	c.ConverterFinished("failed")
	c.ObserveArtifactSize(1)
	c.RateLimited()
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.ObserveStage("Converting", 3*time.Second)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "tablexport_stage_duration_seconds"), "missing stage histogram")
	assert.True(t, strings.Contains(string(body), "go_goroutines"), "missing go collector")
}
