package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "model", "nls")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "nls", rec["model"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "TEXT").Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "k=1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "INFO", parseLevel("").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
	assert.Equal(t, "ERROR", parseLevel("Error").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
}

func TestNewMetricsForTesting_Isolated(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.TracksLoaded.Add(3)
	a.FitFailures.WithLabelValues("gnls").Inc()
	a.SamplerMaxRhat.WithLabelValues("bayes-mixture").Set(1.02)

	assert.Equal(t, 3.0, testutil.ToFloat64(a.TracksLoaded))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TracksLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.FitFailures.WithLabelValues("gnls")))
	assert.InDelta(t, 1.02, testutil.ToFloat64(a.SamplerMaxRhat.WithLabelValues("bayes-mixture")), 1e-12)
}
