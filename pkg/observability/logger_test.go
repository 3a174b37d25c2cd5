package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("nonsense"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, JSONFormat, &buf)

	logger.WithFields(PluginFields("perf", "tick")).Info("slow tick")
	logger.Debug("filtered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "slow tick", entry["msg"])
	assert.Equal(t, "perf", entry["plugin"])
	assert.Equal(t, "tick", entry["hook"])
	assert.NotContains(t, buf.String(), "filtered")
}

func TestNopLogger(t *testing.T) {
	entry := NopLogger()
	assert.NotPanics(t, func() { entry.Error("ignored") })
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := WithTraceContext(context.Background(), logrus.NewEntry(logger))
	entry.Info("hello")

	require.Len(t, hook.Entries, 1)
	assert.NotContains(t, hook.LastEntry().Data, "trace_id")
}

func TestPluginFields_NoHook(t *testing.T) {
	assert.Equal(t, logrus.Fields{"plugin": "counter"}, PluginFields("counter", ""))
	assert.Equal(t, "WARNING", FormatLevel(logrus.WarnLevel))
}
