package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lb.log")

	log, err := New(Config{Level: "info", Format: "json", Output: "file", File: path})
	require.NoError(t, err)

	log.ProxyLogger().WithAction(ActionForwarded).Info("Request forwarded")
	log.Debug("dropped below level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "Request forwarded", line["msg"])
	assert.Equal(t, "proxy", line["component"])
	assert.Equal(t, ActionForwarded, line["action"])
}

func TestFieldsDoNotLeakBetweenChildren(t *testing.T) {
	base, hook := test.NewNullLogger()
	log := Wrap(base)

	parent := log.WithField("component", "pool")
	parent.WithField("backend_id", "backend-1").Info("child")
	parent.Info("parent")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "backend-1", entries[0].Data["backend_id"])
	assert.NotContains(t, entries[1].Data, "backend_id")
	assert.Equal(t, "pool", entries[1].Data["component"])
}

func TestMiddlewareLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	Wrap(base).MiddlewareLogger("rate_limiter").WithAction(ActionRateLimited).Warn("rejected")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, logrus.Fields{
		"component":  "middleware",
		"middleware": "rate_limiter",
		"action":     ActionRateLimited,
	}, entry.Data)
}
