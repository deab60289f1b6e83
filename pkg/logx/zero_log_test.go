package logx_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/marcodd23/go-micro-dao/pkg/configx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLogJSON(t *testing.T) {
	defer logx.SetLogger(nil)

	var buf bytes.Buffer
	logx.SetupLoggerWithWriter(&configx.BaseConfig{
		Name:        "notes",
		Environment: "PROD",
		Version:     "1.2",
		Logging:     &configx.LoggingConfig{Level: "info"},
	}, &buf)

	ctx := logx.WithCorrelationID(context.Background(), "unit-1")

	logx.GetLogger().LogDebug(ctx, "hidden")
	logx.GetLogger().LogError(ctx, "commit failed", errors.New("conn reset"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "commit failed", entry["message"])
	assert.Equal(t, "ERROR", entry["severity"])
	assert.Equal(t, "unit-1", entry["correlation_id"])
	assert.Equal(t, "conn reset", entry["error"])
	assert.Equal(t, "notes", entry["service"])
	assert.Equal(t, map[string]any{"environment": "PROD", "version": "1.2"}, entry["serviceContext"])
}

func TestZeroLogConsoleForLocal(t *testing.T) {
	defer logx.SetLogger(nil)

	var buf bytes.Buffer
	logx.SetupLoggerWithWriter(&configx.BaseConfig{Name: "notes", Logging: &configx.LoggingConfig{Level: "debug"}}, &buf)

	logx.GetLogger().LogDebug(context.Background(), "unit of work begun")
	assert.Contains(t, buf.String(), "unit of work begun")
	assert.Contains(t, buf.String(), "DBG")

	assert.Panics(t, func() { logx.GetLogger().LogPanic(context.Background(), "boom") })
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, logx.CorrelationID(context.Background()))
	assert.Equal(t, "abc", logx.CorrelationID(logx.WithCorrelationID(context.Background(), "abc")))
	assert.IsType(t, &logx.DefaultLogger{}, logx.GetLogger())
}
