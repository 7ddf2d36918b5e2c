package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":       zapcore.DebugLevel,
		"development": zapcore.DebugLevel,
		"WARN":        zapcore.WarnLevel,
		"error":       zapcore.ErrorLevel,
		"production":  zapcore.InfoLevel,
		"":            zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestGetWithoutInitIsNoop(t *testing.T) {
	mu.Lock()
	prev := global
	global = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}()

	l := Get()
	require.NotNil(t, l)
	l.Info("dropped")
}

func TestInit(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "debug", ServiceName: "facility-rental", Development: true}))
	assert.NotNil(t, Get().Zap())
	Sync()
}

func TestContextLoggingWithoutSpan(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	l.InfoContext(context.Background(), "hello", zap.String("k", "v"))
	l.KV().ErrorContext(context.Background(), "kv hello", "reservation_id", "r-1")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "v", entries[0].ContextMap()["k"])
	assert.NotContains(t, entries[0].ContextMap(), "trace_id")
	assert.Equal(t, "r-1", entries[1].ContextMap()["reservation_id"])
}
