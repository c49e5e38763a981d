package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "WARN", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithConfigRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithConfig("svc", "1.0", Config{Format: "xml"})
	assert.Error(t, err)

	l, err := NewWithConfig("svc", "1.0", Config{Format: "json", Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "svc", l.ServiceName())
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "quickdb.log")
	l, err := NewWithConfig("svc", "1.0", Config{File: path, Format: "json"})
	require.NoError(t, err)

	l.Info("opened %s", "main")
	l.Debug("below the level")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"opened main"`)
	assert.NotContains(t, string(data), "below the level")
}

func TestLoggingWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap("quickdb", zap.New(core))

	l.Info("pool %s started with %d connections", "main", 2)
	l.Named("cache").Debug("plain message")
	l.WithFields(map[string]string{"alias": "main"}).Warn("slow request")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "pool main started with 2 connections", entries[0].Message)
	assert.Equal(t, "plain message", entries[1].Message)
	assert.Equal(t, "cache", entries[1].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "main", entries[2].ContextMap()["alias"])
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error("discarded %d", 1)
	l.WithFields(map[string]string{"k": "v"}).Info("discarded")
}
