package scheduler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer

	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func decodeRecord(t *testing.T, line []byte) map[string]any {
	t.Helper()

	var record map[string]any
	require.NoError(t, json.Unmarshal(line, &record), string(line))

	return record
}

func TestCronLogger(t *testing.T) {
	logger, buf := captureLogger(slog.LevelDebug)
	adapter := cronLogger{logger: logger}

	adapter.Info("wake", "now", "12:00")
	adapter.Error(errors.New("boom"), "panic", "entry", 3)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	info := decodeRecord(t, lines[0])
	assert.Equal(t, "DEBUG", info["level"])
	assert.Equal(t, "wake", info["msg"])
	assert.Equal(t, "12:00", info["now"])

	failure := decodeRecord(t, lines[1])
	assert.Equal(t, "ERROR", failure["level"])
	assert.Equal(t, "panic", failure["msg"])
	assert.Equal(t, "boom", failure["error"])
	assert.InDelta(t, 3, failure["entry"], 0)
}

func TestCronLogger_RecoveredJobPanicReachesSlog(t *testing.T) {
	logger, buf := captureLogger(slog.LevelInfo)

	job := cron.Recover(cronLogger{logger: logger})(cron.FuncJob(func() {
		panic("job exploded")
	}))

	assert.NotPanics(t, job.Run)

	record := decodeRecord(t, bytes.TrimSpace(buf.Bytes()))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "panic", record["msg"])
	assert.Equal(t, "job exploded", record["error"])
}
