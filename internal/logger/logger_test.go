package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.DebugLevel).With("runID", 7)
	l.Info("开始执行", "caseID", 3)
	l.Err(errors.New("boom"), "执行失败")

	out := buf.String()
	assert.Contains(t, out, `"runID":7`)
	assert.Contains(t, out, `"caseID":3`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewRejectsUnknownWriter(t *testing.T) {
	_, err := New(Options{Writers: []string{"syslog"}})
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	NewNop().With("k", "v").Info("nothing")
}
