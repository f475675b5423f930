package logging

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("logfmt", "warn", &buf)
	require.NoError(t, err)

	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown", "partition", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "partition=1")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("json", "debug", &buf)
	require.NoError(t, err)

	level.Debug(logger).Log("msg", "opened", "file", "a.arrow_file")
	assert.Contains(t, buf.String(), `"file":"a.arrow_file"`)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("xml", "info", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New("logfmt", "trace", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
