package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debug("hidden")
	l.Info("shown", "vm", "web-1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "vm=web-1")

	buf.Reset()
	l = New(&buf, true)
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), OrDefault(nil))

	l := New(&bytes.Buffer{}, false)
	assert.Same(t, l, OrDefault(l))
}
