package observability

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutputRedirectsNewLoggers(t *testing.T) {
	defer SetOutput(os.Stderr)

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelInfo)

	NewLogger("relay").Info("hello")
	assert.Contains(t, buf.String(), `"component":"relay"`)
	assert.Contains(t, buf.String(), `"system":"strand"`)
}

func TestSetOutputAcceptsMixedWriterTypes(t *testing.T) {
	defer SetOutput(os.Stderr)

	// Successive stores carry different concrete writer types; none of them
	// may panic the process.
	assert.NotPanics(t, func() {
		SetOutput(&bytes.Buffer{})
		SetOutput(os.Stderr)
		SetOutput(&bytes.Buffer{})
	})
}

func TestSetLevelFiltersDebug(t *testing.T) {
	defer SetOutput(os.Stderr)
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	SetOutput(&buf)

	log := NewLogger("levels")
	SetLevel(slog.LevelInfo)
	log.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetLevel(slog.LevelDebug)
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
