package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsNeverNil(t *testing.T) {
	require.NotNil(t, Logger)

	// Must not panic even before Initialize.
	Logger.Infow("pre-init log line", "key", "value")
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, Initialize(true))
	assert.True(t, JSONOutput)
	require.NotNil(t, Logger)
}

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false))
	assert.False(t, JSONOutput)
	require.NotNil(t, Logger)

	child := Named("dispatch")
	require.NotNil(t, child)
	child.Infow("named logger works", "worker", 1)
}
