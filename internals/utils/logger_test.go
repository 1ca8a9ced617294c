package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { Logger = nil })

	require.NoError(t, InitLogger("debug", "console"))
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, InitLogger("error", "json"))
	assert.False(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
}
