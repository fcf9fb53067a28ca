package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("test", false)
	assert.NotNil(t, CLILogger)
	assert.Equal(t, zapcore.InfoLevel, Level())
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", true)
	assert.Equal(t, zapcore.DebugLevel, Level())
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestSetLevel(t *testing.T) {
	InitCLILogger("test", false)
	t.Cleanup(func() { InitCLILogger("test", false) })

	assert.True(t, SetLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, Level())
	assert.False(t, CLILogger.Core().Enabled(zapcore.InfoLevel))

	assert.False(t, SetLevel("chatty"))
	assert.Equal(t, zapcore.WarnLevel, Level())
}
