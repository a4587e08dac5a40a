package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"example.com/user-provisioner/internal/model"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Env: "prod", Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger(LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestCountsField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("done", Counts(model.Counts{Total: 3, Created: 2, Failed: 1}))

	entry := logs.All()[0]
	counts := entry.ContextMap()["counts"].(map[string]any)
	assert.Equal(t, 2, counts["created"])
	assert.Equal(t, 1, counts["failed"])
}
