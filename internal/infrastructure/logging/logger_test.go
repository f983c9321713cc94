package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "development", cfg: DevelopmentConfig()},
		{name: "no outputs", cfg: Config{Level: "warn"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l.Logger)
		})
	}
}

func TestForSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	root := &Logger{Logger: zap.New(core)}

	root.ForSession("", "sess_1").Info("hello")
	root.ForSession("custom", "sess_2").Info("world")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, DefaultNamespace, entries[0].LoggerName)
	assert.Equal(t, "sess_1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "custom", entries[1].LoggerName)
}

func TestIsProduction(t *testing.T) {
	t.Setenv("PILOT_ENV", "production")
	assert.True(t, IsProduction())

	t.Setenv("PILOT_ENV", "")
	t.Setenv("ENV", "dev")
	assert.False(t, IsProduction())
}
