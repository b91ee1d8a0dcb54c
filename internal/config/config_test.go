package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, float32(0.5), cfg.MinFaceConfidence)
	assert.Equal(t, float32(0.2), cfg.MinEmotionConfidence)
	assert.Equal(t, 320, cfg.ProcessingWidth)
	assert.Equal(t, 240, cfg.ProcessingHeight)
	assert.Equal(t, 2, cfg.MaxFaces)
	assert.False(t, cfg.EnableGPU)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero thresholds", mutate: func(c *Config) { c.MinFaceConfidence, c.MinEmotionConfidence = 0, 0 }},
		{name: "one thresholds", mutate: func(c *Config) { c.MinFaceConfidence, c.MinEmotionConfidence = 1, 1 }},
		{name: "face confidence above 1", mutate: func(c *Config) { c.MinFaceConfidence = 1.5 }, wantErr: true},
		{name: "face confidence negative", mutate: func(c *Config) { c.MinFaceConfidence = -0.1 }, wantErr: true},
		{name: "emotion confidence above 1", mutate: func(c *Config) { c.MinEmotionConfidence = 2 }, wantErr: true},
		{name: "zero width", mutate: func(c *Config) { c.ProcessingWidth = 0 }, wantErr: true},
		{name: "negative height", mutate: func(c *Config) { c.ProcessingHeight = -240 }, wantErr: true},
		{name: "zero max faces", mutate: func(c *Config) { c.MaxFaces = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("uses defaults when vars missing", func(t *testing.T) {
		env, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "development", env.Environment)
		assert.Equal(t, "worker", env.Engine)
		assert.Equal(t, 30*time.Second, env.Timeout)
		assert.Equal(t, float32(0.5), env.MinFaceConfidence)
		assert.Equal(t, 320, env.ProcessingWidth)
		assert.True(t, env.IsDevelopment())
	})

	t.Run("reads prefixed vars", func(t *testing.T) {
		t.Setenv("NEPTUNE_ENV", "production")
		t.Setenv("NEPTUNE_ENGINE", "mock")
		t.Setenv("NEPTUNE_MIN_FACE_CONFIDENCE", "0.75")
		t.Setenv("NEPTUNE_PROCESSING_WIDTH", "640")
		t.Setenv("NEPTUNE_PROCESSING_HEIGHT", "480")
		t.Setenv("NEPTUNE_WORKER_TIMEOUT", "5s")
		t.Setenv("NEPTUNE_DATABASE_URL", "postgres://localhost:5432/neptune")

		env, err := Load()
		require.NoError(t, err)

		assert.True(t, env.IsProduction())
		assert.Equal(t, "mock", env.Engine)
		assert.Equal(t, float32(0.75), env.MinFaceConfidence)
		assert.Equal(t, 640, env.ProcessingWidth)
		assert.Equal(t, 480, env.ProcessingHeight)
		assert.Equal(t, 5*time.Second, env.Timeout)
		assert.Equal(t, "postgres://localhost:5432/neptune", env.DatabaseURL)
	})

	t.Run("fails on malformed number", func(t *testing.T) {
		t.Setenv("NEPTUNE_PROCESSING_WIDTH", "wide")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	newLogger("production", &buf).Info("engine created", "id", 7)
	assert.Contains(t, buf.String(), `"msg":"engine created"`)

	buf.Reset()
	newLogger("production", &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	newLogger("development", &buf).Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
