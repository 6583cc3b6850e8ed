package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.GraphBackend)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.False(t, cfg.AsyncNotes)
	assert.Equal(t, 256, cfg.NoteQueueSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEMENTO_PORT", "9090")
	t.Setenv("MEMENTO_GRAPH_BACKEND", "sqlite")
	t.Setenv("MEMENTO_SQLITE_PATH", "/tmp/m.db")
	t.Setenv("MEMENTO_ASYNC_NOTES", "true")
	t.Setenv("MEMENTO_READ_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite", cfg.GraphBackend)
	assert.Equal(t, "/tmp/m.db", cfg.SQLitePath)
	assert.True(t, cfg.AsyncNotes)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MEMENTO_PORT", "not-a-number")
	t.Setenv("MEMENTO_ASYNC_NOTES", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.AsyncNotes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.GraphBackend = "neo4j" }},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }},
		{"unknown llm provider", func(c *Config) { c.LLMProvider = "bard" }},
		{"unknown embedding provider", func(c *Config) { c.EmbeddingProvider = "word2vec" }},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
		{"zero queue size", func(c *Config) { c.NoteQueueSize = 0 }},
		{"qdrant with sqlite", func(c *Config) {
			c.GraphBackend = "sqlite"
			c.QdrantURL = "http://localhost:6333"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
