package ai

import (
	"time"

	"github.com/chanticle/chanticle/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	Chat      ChatConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Model      string // text-embedding-3-small
	Dimensions int    // 1536
	APIKey     string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
}

// ChatConfig represents chat completion configuration.
type ChatConfig struct {
	Model      string // gpt-4o-mini
	APIKey     string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
}

// NewConfigFromProfile creates AI config from a profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:      p.EmbeddingModel,
			Dimensions: p.EmbeddingDims,
			APIKey:     p.OpenAIAPIKey,
			BaseURL:    p.OpenAIBaseURL,
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
		Chat: ChatConfig{
			Model:      p.ChatModel,
			APIKey:     p.OpenAIAPIKey,
			BaseURL:    p.OpenAIBaseURL,
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
	}
}
