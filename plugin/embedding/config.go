package embedding

import (
	"github.com/hrygo/agentmemory/internal/profile"
)

// Config represents vector embedding configuration.
type Config struct {
	Provider   string  // openai, siliconflow, ollama
	Model      string  // BAAI/bge-m3
	Dimensions int     // must match the store's embedding dimension
	APIKey     string
	BaseURL    string
	RPS        float64 // requests per second, 0 disables throttling
}

// NewConfigFromProfile creates embedding config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimension,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		RPS:        p.EmbeddingRPS,
	}
}
