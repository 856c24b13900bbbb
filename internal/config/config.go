package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Embedding LLMConfig      `yaml:"embedding"`
	Inference LLMConfig      `yaml:"inference"`
	RAG       RAGConfig      `yaml:"rag"`
	Upload    UploadConfig   `yaml:"upload"`
	Log       LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// LLMConfig covers both the embedding model and the inference model; the
// provider decides which langchaingo backend gets constructed.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "ollama"
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	Dimensions    int     `yaml:"dimensions"`
	ContextBudget int     `yaml:"context_budget"`
	TopK          int     `yaml:"top_k"`
	MinScore      float32 `yaml:"min_score"`
	StrictScore   float32 `yaml:"strict_score"`
}

type UploadConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
	MaxPerDay     int `yaml:"max_per_day"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.Embedding.Key = v
	}
	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		c.Inference.Key = v
	}
}

func (c *Config) Validate() error {
	if c.RAG.Dimensions <= 0 {
		c.RAG.Dimensions = 1024
	}
	if c.RAG.ContextBudget <= 0 {
		c.RAG.ContextBudget = 16000
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 20
	}
	if c.RAG.MinScore <= 0 {
		c.RAG.MinScore = 0.5
	}
	if c.RAG.StrictScore <= 0 {
		c.RAG.StrictScore = 0.7
	}
	if c.RAG.StrictScore < c.RAG.MinScore {
		return fmt.Errorf("rag.strict_score %.2f below rag.min_score %.2f", c.RAG.StrictScore, c.RAG.MinScore)
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		c.Upload.MaxFileSizeMB = 10
	}
	if c.Upload.MaxPerDay <= 0 {
		c.Upload.MaxPerDay = 5
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Inference.Provider == "" {
		c.Inference.Provider = "openai"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// MaxFileSizeBytes is the upload limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Upload.MaxFileSizeMB) * 1024 * 1024
}
