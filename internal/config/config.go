package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	StreamPolicy      string        `mapstructure:"stream_policy"`
}

type CompletionConfig struct {
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OllamaHost      string `mapstructure:"ollama_host"`
}

type Config struct {
	DatabaseURL  string           `mapstructure:"database_url"`
	ServerPort   string           `mapstructure:"server_port"`
	DocumentsDir string           `mapstructure:"documents_dir"`
	Worker       WorkerConfig     `mapstructure:"worker"`
	Completion   CompletionConfig `mapstructure:"completion"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.DatabaseURL == "" {
		log.Fatal("Database URL must be set in the config file")
	}
	if config.DocumentsDir == "" {
		config.DocumentsDir = "./documents"
	}
	if config.Worker.MaxConcurrentRuns <= 0 {
		config.Worker.MaxConcurrentRuns = 4
	}
	if config.Worker.RunTimeout <= 0 {
		config.Worker.RunTimeout = 2 * time.Minute
	}
	if config.Worker.StreamPolicy == "" {
		config.Worker.StreamPolicy = "any-line"
	}

	return &config
}
