package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration as loaded from the YAML file.
// Secret values (API keys, passwords, webhook URLs) are never part of the
// file; they are resolved separately through the resolution chain.
type Config struct {
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Security   SecurityConfig   `yaml:"security"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	LogLevel   string           `yaml:"log_level"`
}

// SummarizerConfig selects the LLM provider and its generation settings.
type SummarizerConfig struct {
	Provider       string `yaml:"provider"`
	GeminiModel    string `yaml:"gemini_model"`
	OpenAIModel    string `yaml:"openai_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	OllamaModel    string `yaml:"ollama_model"`
	OllamaURL      string `yaml:"ollama_url"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// DeliveryConfig holds the enabled channel list and per-channel settings.
type DeliveryConfig struct {
	Method string      `yaml:"method"`
	Email  EmailConfig `yaml:"email"`
	Slack  SlackConfig `yaml:"slack"`
}

// EmailConfig holds the non-secret email channel settings. The password is
// resolved through the chain, never from the file.
type EmailConfig struct {
	SMTPServer      string   `yaml:"smtp_server"`
	SMTPPort        int      `yaml:"smtp_port"`
	Username        string   `yaml:"username"`
	Sender          string   `yaml:"sender"`
	Recipients      []string `yaml:"recipients"`
	SubjectTemplate string   `yaml:"subject_template"`
}

// SlackConfig holds the non-secret Slack channel settings. The webhook URL is
// resolved through the chain, never from the file.
type SlackConfig struct {
	Channel       string `yaml:"channel"`
	Username      string `yaml:"username"`
	IconEmoji     string `yaml:"icon_emoji"`
	MaxPerMessage int    `yaml:"max_summaries_per_message"`
}

// SecurityConfig controls how secrets are resolved.
type SecurityConfig struct {
	UseEnvironmentVariables bool   `yaml:"use_environment_variables"`
	UseSecretManager        bool   `yaml:"use_secret_manager"`
	SecretManagerProject    string `yaml:"secret_manager_project"`
}

// PipelineConfig holds run-level tuning for the digest pipeline.
type PipelineConfig struct {
	Stories             int `yaml:"stories"`
	Workers             int `yaml:"workers"`
	FetchTimeoutSec     int `yaml:"fetch_timeout_secs"`
	ExtractTimeoutSec   int `yaml:"extract_timeout_secs"`
	SummarizeTimeoutSec int `yaml:"summarize_timeout_secs"`
	DeliveryTimeoutSec  int `yaml:"delivery_timeout_secs"`
	RequestDelayMS      int `yaml:"request_delay_ms"`
}

// Defaults returns a Config with all default values set.
func Defaults() Config {
	return Config{
		Summarizer: SummarizerConfig{
			Provider:       "gemini",
			GeminiModel:    "gemini-1.5-flash-latest",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-haiku-latest",
			OllamaModel:    "llama3.1",
			OllamaURL:      "http://localhost:11434",
			MaxTokens:      500,
		},
		Delivery: DeliveryConfig{
			Method: "email",
			Email: EmailConfig{
				SMTPServer:      "smtp.gmail.com",
				SMTPPort:        587,
				SubjectTemplate: "Hacker News Top Stories - {date}",
			},
			Slack: SlackConfig{
				Username:      "HN Summarizer Bot",
				IconEmoji:     ":newspaper:",
				MaxPerMessage: 3,
			},
		},
		Security: SecurityConfig{
			UseEnvironmentVariables: true,
			UseSecretManager:        false,
		},
		Pipeline: PipelineConfig{
			Stories:             10,
			Workers:             1,
			FetchTimeoutSec:     10,
			ExtractTimeoutSec:   30,
			SummarizeTimeoutSec: 60,
			DeliveryTimeoutSec:  30,
			RequestDelayMS:      500,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns a validated Config.
// The HN_SUMMARIZER_CONFIG environment variable can override the file path.
// A missing file is not an error: everything can come from defaults plus the
// resolution chain.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("HN_SUMMARIZER_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and values are valid.
func (c *Config) Validate() error {
	switch c.Summarizer.Provider {
	case "gemini", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown summarizer provider %q", c.Summarizer.Provider)
	}

	if c.Summarizer.MaxTokens <= 0 {
		return fmt.Errorf("summarizer max_tokens must be positive, got %d", c.Summarizer.MaxTokens)
	}

	if len(c.Methods()) == 0 {
		return fmt.Errorf("delivery method is required")
	}

	if c.Delivery.Email.SMTPPort <= 0 || c.Delivery.Email.SMTPPort > 65535 {
		return fmt.Errorf("invalid smtp_port %d", c.Delivery.Email.SMTPPort)
	}

	if c.Delivery.Slack.MaxPerMessage <= 0 {
		return fmt.Errorf("slack max_summaries_per_message must be positive, got %d", c.Delivery.Slack.MaxPerMessage)
	}

	if c.Pipeline.Stories <= 0 {
		return fmt.Errorf("pipeline stories must be positive, got %d", c.Pipeline.Stories)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive, got %d", c.Pipeline.Workers)
	}

	return nil
}

// Methods returns the delivery method list parsed from the comma-separated
// delivery.method value, lowercased and trimmed.
func (c *Config) Methods() []string {
	var methods []string
	for _, m := range strings.Split(c.Delivery.Method, ",") {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// SecretManagerProject returns the configured GCP project for Secret Manager,
// falling back to the GCP_PROJECT environment variable.
func (c *Config) SecretManagerProject() string {
	if c.Security.SecretManagerProject != "" {
		return c.Security.SecretManagerProject
	}
	return os.Getenv("GCP_PROJECT")
}
