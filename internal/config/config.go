package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loandocs/internal/learning"
	"loandocs/internal/schedule"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	LLMProvider          string `yaml:"llm_provider"`
	LLMModel             string `yaml:"llm_model"`
	LLMRequestsPerMinute int    `yaml:"llm_requests_per_minute"`
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`
	AnthropicBaseURL     string `yaml:"anthropic_base_url"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
	ClassifierPromptPath string `yaml:"classifier_prompt_path"`
	ExtractionPromptPath string `yaml:"extraction_prompt_path"`
	BatchConcurrency     int    `yaml:"batch_concurrency"`

	ConfidenceThresholds map[string]float64 `yaml:"confidence_thresholds"`
	LearningContextLimit int                `yaml:"learning_context_limit"`
	LearningRedaction    string             `yaml:"learning_redaction"`

	DBPath                     string `yaml:"db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	InboxDir      string `yaml:"inbox_dir"`
	InboxSchedule string `yaml:"inbox_schedule"`
	ProcessedDir  string `yaml:"processed_dir"`
	ExportDir     string `yaml:"export_dir"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAppToken   string `yaml:"slack_app_token"`
	ReviewChannelID string `yaml:"review_channel_id"`
	DigestSchedule  string `yaml:"digest_schedule"`

	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Timezone  string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Path returns the config file location: CONFIG_PATH or ./config.yaml.
func Path() string {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return "config.yaml"
}

// LoadConfig reads path (a missing file is not an error), applies environment
// overrides and defaults, then validates.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = Path()
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.ClassifierPromptPath, "CLASSIFIER_PROMPT_PATH")
	envOverride(&cfg.ExtractionPromptPath, "EXTRACTION_PROMPT_PATH")
	envOverride(&cfg.LearningRedaction, "LEARNING_REDACTION")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.InboxDir, "INBOX_DIR")
	envOverride(&cfg.InboxSchedule, "INBOX_SCHEDULE")
	envOverride(&cfg.ProcessedDir, "PROCESSED_DIR")
	envOverride(&cfg.ExportDir, "EXPORT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ReviewChannelID, "REVIEW_CHANNEL_ID")
	envOverride(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	envOverride(&cfg.Timezone, "TIMEZONE")

	var errs []error
	errs = append(errs,
		envOverrideInt(&cfg.LLMRequestsPerMinute, "LLM_REQUESTS_PER_MINUTE"),
		envOverrideInt(&cfg.BatchConcurrency, "BATCH_CONCURRENCY"),
		envOverrideInt(&cfg.LearningContextLimit, "LEARNING_CONTEXT_LIMIT"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
		envOverrideThresholds(&cfg.ConfidenceThresholds, "CONFIDENCE_THRESHOLDS"),
	)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.BatchConcurrency == 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.LearningContextLimit == 0 {
		cfg.LearningContextLimit = learning.DefaultContextLimit
	}
	if cfg.LearningRedaction == "" {
		cfg.LearningRedaction = string(learning.RedactLiteral)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./loandocs.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.ProcessedDir == "" && cfg.InboxDir != "" {
		cfg.ProcessedDir = strings.TrimRight(cfg.InboxDir, "/") + "/processed"
	}
	if cfg.InboxSchedule == "" {
		cfg.InboxSchedule = "*/5 * * * *"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "./exports"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.BatchConcurrency < 1 {
		return fmt.Errorf("invalid batch_concurrency '%d': must be >= 1", c.BatchConcurrency)
	}
	if c.LLMRequestsPerMinute < 0 {
		return fmt.Errorf("invalid llm_requests_per_minute '%d': must be >= 0", c.LLMRequestsPerMinute)
	}
	if c.LearningContextLimit < 1 {
		return fmt.Errorf("invalid learning_context_limit '%d': must be >= 1", c.LearningContextLimit)
	}
	if _, err := learning.ParseRedaction(c.LearningRedaction); err != nil {
		return fmt.Errorf("invalid learning_redaction: %w", err)
	}
	if c.ExternalHTTPTimeoutSeconds < 1 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 1", c.ExternalHTTPTimeoutSeconds)
	}
	for name, v := range c.ConfidenceThresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid confidence_thresholds.%s '%f': must be between 0 and 1", name, v)
		}
	}
	if c.InboxDir != "" {
		if _, err := schedule.Parse(c.InboxSchedule); err != nil {
			return fmt.Errorf("invalid inbox_schedule: %w", err)
		}
	}
	if c.DigestSchedule != "" {
		if _, err := schedule.Parse(c.DigestSchedule); err != nil {
			return fmt.Errorf("invalid digest_schedule: %w", err)
		}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be 'json' or 'console', got '%s'", c.LogFormat)
	}
	return nil
}

// SlackConfigured reports whether review notifications can be sent.
func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReviewChannelID != ""
}

// SlackInteractive reports whether review buttons can be handled over Socket
// Mode.
func (c Config) SlackInteractive() bool {
	return c.SlackConfigured() && c.SlackAppToken != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

// envOverrideThresholds parses "w9_form=0.85,bank_statement=0.8" and merges
// it over the YAML map.
func envOverrideThresholds(field *map[string]float64, envKey string) error {
	val := os.Getenv(envKey)
	if val == "" {
		return nil
	}
	if *field == nil {
		*field = make(map[string]float64)
	}
	for _, pair := range strings.Split(val, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid %s entry '%s': want type=threshold", envKey, pair)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("invalid %s entry '%s': %w", envKey, pair, err)
		}
		(*field)[strings.TrimSpace(name)] = parsed
	}
	return nil
}
