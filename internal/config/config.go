package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds watcher configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Divergence DivergenceConfig `yaml:"divergence"`
	Policy     PolicyConfig     `yaml:"policy"`
	Drift      DriftConfig      `yaml:"drift"`
	Storage    StorageConfig    `yaml:"storage"`
	Activation ActivationConfig `yaml:"activation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	Addr               string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_bytes"`
	AsyncWorkers       int           `yaml:"async_workers"`
	AsyncQueueSize     int           `yaml:"async_queue_size"`
	RequestTTL         time.Duration `yaml:"request_ttl"` // how long async results stay pollable in memory
}

type DivergenceConfig struct {
	Strategy string       `yaml:"strategy"` // lexical | onnx | openai
	ONNX     ONNXConfig   `yaml:"onnx"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

type ONNXConfig struct {
	ModelDir   string `yaml:"model_dir"`
	ModelFile  string `yaml:"model_file"`
	SeqLen     int    `yaml:"seq_len"`
	HiddenSize int    `yaml:"hidden_size"`
	// TokenTypeIDs feeds a zeroed token_type_ids input. BERT-family exports
	// such as all-MiniLM-L6-v2 require it; nil means true.
	TokenTypeIDs *bool  `yaml:"token_type_ids"`
	OutputName   string `yaml:"output_name"` // defaults to last_hidden_state
}

// FeedTokenTypeIDs resolves TokenTypeIDs, defaulting to true.
func (c ONNXConfig) FeedTokenTypeIDs() bool {
	return c.TokenTypeIDs == nil || *c.TokenTypeIDs
}

type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`    // e.g. "https://api.openai.com/v1"
	APIKeyEnv string `yaml:"api_key_env"` // e.g. "OPENAI_API_KEY"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`

	AllowPrivateNetworks bool `yaml:"allow_private_networks"`
}

// ResolvedAPIKey prefers the inline key, then the configured env var.
func (o OpenAIConfig) ResolvedAPIKey() string {
	if strings.TrimSpace(o.APIKey) != "" {
		return o.APIKey
	}
	if o.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.APIKeyEnv)
}

type PolicyConfig struct {
	LatencyGuard        time.Duration `yaml:"latency_guard"`
	DivergenceThreshold float64       `yaml:"divergence_threshold"`
	BlockSeverity       float64       `yaml:"block_severity"`
}

type DriftConfig struct {
	Window     int     `yaml:"window"`
	MinSamples int     `yaml:"min_samples"`
	ZThreshold float64 `yaml:"z_threshold"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | memory
	Path   string `yaml:"path"`
}

type ActivationConfig struct {
	QueueSize int          `yaml:"queue_size"`
	Workers   int          `yaml:"workers"`
	Sinks     []SinkConfig `yaml:"sinks"`
}

type SinkConfig struct {
	Type    string            `yaml:"type"` // stdout | file_jsonl | webhook
	Path    string            `yaml:"path"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"` // grpc | http
	ServiceName string `yaml:"service"`
	Prometheus  bool   `yaml:"prometheus"`
}

type LoggingConfig struct {
	Level           string `yaml:"level"`
	Development     bool   `yaml:"development"`
	ActivationLevel string `yaml:"activation_level"` // metadata | redacted | full
}

type AuthConfig struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

type TenantConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.MaxRequestBodySize <= 0 {
		cfg.Server.MaxRequestBodySize = 1 << 20
	}
	if cfg.Server.AsyncWorkers <= 0 {
		cfg.Server.AsyncWorkers = 4
	}
	if cfg.Server.AsyncQueueSize <= 0 {
		cfg.Server.AsyncQueueSize = 256
	}
	if cfg.Server.RequestTTL <= 0 {
		cfg.Server.RequestTTL = 10 * time.Minute
	}

	if cfg.Divergence.Strategy == "" {
		cfg.Divergence.Strategy = "lexical"
	}
	if cfg.Divergence.ONNX.ModelFile == "" {
		cfg.Divergence.ONNX.ModelFile = "model.onnx"
	}
	if cfg.Divergence.ONNX.SeqLen <= 0 {
		cfg.Divergence.ONNX.SeqLen = 128
	}
	if cfg.Divergence.ONNX.HiddenSize <= 0 {
		cfg.Divergence.ONNX.HiddenSize = 384
	}
	if cfg.Divergence.ONNX.OutputName == "" {
		cfg.Divergence.ONNX.OutputName = "last_hidden_state"
	}
	if cfg.Divergence.OpenAI.BaseURL == "" {
		cfg.Divergence.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Divergence.OpenAI.APIKeyEnv == "" && cfg.Divergence.OpenAI.APIKey == "" {
		cfg.Divergence.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Divergence.OpenAI.Model == "" {
		cfg.Divergence.OpenAI.Model = "text-embedding-3-small"
	}

	if cfg.Policy.LatencyGuard <= 0 {
		cfg.Policy.LatencyGuard = 200 * time.Millisecond
	}
	if cfg.Policy.DivergenceThreshold <= 0 {
		cfg.Policy.DivergenceThreshold = 0.4
	}
	if cfg.Policy.BlockSeverity <= 0 {
		cfg.Policy.BlockSeverity = 3.0
	}

	if cfg.Drift.Window <= 0 {
		cfg.Drift.Window = 100
	}
	if cfg.Drift.MinSamples <= 0 {
		cfg.Drift.MinSamples = 5
	}
	if cfg.Drift.ZThreshold <= 0 {
		cfg.Drift.ZThreshold = 2.5
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/watcher.db"
	}

	if cfg.Activation.QueueSize <= 0 {
		cfg.Activation.QueueSize = 1000
	}
	if cfg.Activation.Workers <= 0 {
		cfg.Activation.Workers = 1
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "watcher"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ActivationLevel == "" {
		cfg.Logging.ActivationLevel = "metadata"
	}
}
