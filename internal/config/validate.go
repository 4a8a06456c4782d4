package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if cfg.Server.AsyncWorkers < 0 {
		return errors.New("server.async_workers must not be negative")
	}

	if err := validateDivergenceConfig(cfg.Divergence); err != nil {
		return err
	}

	if cfg.Policy.DivergenceThreshold < 0 || cfg.Policy.DivergenceThreshold > 1 {
		return fmt.Errorf("policy.divergence_threshold must be within [0,1], got %v", cfg.Policy.DivergenceThreshold)
	}
	if cfg.Policy.BlockSeverity < 0 || cfg.Policy.BlockSeverity > 4 {
		return fmt.Errorf("policy.block_severity must be within [0,4], got %v", cfg.Policy.BlockSeverity)
	}

	if cfg.Drift.Window > 0 && cfg.Drift.MinSamples > cfg.Drift.Window {
		return fmt.Errorf("drift.min_samples (%d) exceeds drift.window (%d)", cfg.Drift.MinSamples, cfg.Drift.Window)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path must be set for sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", cfg.Storage.Driver)
	}

	if err := validateActivationConfig(cfg.Activation); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.ActivationLevel)) {
	case "", "metadata", "redacted", "full":
	default:
		return fmt.Errorf("logging.activation_level must be metadata, redacted or full, got %q", cfg.Logging.ActivationLevel)
	}

	seen := make(map[string]string)
	for _, t := range cfg.Auth.Tenants {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New("auth tenant id must be set")
		}
		if len(t.APIKeys) == 0 {
			return fmt.Errorf("tenant %q must define at least one api_keys entry", t.ID)
		}
		for _, k := range t.APIKeys {
			if owner, dup := seen[k]; dup && owner != t.ID {
				return fmt.Errorf("api key is assigned to tenants %q and %q", owner, t.ID)
			}
			seen[k] = t.ID
		}
	}

	return nil
}

func validateDivergenceConfig(d DivergenceConfig) error {
	switch strings.ToLower(strings.TrimSpace(d.Strategy)) {
	case "", "lexical":
	case "onnx":
		if strings.TrimSpace(d.ONNX.ModelDir) == "" {
			return errors.New("divergence.onnx.model_dir must be set for the onnx strategy")
		}
	case "openai":
		if strings.TrimSpace(d.OpenAI.Model) == "" {
			return errors.New("divergence.openai.model must be set")
		}
		if d.OpenAI.BaseURL == "" {
			return nil
		}
		u, err := parseHTTPURL(d.OpenAI.BaseURL)
		if err != nil {
			return fmt.Errorf("divergence.openai.base_url: %w", err)
		}
		if !d.OpenAI.AllowPrivateNetworks {
			if err := rejectPrivateHost(u.Hostname()); err != nil {
				return fmt.Errorf("divergence.openai.base_url: %w", err)
			}
		}
	default:
		return fmt.Errorf("divergence.strategy must be lexical, onnx or openai, got %q", d.Strategy)
	}
	return nil
}

func validateActivationConfig(a ActivationConfig) error {
	for i, s := range a.Sinks {
		kind := strings.ToLower(strings.TrimSpace(s.Type))
		var err error
		switch kind {
		case "stdout":
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				err = errors.New("missing path")
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				err = errors.New("missing url")
			} else {
				_, err = parseHTTPURL(s.URL)
			}
		default:
			err = fmt.Errorf("unknown type %q", s.Type)
		}
		if err != nil {
			return fmt.Errorf("activation sink %d (%s): %w", i, kind, err)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" && !t.Prometheus {
		return errors.New("telemetry enabled but neither endpoint nor prometheus is set")
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
		return nil
	}
	return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return u, nil
}

// rejectPrivateHost refuses loopback, RFC 1918 and link-local targets (SSRF).
func rejectPrivateHost(host string) error {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return errors.New("host localhost blocked for SSRF safety")
	}
	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
		return fmt.Errorf("private address %s blocked for SSRF safety", ip)
	}
	return nil
}
