package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/oriphim/watcher/internal/config"
)

// Tenant is the caller identity bound to one or more API keys.
type Tenant struct {
	ID string
}

// Auth holds mappings from API keys to tenants. A nil or empty Auth means the
// transport runs without authentication.
type Auth struct {
	apiKeyToTenant map[string]Tenant
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	m := make(map[string]Tenant)

	for _, t := range cfg.Auth.Tenants {
		if t.ID == "" {
			return nil, fmt.Errorf("tenant with empty id in config")
		}
		for _, key := range t.APIKeys {
			if key == "" {
				continue
			}
			if prev, exists := m[key]; exists && prev.ID != t.ID {
				return nil, fmt.Errorf("api key is assigned to multiple tenants (%q, %q)", prev.ID, t.ID)
			}
			m[key] = Tenant{ID: t.ID}
		}
	}

	return &Auth{
		apiKeyToTenant: m,
	}, nil
}

// Enabled reports whether any API key is configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.apiKeyToTenant) > 0
}

// Lookup returns the tenant for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Tenant, bool) {
	if a == nil || apiKey == "" {
		return Tenant{}, false
	}
	for k, t := range a.apiKeyToTenant {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return t, true
		}
	}
	return Tenant{}, false
}
