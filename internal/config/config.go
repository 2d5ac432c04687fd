// Package config loads the YAML registry seed and resolves provider
// credentials from the environment. It is deliberately not a full
// configuration subsystem: no admin dashboard, no secrets vault, no hot
// reload.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/austenvale/modelmux/internal/clientpool"
	"github.com/austenvale/modelmux/internal/registry"
)

// ModelSeed is one model entry in a registry seed file, mirroring
// registry.Capability's fields in YAML form.
type ModelSeed struct {
	ID                      string  `yaml:"id"`
	Provider                string  `yaml:"provider"`
	APIName                 string  `yaml:"api_name"`
	ContextWindow           int     `yaml:"context_window"`
	InputCost               float64 `yaml:"input_cost"`
	OutputCost              float64 `yaml:"output_cost"`
	ReasoningScore          int     `yaml:"reasoning_score"`
	CodingScore             int     `yaml:"coding_score"`
	SpeedRating             int     `yaml:"speed_rating"`
	SupportsVision          bool    `yaml:"supports_vision"`
	SupportsFunctionCalling bool    `yaml:"supports_function_calling"`
	Blocked                 bool    `yaml:"blocked"`
}

// ProviderSeed names the environment variable a provider's credentials and
// (optionally) base URL are resolved from at Client Pool first-use.
type ProviderSeed struct {
	ID         string `yaml:"id"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURLEnv string `yaml:"base_url_env,omitempty"`
	// ExtraEnv names additional environment variables to resolve into the
	// credentials map, keyed by the credential map key they populate. Used
	// by providers whose Factory needs more than api_key/base_url — e.g.
	// bedrock's region/access_key_id/secret_access_key.
	ExtraEnv map[string]string `yaml:"extra_env,omitempty"`
}

// Seed is the top-level shape of a registry seed file.
type Seed struct {
	Models    []ModelSeed    `yaml:"models"`
	Providers []ProviderSeed `yaml:"providers"`
}

// LoadSeed reads and parses a YAML registry seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("config: reading seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("config: parsing seed file: %w", err)
	}
	return seed, nil
}

// Capabilities converts the seed's model entries into Capability Records
// suitable for registry.New, in file order (registry.New preserves
// insertion order for List/Filter enumeration).
func (s Seed) Capabilities() []registry.Capability {
	caps := make([]registry.Capability, 0, len(s.Models))
	for _, m := range s.Models {
		caps = append(caps, registry.Capability{
			ID:                      m.ID,
			Provider:                m.Provider,
			APIName:                 m.APIName,
			ContextWindow:           m.ContextWindow,
			InputCost:               m.InputCost,
			OutputCost:              m.OutputCost,
			ReasoningScore:          m.ReasoningScore,
			CodingScore:             m.CodingScore,
			SpeedRating:             m.SpeedRating,
			SupportsVision:          m.SupportsVision,
			SupportsFunctionCalling: m.SupportsFunctionCalling,
			Blocked:                 m.Blocked,
		})
	}
	return caps
}

// EnvCredentialProvider resolves provider credentials from environment
// variables named in a Seed's Providers list, satisfying
// clientpool.CredentialProvider.
type EnvCredentialProvider struct {
	byProvider map[string]ProviderSeed
}

// NewEnvCredentialProvider builds a credential provider from a Seed's
// provider list.
func NewEnvCredentialProvider(providers []ProviderSeed) *EnvCredentialProvider {
	byProvider := make(map[string]ProviderSeed, len(providers))
	for _, p := range providers {
		byProvider[p.ID] = p
	}
	return &EnvCredentialProvider{byProvider: byProvider}
}

// GetCredentials implements clientpool.CredentialProvider. A provider with
// no seed entry, or whose API key environment variable is unset or empty,
// is reported as not_configured (ok=false); the Client Pool then marks it
// unavailable for the process lifetime.
func (p *EnvCredentialProvider) GetCredentials(providerID string) (clientpool.Credentials, bool) {
	seed, ok := p.byProvider[providerID]
	if !ok {
		return nil, false
	}
	apiKey := os.Getenv(seed.APIKeyEnv)
	if apiKey == "" {
		return nil, false
	}
	creds := clientpool.Credentials{"api_key": apiKey}
	if seed.BaseURLEnv != "" {
		if baseURL := os.Getenv(seed.BaseURLEnv); baseURL != "" {
			creds["base_url"] = baseURL
		}
	}
	for key, envVar := range seed.ExtraEnv {
		if v := os.Getenv(envVar); v != "" {
			creds[key] = v
		}
	}
	return creds, true
}
