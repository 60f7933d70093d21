package registry

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"llm-ensemble/internal/config"
)

// fileConfig is the layout of BACKENDS_FILE.
type fileConfig struct {
	Backends []fileBackend `yaml:"backends"`
}

type fileBackend struct {
	Name          string        `yaml:"name"`
	Kind          Kind          `yaml:"kind"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Credential    string        `yaml:"credential"`
	CredentialEnv string        `yaml:"credential_env"`
	Timeout       time.Duration `yaml:"timeout"`
	Weight        float64       `yaml:"weight"`
	Enabled       *bool         `yaml:"enabled"`
}

// LoadFile reads backend descriptors from a YAML file. Backends are enabled unless the file says otherwise;
// credential_env names an environment variable that takes precedence over credential.
func LoadFile(path string, timeout time.Duration) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backends file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse backends file %s: %w", path, err)
	}
	descs := make([]Descriptor, 0, len(fc.Backends))
	for _, b := range fc.Backends {
		d := Descriptor{
			Name:       b.Name,
			Kind:       b.Kind,
			Endpoint:   b.Endpoint,
			Model:      b.Model,
			Credential: b.Credential,
			Timeout:    b.Timeout,
			Weight:     b.Weight,
			Enabled:    b.Enabled == nil || *b.Enabled,
		}
		if b.CredentialEnv != "" {
			if v := os.Getenv(b.CredentialEnv); v != "" {
				d.Credential = v
			}
		}
		descs = append(descs, d)
	}
	return NewWithTimeout(timeout, descs...)
}

// FromConfig seeds the registry from environment endpoints: the primary RAG endpoint is always present,
// secondary/tertiary/openai backends only when configured.
func FromConfig(cfg config.Config) (*Registry, error) {
	if cfg.BackendsFile != "" {
		return LoadFile(cfg.BackendsFile, cfg.BackendTimeout)
	}
	descs := []Descriptor{{
		Name:     "primary-ollama",
		Kind:     KindHTTP,
		Endpoint: strings.TrimRight(cfg.PrimaryURL, "/") + "/chat",
		Timeout:  30 * time.Second,
		Weight:   1.2,
		Enabled:  true,
	}}
	if cfg.SecondaryURL != "" {
		descs = append(descs, Descriptor{
			Name:       "secondary-model",
			Kind:       KindHTTP,
			Endpoint:   cfg.SecondaryURL,
			Credential: cfg.SecondaryAPIKey,
			Timeout:    25 * time.Second,
			Weight:     1.0,
			Enabled:    true,
		})
	}
	if cfg.TertiaryURL != "" {
		descs = append(descs, Descriptor{
			Name:       "tertiary-model",
			Kind:       KindHTTP,
			Endpoint:   cfg.TertiaryURL,
			Credential: cfg.TertiaryAPIKey,
			Timeout:    20 * time.Second,
			Weight:     0.8,
			Enabled:    true,
		})
	}
	if cfg.OpenAIKey != "" {
		descs = append(descs, Descriptor{
			Name:       "openai",
			Kind:       KindOpenAI,
			Endpoint:   cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			Credential: cfg.OpenAIKey,
			Timeout:    30 * time.Second,
			Weight:     1.0,
			Enabled:    true,
		})
	}
	return NewWithTimeout(cfg.BackendTimeout, descs...)
}
