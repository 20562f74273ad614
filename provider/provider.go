// Package provider holds the signing-service adapters behind the
// envelope.Provider capability interface. Selecting an adapter is a closed
// switch over configuration; adding a provider means adding a variant and a
// status mapping table, not a plugin mechanism.
package provider

import (
	"errors"
	"fmt"
	"net/http"

	"dealdesk/envelope"
)

// ErrUnsupportedProvider is returned for provider names outside the closed
// set. There is no silent fallback.
var ErrUnsupportedProvider = errors.New("provider: unsupported provider")

// Config selects and parameterizes the active adapter.
type Config struct {
	Name             string
	StubAutoComplete bool
	SignWellAPIKey   string
	SignWellBaseURL  string
	HTTPClient       *http.Client
}

// FromConfig builds the configured adapter.
func FromConfig(cfg Config) (envelope.Provider, error) {
	switch cfg.Name {
	case NameStub:
		return NewStub(NewStubStore(), cfg.StubAutoComplete), nil
	case NameSignWell:
		if cfg.SignWellAPIKey == "" {
			return nil, fmt.Errorf("provider: signwell api key is required")
		}
		return NewSignWell(cfg.SignWellBaseURL, cfg.SignWellAPIKey, cfg.HTTPClient), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Name)
	}
}

// Registry resolves webhook ingress routes to their adapters by name.
type Registry struct {
	providers map[string]envelope.Provider
}

func NewRegistry(providers ...envelope.Provider) *Registry {
	m := make(map[string]envelope.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (envelope.Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}
