// Package oauth talks to upstream identity providers and reduces their
// profiles to a single normalized shape. It knows nothing about accounts;
// linking and login decisions belong to the engine.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownProvider is returned for provider names with no registration.
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrProfileIncomplete is returned when the upstream profile lacks an id.
	ErrProfileIncomplete = errors.New("oauth profile missing external id")
	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("missing authorization code")
)

// Profile is the provider-independent view of an upstream identity.
type Profile struct {
	Provider      string
	ExternalID    string
	Username      string
	Email         string
	EmailVerified bool
	AvatarURL     string
	AccessToken   string
}

// Provider is one configured upstream.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	ExchangeAndNormalize(ctx context.Context, code string) (Profile, error)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[strings.ToLower(p.Name())] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
