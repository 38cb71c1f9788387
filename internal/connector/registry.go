package connector

import (
	"fmt"
	"net/http"
	"sort"

	"voxreview.app/relay/internal/model"
)

// Registry resolves a platform to its connector.
type Registry struct {
	connectors map[model.Platform]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[model.Platform]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Platform()] = c
	}
	return r
}

// NewHTTPRegistry builds the production connectors. baseURLs is keyed by
// platform name; platforms without a base URL are left out.
func NewHTTPRegistry(baseURLs map[string]string, client *http.Client) *Registry {
	builders := map[model.Platform]func(string, *http.Client) Connector{
		model.PlatformGoogle:      NewGoogle,
		model.PlatformYelp:        NewYelp,
		model.PlatformFacebook:    NewFacebook,
		model.PlatformTripAdvisor: NewTripAdvisor,
	}

	var connectors []Connector
	for _, p := range model.AllPlatforms {
		base, ok := baseURLs[string(p)]
		if !ok || base == "" {
			continue
		}
		connectors = append(connectors, builders[p](base, client))
	}
	return NewRegistry(connectors...)
}

func (r *Registry) Get(p model.Platform) (Connector, error) {
	c, ok := r.connectors[p]
	if !ok {
		return nil, fmt.Errorf("no connector for platform %q", p)
	}
	return c, nil
}

func (r *Registry) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
