package router

import (
	"fmt"

	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/models"
)

// Router maps categories to ordered backend chains. It is built once from
// configuration and never mutated, so it is safe for concurrent use.
type Router struct {
	backends map[string]models.BackendDescriptor
	order    []string
	chains   map[models.Category][]models.BackendDescriptor
}

// New validates cfg and creates a Router. Any routing-table or backend
// problem is reported as a *models.ConfigurationError.
func New(cfg *config.Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		backends: make(map[string]models.BackendDescriptor, len(cfg.Backends)),
		chains:   make(map[models.Category][]models.BackendDescriptor, len(models.Categories)),
	}
	for _, b := range cfg.Backends {
		desc, err := b.Descriptor()
		if err != nil {
			return nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("backend %q: %v", b.Name, err)}}
		}
		r.backends[desc.Name] = desc
		r.order = append(r.order, desc.Name)
	}

	for _, cat := range models.Categories {
		names := cfg.Routing[string(cat)]
		chain := make([]models.BackendDescriptor, 0, len(names))
		for _, name := range names {
			chain = append(chain, r.backends[name])
		}
		r.chains[cat] = chain
	}
	return r, nil
}

// ResolveChain returns the backends for cat in the order they must be
// tried. The slice is a copy.
func (r *Router) ResolveChain(cat models.Category) ([]models.BackendDescriptor, error) {
	chain, ok := r.chains[cat]
	if !ok {
		return nil, fmt.Errorf("no chain for category %q", cat)
	}
	out := make([]models.BackendDescriptor, len(chain))
	copy(out, chain)
	return out, nil
}

// Backend looks up a descriptor by name.
func (r *Router) Backend(name string) (models.BackendDescriptor, bool) {
	d, ok := r.backends[name]
	return d, ok
}

// Backends returns all descriptors in configuration order.
func (r *Router) Backends() []models.BackendDescriptor {
	out := make([]models.BackendDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Categories lists the categories that have a chain.
func (r *Router) Categories() []models.Category {
	out := make([]models.Category, 0, len(r.chains))
	for _, cat := range models.Categories {
		if _, ok := r.chains[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}
