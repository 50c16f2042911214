// Package backend adapts model-serving HTTP APIs to a single Call shape.
package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Backend performs one generation call against the endpoint described by
// desc. Implementations must honour ctx cancellation and return
// *models.BackendTimeoutError or *models.BackendCallError on failure.
type Backend interface {
	Call(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error)
}

// Func adapts a plain function to Backend.
type Func func(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error)

// Call implements Backend.
func (f Func) Call(ctx context.Context, desc models.BackendDescriptor, text string, params models.Parameters) (*models.Response, error) {
	return f(ctx, desc, text, params)
}

// Set maps backend names to their adapters.
type Set map[string]Backend

// New returns the adapter for kind. A nil client uses http.DefaultClient.
func New(kind models.BackendKind, client *http.Client) (Backend, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch kind {
	case models.KindOllama:
		return &Ollama{client: client}, nil
	case models.KindHuggingFace:
		return &HuggingFace{client: client}, nil
	case models.KindOpenAI:
		return &OpenAI{client: client}, nil
	}
	return nil, fmt.Errorf("no adapter for backend kind %q", kind)
}

// Build creates one adapter per descriptor.
func Build(descs []models.BackendDescriptor, client *http.Client) (Set, error) {
	set := make(Set, len(descs))
	for _, d := range descs {
		b, err := New(d.Kind, client)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", d.Name, err)
		}
		set[d.Name] = b
	}
	return set, nil
}
