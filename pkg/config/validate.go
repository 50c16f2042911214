package config

import (
	"fmt"
	"net/url"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Validate checks the backend set and routing table. Every category must
// map to at least one known backend and no chain may repeat a name. All
// problems are collected into a single *models.ConfigurationError.
func (c *Config) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	known := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			addf("backend #%d: missing name", i)
			continue
		}
		if known[b.Name] {
			addf("backend %q: duplicate name", b.Name)
		}
		known[b.Name] = true

		if _, err := models.ParseBackendKind(b.Kind); err != nil {
			addf("backend %q: %v", b.Name, err)
		}
		if b.Endpoint == "" {
			addf("backend %q: missing endpoint", b.Name)
		} else if u, err := url.Parse(b.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			addf("backend %q: invalid endpoint %q", b.Name, b.Endpoint)
		}
		if b.Model == "" {
			addf("backend %q: missing model", b.Name)
		}
		if b.Timeout < 0 {
			addf("backend %q: negative timeout", b.Name)
		}
		if b.MaxRetries < 0 {
			addf("backend %q: negative max_retries", b.Name)
		}
		if b.RateLimit < 0 {
			addf("backend %q: negative rate_limit", b.Name)
		}
	}

	for name := range c.Routing {
		if !models.Category(name).Valid() {
			addf("routing: unknown category %q", name)
		}
	}
	for _, cat := range models.Categories {
		chain := c.Routing[string(cat)]
		if len(chain) == 0 {
			addf("routing: category %q has no backends", cat)
			continue
		}
		seen := make(map[string]bool, len(chain))
		for _, name := range chain {
			if seen[name] {
				addf("routing: category %q lists backend %q twice", cat, name)
			}
			seen[name] = true
			if !known[name] {
				addf("routing: category %q references unknown backend %q", cat, name)
			}
		}
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		addf("cache: max_entries must be positive")
	}
	if c.Cache.TTL < 0 {
		addf("cache: negative ttl")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		addf("logging: unknown format %q", c.Logging.Format)
	}

	if len(problems) > 0 {
		return &models.ConfigurationError{Problems: problems}
	}
	return nil
}
