package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/nexus-agent/nexus/pkg/backend"
	"github.com/nexus-agent/nexus/pkg/cache"
	"github.com/nexus-agent/nexus/pkg/classifier"
	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/dispatch"
	"github.com/nexus-agent/nexus/pkg/logging"
	"github.com/nexus-agent/nexus/pkg/metrics"
	"github.com/nexus-agent/nexus/pkg/router"
	"github.com/nexus-agent/nexus/pkg/tracker"
)

const defaultConfigPath = "nexus.yaml"

// loadConfig reads path and validates it. A missing default config file
// falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		cfg = config.Default()
	} else if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components shared by serve, route, bench and mcp.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	router     *router.Router
	backends   backend.Set
	cache      *cache.Cache
	collector  *metrics.Collector
	history    *tracker.SQLiteTracker
	dispatcher *dispatch.Dispatcher

	closers []io.Closer
}

// newApp wires the router from cfg. Logs go to logOut.
func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	log, logCloser, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	var err error
	a.router, err = router.New(a.cfg)
	if err != nil {
		return err
	}

	// Per-call deadlines come from each backend's timeout.
	a.backends, err = backend.Build(a.router.Backends(), &http.Client{})
	if err != nil {
		return fmt.Errorf("init backends: %w", err)
	}

	if a.cfg.Cache.Enabled {
		a.cache, err = cache.New(a.cfg.Cache.MaxEntries, a.cfg.Cache.TTL, a.log)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
	}

	names := make([]string, 0, len(a.cfg.Backends))
	for _, b := range a.cfg.Backends {
		names = append(names, b.Name)
	}
	a.collector = metrics.NewCollector(names...)

	opts := dispatch.Options{
		Router:     a.router,
		Classifier: classifier.New(a.cfg.Classifier),
		Backends:   a.backends,
		Cache:      a.cache,
		CacheTTL:   a.cfg.Cache.TTL,
		Metrics:    a.collector,
		Retry:      a.cfg.Retry,
		Logger:     a.log,
	}
	if a.cfg.History.Enabled {
		a.history, err = tracker.New(a.cfg.History.DBPath, a.cfg.History.Retention)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		a.closers = append(a.closers, a.history)
		opts.Recorder = a.history
	}

	a.dispatcher, err = dispatch.New(opts)
	return err
}

// historyTracker returns the history store as an interface value that is
// nil when history is disabled.
func (a *app) historyTracker() tracker.Tracker {
	if a.history == nil {
		return nil
	}
	return a.history
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func openHistory(cfg *config.Config) (*tracker.SQLiteTracker, error) {
	if _, err := os.Stat(cfg.History.DBPath); err != nil {
		return nil, fmt.Errorf("open history %s: %w", cfg.History.DBPath, err)
	}
	// Retention is enforced by the serving process, not by read-only commands.
	return tracker.New(cfg.History.DBPath, 0)
}
