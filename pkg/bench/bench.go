// Package bench measures backend latency by sending a fixed prompt set
// straight to each backend, bypassing the cache and fallback chain.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-agent/nexus/pkg/backend"
	"github.com/nexus-agent/nexus/pkg/logging"
	"github.com/nexus-agent/nexus/pkg/models"
)

// DefaultPrompts mixes greetings with coding and explanation tasks.
var DefaultPrompts = []string{
	"Hello, how are you?",
	"What is the weather like?",
	"Write a simple Python function to calculate factorial",
	"Explain machine learning briefly",
	"Debug this code: print('Hello World'",
}

// Options controls a benchmark run.
type Options struct {
	// Prompts defaults to DefaultPrompts.
	Prompts []string
	// Parameters defaults to temperature 0.7 and 100 max tokens.
	Parameters *models.Parameters
	// Concurrency caps in-flight calls across all backends. Zero runs
	// every backend concurrently with its prompts in sequence.
	Concurrency int
}

// Sample is a single timed call.
type Sample struct {
	Prompt        string        `json:"prompt"`
	Latency       time.Duration `json:"latency"`
	Success       bool          `json:"success"`
	ContentLength int           `json:"content_length"`
	Model         string        `json:"model,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// BackendResult aggregates the samples for one backend. Latency figures
// cover every call, failed ones included.
type BackendResult struct {
	Backend   string        `json:"backend"`
	Samples   []Sample      `json:"samples"`
	Successes int           `json:"successes"`
	Total     time.Duration `json:"total"`
	Avg       time.Duration `json:"avg"`
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
}

// Report is the outcome of Run. Backends keeps the order they were given.
type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	Prompts    []string        `json:"prompts"`
	Backends   []BackendResult `json:"backends"`
	Fastest    string          `json:"fastest,omitempty"`
	SpeedRatio float64         `json:"speed_ratio,omitempty"`
}

// Runner sends prompts to a set of backends.
type Runner struct {
	backends backend.Set
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner over the given adapters.
func NewRunner(set backend.Set, log zerolog.Logger) *Runner {
	return &Runner{backends: set, log: logging.Component(log, "bench"), now: time.Now}
}

// Run sends every prompt to every backend in descs. Backend failures are
// recorded as unsuccessful samples; only cancellation of ctx or a backend
// without an adapter makes Run fail.
func (r *Runner) Run(ctx context.Context, descs []models.BackendDescriptor, opts Options) (*Report, error) {
	if len(descs) == 0 {
		return nil, errors.New("bench: no backends selected")
	}
	for _, desc := range descs {
		if _, ok := r.backends[desc.Name]; !ok {
			return nil, fmt.Errorf("bench: backend %q has no adapter", desc.Name)
		}
	}

	prompts := opts.Prompts
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}
	params := defaultParameters()
	if opts.Parameters != nil {
		params = *opts.Parameters
	}

	report := &Report{
		StartedAt: r.now(),
		Prompts:   prompts,
		Backends:  make([]BackendResult, len(descs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
		for i, desc := range descs {
			i, desc := i, desc
			report.Backends[i].Samples = make([]Sample, len(prompts))
			for j, prompt := range prompts {
				j, prompt := j, prompt
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					report.Backends[i].Samples[j] = r.call(gctx, desc, prompt, params)
					return nil
				})
			}
		}
	} else {
		for i, desc := range descs {
			i, desc := i, desc
			report.Backends[i].Samples = make([]Sample, len(prompts))
			g.Go(func() error {
				for j, prompt := range prompts {
					if err := gctx.Err(); err != nil {
						return err
					}
					report.Backends[i].Samples[j] = r.call(gctx, desc, prompt, params)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, desc := range descs {
		report.Backends[i].Backend = desc.Name
		summarize(&report.Backends[i])
	}
	report.Fastest, report.SpeedRatio = compare(report.Backends)

	r.log.Info().
		Int("backends", len(descs)).
		Int("prompts", len(prompts)).
		Str("fastest", report.Fastest).
		Float64("speed_ratio", report.SpeedRatio).
		Msg("speed comparison finished")
	return report, nil
}

func (r *Runner) call(ctx context.Context, desc models.BackendDescriptor, prompt string, params models.Parameters) Sample {
	callCtx := ctx
	if desc.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	start := r.now()
	resp, err := r.backends[desc.Name].Call(callCtx, desc, prompt, params)
	s := Sample{Prompt: prompt, Latency: r.now().Sub(start)}
	if err != nil {
		s.Error = err.Error()
		r.log.Debug().Err(err).Str("backend", desc.Name).Msg("bench call failed")
		return s
	}
	s.Success = true
	s.ContentLength = len(resp.Content)
	s.Model = resp.Model
	if s.Model == "" {
		s.Model = desc.ModelID
	}
	return s
}

func summarize(br *BackendResult) {
	for i, s := range br.Samples {
		if s.Success {
			br.Successes++
		}
		br.Total += s.Latency
		if i == 0 || s.Latency < br.Min {
			br.Min = s.Latency
		}
		if s.Latency > br.Max {
			br.Max = s.Latency
		}
	}
	if n := len(br.Samples); n > 0 {
		br.Avg = br.Total / time.Duration(n)
	}
}

// compare names the backend with the lowest total latency and reports how
// many times faster it was than the slowest. Fewer than two backends, or
// a zero fastest total, yield a zero ratio.
func compare(results []BackendResult) (string, float64) {
	if len(results) == 0 {
		return "", 0
	}
	sorted := make([]BackendResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Total < sorted[j].Total })

	fastest, slowest := sorted[0], sorted[len(sorted)-1]
	if len(sorted) < 2 || fastest.Total <= 0 {
		return fastest.Backend, 0
	}
	return fastest.Backend, float64(slowest.Total) / float64(fastest.Total)
}

func defaultParameters() models.Parameters {
	temp := 0.7
	maxTokens := 100
	return models.Parameters{Temperature: &temp, MaxTokens: &maxTokens}
}
