// Package dispatch routes requests through classification, the response
// cache and an ordered backend chain with retry and fallback.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nexus-agent/nexus/pkg/backend"
	"github.com/nexus-agent/nexus/pkg/cache"
	"github.com/nexus-agent/nexus/pkg/classifier"
	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/logging"
	"github.com/nexus-agent/nexus/pkg/metrics"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/router"
)

const recordTimeout = 5 * time.Second

// Recorder persists one CallRecord per finished route.
type Recorder interface {
	Record(ctx context.Context, rec models.CallRecord) error
}

// Options wires a Dispatcher. Router, Classifier and Backends are
// required; a nil Cache disables caching and a nil Metrics gets a fresh
// collector.
type Options struct {
	Router     *router.Router
	Classifier *classifier.Classifier
	Backends   backend.Set
	Cache      *cache.Cache
	CacheTTL   time.Duration
	Metrics    *metrics.Collector
	Recorder   Recorder
	Retry      config.RetryConfig
	Logger     zerolog.Logger
}

// Result is the outcome of a successful route.
type Result struct {
	RequestID string          `json:"request_id"`
	Category  models.Category `json:"category"`
	Reason    string          `json:"reason"`
	Response  models.Response `json:"response"`
	Backend   string          `json:"backend"`
	CacheHit  bool            `json:"cache_hit"`
	Attempts  int             `json:"attempts"`
	Latency   time.Duration   `json:"latency"`
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	router     *router.Router
	classifier *classifier.Classifier
	backends   backend.Set
	cache      *cache.Cache
	cacheTTL   time.Duration
	metrics    *metrics.Collector
	recorder   Recorder
	retry      config.RetryConfig
	limiters   map[string]*rate.Limiter
	log        zerolog.Logger
	now        func() time.Time
}

// New validates opts and builds a Dispatcher. Every backend known to the
// router must have an adapter.
func New(opts Options) (*Dispatcher, error) {
	if opts.Router == nil || opts.Classifier == nil {
		return nil, errors.New("dispatch: router and classifier are required")
	}

	var missing []string
	limiters := make(map[string]*rate.Limiter)
	names := make([]string, 0)
	for _, desc := range opts.Router.Backends() {
		names = append(names, desc.Name)
		if _, ok := opts.Backends[desc.Name]; !ok {
			missing = append(missing, fmt.Sprintf("backend %q: no adapter", desc.Name))
		}
		if desc.RateLimit > 0 {
			burst := int(desc.RateLimit)
			if burst < 1 {
				burst = 1
			}
			limiters[desc.Name] = rate.NewLimiter(rate.Limit(desc.RateLimit), burst)
		}
	}
	if len(missing) > 0 {
		return nil, &models.ConfigurationError{Problems: missing}
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector(names...)
	}

	return &Dispatcher{
		router:     opts.Router,
		classifier: opts.Classifier,
		backends:   opts.Backends,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		metrics:    m,
		recorder:   opts.Recorder,
		retry:      opts.Retry,
		limiters:   limiters,
		log:        logging.Component(opts.Logger, "dispatch"),
		now:        time.Now,
	}, nil
}

// Metrics returns the collector the dispatcher records into.
func (d *Dispatcher) Metrics() *metrics.Collector {
	return d.metrics
}

// Cache returns the response cache, or nil when caching is disabled.
func (d *Dispatcher) Cache() *cache.Cache {
	return d.cache
}

// Classify reports how text would be categorized without routing it.
func (d *Dispatcher) Classify(text string) classifier.Decision {
	return d.classifier.Explain(text)
}

// Route classifies req, serves it from cache when possible and otherwise
// walks the category's backend chain. A request pinned to a backend uses
// that backend alone. Cancelling ctx does not abort a route once issued;
// only ctx's values are used.
//
// The only errors returned are *models.InvalidRequestError and
// *models.AllBackendsExhaustedError.
func (d *Dispatcher) Route(ctx context.Context, req models.Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	var pinned models.BackendDescriptor
	if req.Backend != "" {
		desc, ok := d.router.Backend(req.Backend)
		if !ok {
			return nil, &models.InvalidRequestError{Reason: fmt.Sprintf("unknown backend %q", req.Backend)}
		}
		pinned = desc
	}
	ctx = logging.DetachContext(ctx)

	start := d.now()
	reqID := uuid.NewString()
	log := d.log.With().Str("request_id", reqID).Logger()

	trace(log, StateClassifying)
	decision := classifier.Declared(req.Category)
	if req.Category == "" {
		decision = d.classifier.Explain(req.Text)
	}
	if req.Backend != "" {
		decision.Reason = "Force backend: " + req.Backend
	}
	cat := decision.Category

	trace(log, StateCacheLookup)
	fp, err := cache.Fingerprint(req, cat)
	if err != nil {
		// validate already rejects unencodable parameters.
		return nil, &models.InvalidRequestError{Reason: err.Error()}
	}
	if d.cache != nil {
		if resp, ok := d.cache.Get(fp); ok {
			trace(log, StateCacheHit)
			res := &Result{
				RequestID: reqID,
				Category:  cat,
				Reason:    decision.Reason,
				Response:  resp,
				Backend:   resp.Backend,
				CacheHit:  true,
				Latency:   d.now().Sub(start),
			}
			log.Info().Str("category", string(cat)).Str("backend", resp.Backend).Msg("cache hit")
			d.record(ctx, res, nil)
			return res, nil
		}
	}

	trace(log, StateDispatching)
	chain := []models.BackendDescriptor{pinned}
	if req.Backend == "" {
		chain, err = d.router.ResolveChain(cat)
		if err != nil {
			// Unreachable for a validated router.
			return nil, &models.InvalidRequestError{Reason: err.Error()}
		}
	}

	var (
		attempts int
		tried    []string
		lastErr  error
	)
	for i, desc := range chain {
		if i > 0 {
			trace(log, StateNextBackend, desc.Name)
		}
		tried = append(tried, desc.Name)

		resp, n, err := d.callWithRetry(ctx, log, desc, req)
		attempts += n
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("backend", desc.Name).Int("attempts", n).Msg("backend failed")
			continue
		}

		trace(log, StateSuccess, desc.Name)
		if d.cache != nil {
			d.cache.Put(fp, *resp, d.cacheTTL)
		}
		res := &Result{
			RequestID: reqID,
			Category:  cat,
			Reason:    decision.Reason,
			Response:  *resp,
			Backend:   desc.Name,
			Attempts:  attempts,
			Latency:   d.now().Sub(start),
		}
		log.Info().
			Str("category", string(cat)).
			Str("backend", desc.Name).
			Int("attempts", attempts).
			Dur("latency", res.Latency).
			Msg("routed")
		d.record(ctx, res, nil)
		return res, nil
	}

	trace(log, StateExhausted)
	exhausted := &models.AllBackendsExhaustedError{
		Category: cat,
		Tried:    tried,
		Attempts: attempts,
		LastErr:  lastErr,
	}
	log.Error().Err(exhausted).Msg("route failed")
	d.record(ctx, &Result{
		RequestID: reqID,
		Category:  cat,
		Attempts:  attempts,
		Latency:   d.now().Sub(start),
	}, exhausted)
	return nil, exhausted
}

// callWithRetry tries desc once plus up to desc.MaxRetries more times with
// exponential backoff between attempts. It returns the number of attempts
// made.
func (d *Dispatcher) callWithRetry(ctx context.Context, log zerolog.Logger, desc models.BackendDescriptor, req models.Request) (*models.Response, int, error) {
	var (
		resp     *models.Response
		attempts int
	)
	op := func() error {
		attempts++
		trace(log, StateCallingBackend, desc.Name)
		r, err := d.attempt(ctx, desc, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().
			Str("state", string(StateRetry)).
			Str("backend", desc.Name).
			Err(err).
			Dur("wait", wait).
			Msg("retrying backend")
	}

	retries := desc.MaxRetries
	if retries < 0 {
		retries = 0
	}
	err := backoff.RetryNotify(op, backoff.WithMaxRetries(d.newBackOff(), uint64(retries)), notify)
	return resp, attempts, err
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if d.retry.InitialInterval > 0 {
		b.InitialInterval = d.retry.InitialInterval
	}
	if d.retry.MaxInterval > 0 {
		b.MaxInterval = d.retry.MaxInterval
	}
	if d.retry.Multiplier > 0 {
		b.Multiplier = d.retry.Multiplier
	}
	b.RandomizationFactor = 0
	// The retry budget bounds attempts, not wall time.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type callResult struct {
	resp *models.Response
	err  error
}

// attempt performs a single bounded call and records its metrics. A reply
// arriving after the deadline is discarded.
func (d *Dispatcher) attempt(ctx context.Context, desc models.BackendDescriptor, req models.Request) (*models.Response, error) {
	if lim, ok := d.limiters[desc.Name]; ok {
		waitStart := d.now()
		if err := lim.Wait(ctx); err != nil {
			d.metrics.Record(desc.Name, metrics.Failure, d.now().Sub(waitStart))
			return nil, &models.BackendCallError{Backend: desc.Name, Message: "rate limit wait", Cause: err}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	b := d.backends[desc.Name]
	ch := make(chan callResult, 1)
	start := d.now()
	go func() {
		resp, err := b.Call(callCtx, desc, req.Text, req.Parameters)
		ch <- callResult{resp, err}
	}()

	var res callResult
	select {
	case res = <-ch:
		if res.err == nil && callCtx.Err() != nil {
			res = callResult{err: callCtx.Err()}
		}
	case <-callCtx.Done():
		res = callResult{err: callCtx.Err()}
	}
	latency := d.now().Sub(start)

	err := normalize(desc, res.err)
	if err == nil && res.resp == nil {
		err = &models.BackendCallError{Backend: desc.Name, Message: "nil response"}
	}
	if err != nil {
		d.metrics.Record(desc.Name, metrics.Failure, latency)
		return nil, err
	}

	d.metrics.Record(desc.Name, metrics.Success, latency)
	resp := *res.resp
	resp.Backend = desc.Name
	resp.Latency = latency
	if resp.Model == "" {
		resp.Model = desc.ModelID
	}
	return &resp, nil
}

// normalize maps any adapter error onto the two per-attempt error kinds.
func normalize(desc models.BackendDescriptor, err error) error {
	if err == nil {
		return nil
	}
	var timeoutErr *models.BackendTimeoutError
	var callErr *models.BackendCallError
	switch {
	case errors.As(err, &timeoutErr), errors.As(err, &callErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &models.BackendTimeoutError{Backend: desc.Name, Timeout: desc.Timeout, Cause: err}
	default:
		return &models.BackendCallError{Backend: desc.Name, Message: "call failed", Cause: err}
	}
}

func (d *Dispatcher) record(ctx context.Context, res *Result, routeErr error) {
	if d.recorder == nil {
		return
	}
	rec := models.CallRecord{
		RequestID: res.RequestID,
		Category:  res.Category,
		Backend:   res.Backend,
		CacheHit:  res.CacheHit,
		Attempts:  res.Attempts,
		LatencyMs: res.Latency.Milliseconds(),
		Success:   routeErr == nil,
		CreatedAt: d.now().UTC(),
	}
	if routeErr != nil {
		rec.Error = routeErr.Error()
	}

	recCtx, cancel := logging.DetachContextWithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := d.recorder.Record(recCtx, rec); err != nil {
		d.log.Error().Err(err).Str("request_id", res.RequestID).Msg("history record failed")
	}
}

func validate(req models.Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return &models.InvalidRequestError{Reason: "text is required"}
	}
	if req.Category != "" && !req.Category.Valid() {
		return &models.InvalidRequestError{Reason: fmt.Sprintf("unknown category %q", req.Category)}
	}
	if _, err := json.Marshal(req.Parameters); err != nil {
		return &models.InvalidRequestError{Reason: "parameters: " + err.Error()}
	}
	return nil
}

func trace(log zerolog.Logger, s State, backend ...string) {
	e := log.Debug().Str("state", string(s))
	if len(backend) > 0 {
		e = e.Str("backend", backend[0])
	}
	e.Msg("transition")
}
