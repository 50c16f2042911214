package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agent/nexus/pkg/backend"
	"github.com/nexus-agent/nexus/pkg/cache"
	"github.com/nexus-agent/nexus/pkg/classifier"
	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/router"
)

type fakeBackend struct {
	calls atomic.Int64
	fn    func(ctx context.Context, desc models.BackendDescriptor, text string) (*models.Response, error)
}

func (f *fakeBackend) Call(ctx context.Context, desc models.BackendDescriptor, text string, _ models.Parameters) (*models.Response, error) {
	f.calls.Add(1)
	return f.fn(ctx, desc, text)
}

func succeed(content string) *fakeBackend {
	return &fakeBackend{fn: func(context.Context, models.BackendDescriptor, string) (*models.Response, error) {
		return &models.Response{Content: content}, nil
	}}
}

func fail() *fakeBackend {
	return &fakeBackend{fn: func(_ context.Context, desc models.BackendDescriptor, _ string) (*models.Response, error) {
		return nil, &models.BackendCallError{Backend: desc.Name, StatusCode: 500, Message: "boom"}
	}}
}

func hang() *fakeBackend {
	return &fakeBackend{fn: func(ctx context.Context, _ models.BackendDescriptor, _ string) (*models.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type recorderFunc func(ctx context.Context, rec models.CallRecord) error

func (f recorderFunc) Record(ctx context.Context, rec models.CallRecord) error { return f(ctx, rec) }

type harness struct {
	d     *Dispatcher
	fakes map[string]*fakeBackend
}

// newHarness builds a dispatcher over the default four-backend config.
// Unlisted backends succeed.
func newHarness(t *testing.T, fakes map[string]*fakeBackend, mutate func(*config.Config), opts ...func(*Options)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	r, err := router.New(cfg)
	require.NoError(t, err)

	if fakes == nil {
		fakes = map[string]*fakeBackend{}
	}
	set := backend.Set{}
	for _, desc := range r.Backends() {
		f, ok := fakes[desc.Name]
		if !ok {
			f = succeed("from " + desc.Name)
			fakes[desc.Name] = f
		}
		set[desc.Name] = f
	}

	c, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, zerolog.Nop())
	require.NoError(t, err)

	o := Options{
		Router:     r,
		Classifier: classifier.New(cfg.Classifier),
		Backends:   set,
		Cache:      c,
		CacheTTL:   cfg.Cache.TTL,
		Retry:      config.RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2},
		Logger:     zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	d, err := New(o)
	require.NoError(t, err)
	return &harness{d: d, fakes: fakes}
}

func setTimeout(name string, timeout time.Duration) func(*config.Config) {
	return func(c *config.Config) {
		for i := range c.Backends {
			if c.Backends[i].Name == name {
				c.Backends[i].Timeout = timeout
			}
		}
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRouteCodingRequest(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	coder := &fakeBackend{fn: func(context.Context, models.BackendDescriptor, string) (*models.Response, error) {
		clock.Advance(800 * time.Millisecond)
		return &models.Response{Content: "func reverse(head *Node) *Node {...}"}, nil
	}}
	h := newHarness(t, map[string]*fakeBackend{"ollama_coder": coder}, nil)
	h.d.now = clock.Now

	res, err := h.d.Route(context.Background(), models.Request{Text: "write a function to reverse a linked list"})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryCoding, res.Category)
	assert.Equal(t, "ollama_coder", res.Backend)
	assert.Equal(t, "ollama_coder", res.Response.Backend)
	assert.Equal(t, "llama3.2:3b", res.Response.Model)
	assert.Equal(t, 800*time.Millisecond, res.Response.Latency)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.CacheHit)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, 1, h.d.Cache().Len())

	rec := h.d.Metrics().Records()["ollama_coder"]
	assert.Equal(t, int64(1), rec.CallCount)
	assert.Equal(t, int64(1), rec.SuccessCount)
	assert.Equal(t, int64(800), rec.TotalLatencyMs)
	assert.Equal(t, int64(0), h.fakes["hf_fallback"].calls.Load())
}

func TestRouteSimpleRequestTimeoutFallsBack(t *testing.T) {
	h := newHarness(t,
		map[string]*fakeBackend{"hf_fast": hang()},
		setTimeout("hf_fast", 20*time.Millisecond))

	res, err := h.d.Route(context.Background(), models.Request{Text: "hi there"})
	require.NoError(t, err)

	assert.Equal(t, models.CategorySimple, res.Category)
	assert.Equal(t, "hf_balanced", res.Backend)
	assert.Equal(t, 2, res.Attempts)

	records := h.d.Metrics().Records()
	assert.Equal(t, int64(1), records["hf_fast"].FailureCount)
	assert.Equal(t, int64(0), records["hf_fast"].SuccessCount)
	assert.Equal(t, int64(1), records["hf_balanced"].SuccessCount)
}

func TestRouteDiscardsLateResult(t *testing.T) {
	slow := &fakeBackend{fn: func(context.Context, models.BackendDescriptor, string) (*models.Response, error) {
		time.Sleep(60 * time.Millisecond)
		return &models.Response{Content: "too late"}, nil
	}}
	h := newHarness(t,
		map[string]*fakeBackend{"hf_fast": slow},
		setTimeout("hf_fast", 10*time.Millisecond))

	res, err := h.d.Route(context.Background(), models.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hf_balanced", res.Backend)
	assert.NotEqual(t, "too late", res.Response.Content)
	assert.Equal(t, int64(1), h.d.Metrics().Records()["hf_fast"].FailureCount)
}

func TestRouteCacheHitSkipsBackend(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := models.Request{Text: "What is the weather like?"}

	first, err := h.d.Route(context.Background(), req)
	require.NoError(t, err)
	second, err := h.d.Route(context.Background(), models.Request{Text: "  What is   the weather like? "})
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Response.Content, second.Response.Content)
	assert.Equal(t, "hf_fast", second.Backend)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, int64(1), h.fakes["hf_fast"].calls.Load())
	assert.Equal(t, int64(1), h.d.Metrics().Records()["hf_fast"].CallCount)
}

func TestRouteCacheKeyIncludesCategory(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.d.Route(context.Background(), models.Request{Text: "hello"})
	require.NoError(t, err)
	res, err := h.d.Route(context.Background(), models.Request{Text: "hello", Category: models.CategoryComplex})
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Equal(t, "ollama_coder", res.Backend)
}

func TestRouteCacheExpiry(t *testing.T) {
	h := newHarness(t, nil, nil, func(o *Options) {
		c, err := cache.New(10, 20*time.Millisecond, zerolog.Nop())
		require.NoError(t, err)
		o.Cache = c
		o.CacheTTL = 0
	})
	req := models.Request{Text: "hello"}

	_, err := h.d.Route(context.Background(), req)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	res, err := h.d.Route(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Equal(t, int64(2), h.fakes["hf_fast"].calls.Load())
}

func TestRouteWithoutCache(t *testing.T) {
	h := newHarness(t, nil, nil, func(o *Options) { o.Cache = nil })
	req := models.Request{Text: "hello"}

	for i := 0; i < 2; i++ {
		res, err := h.d.Route(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, int64(2), h.fakes["hf_fast"].calls.Load())
}

func TestRouteRetriesThenFallsBack(t *testing.T) {
	h := newHarness(t, map[string]*fakeBackend{"ollama_coder": fail()}, nil)

	res, err := h.d.Route(context.Background(), models.Request{Text: "refactor this class"})
	require.NoError(t, err)

	assert.Equal(t, "hf_fallback", res.Backend)
	assert.Equal(t, 3, res.Attempts)
	// one initial attempt plus max_retries=1
	assert.Equal(t, int64(2), h.fakes["ollama_coder"].calls.Load())
	assert.Equal(t, int64(2), h.d.Metrics().Records()["ollama_coder"].FailureCount)
}

func TestRouteRetrySucceedsOnSameBackend(t *testing.T) {
	var n atomic.Int64
	flaky := &fakeBackend{fn: func(_ context.Context, desc models.BackendDescriptor, _ string) (*models.Response, error) {
		if n.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return &models.Response{Content: "ok"}, nil
	}}
	h := newHarness(t, map[string]*fakeBackend{"ollama_coder": flaky}, nil)

	res, err := h.d.Route(context.Background(), models.Request{Text: "debug my code"})
	require.NoError(t, err)
	assert.Equal(t, "ollama_coder", res.Backend)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(0), h.fakes["hf_fallback"].calls.Load())
}

func TestRouteExhausted(t *testing.T) {
	h := newHarness(t, map[string]*fakeBackend{
		"ollama_coder": fail(),
		"hf_fallback":  fail(),
	}, nil)

	res, err := h.d.Route(context.Background(), models.Request{Text: "implement a trie"})
	assert.Nil(t, res)

	var exhausted *models.AllBackendsExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Equal(t, models.CategoryCoding, exhausted.Category)
	assert.Equal(t, []string{"ollama_coder", "hf_fallback"}, exhausted.Tried)
	assert.Equal(t, 4, exhausted.Attempts)

	var callErr *models.BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "hf_fallback", callErr.Backend)

	records := h.d.Metrics().Records()
	assert.Equal(t, int64(2), records["ollama_coder"].FailureCount)
	assert.Equal(t, int64(2), records["hf_fallback"].FailureCount)
	assert.Equal(t, 0, h.d.Cache().Len())
}

func TestRouteInvalidRequest(t *testing.T) {
	h := newHarness(t, nil, nil)

	for _, req := range []models.Request{
		{Text: ""},
		{Text: "   \n\t"},
		{Text: "hello", Category: "poetry"},
	} {
		_, err := h.d.Route(context.Background(), req)
		var invalid *models.InvalidRequestError
		assert.True(t, errors.As(err, &invalid), "request %+v: got %v", req, err)
	}

	for name, f := range h.fakes {
		assert.Zero(t, f.calls.Load(), name)
	}
}

func TestRouteRejectsUnencodableParameters(t *testing.T) {
	h := newHarness(t, nil, nil)

	nan := math.NaN()
	for _, params := range []models.Parameters{
		{Temperature: &nan, System: "answer in French"},
		{Extra: map[string]any{"stream": make(chan int)}},
	} {
		_, err := h.d.Route(context.Background(), models.Request{Text: "hello", Parameters: params})
		var invalid *models.InvalidRequestError
		assert.True(t, errors.As(err, &invalid), "got %v", err)
	}

	for name, f := range h.fakes {
		assert.Zero(t, f.calls.Load(), name)
	}
	for name, rec := range h.d.Metrics().Records() {
		assert.Zero(t, rec.CallCount, name)
	}
	assert.Equal(t, 0, h.d.Cache().Len())
}

func TestRoutePinnedBackend(t *testing.T) {
	h := newHarness(t, nil, nil)

	res, err := h.d.Route(context.Background(), models.Request{
		Text:    "write a function",
		Backend: "hf_fallback",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCoding, res.Category)
	assert.Equal(t, "hf_fallback", res.Backend)
	assert.Equal(t, "Force backend: hf_fallback", res.Reason)
	assert.Zero(t, h.fakes["ollama_coder"].calls.Load())

	// The routed answer is cached separately from the pinned one.
	res, err = h.d.Route(context.Background(), models.Request{Text: "write a function"})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, "ollama_coder", res.Backend)
}

func TestRoutePinnedBackendDoesNotFallBack(t *testing.T) {
	h := newHarness(t, map[string]*fakeBackend{"hf_fast": fail()}, nil)

	_, err := h.d.Route(context.Background(), models.Request{Text: "hello", Backend: "hf_fast"})
	var exhausted *models.AllBackendsExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Equal(t, []string{"hf_fast"}, exhausted.Tried)
	assert.Zero(t, h.fakes["hf_fallback"].calls.Load())
}

func TestRouteUnknownPinnedBackend(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.d.Route(context.Background(), models.Request{Text: "hello", Backend: "ghost"})
	var invalid *models.InvalidRequestError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Contains(t, invalid.Reason, `"ghost"`)
	for name, f := range h.fakes {
		assert.Zero(t, f.calls.Load(), name)
	}
}

func TestRouteDeclaredCategory(t *testing.T) {
	h := newHarness(t, nil, nil)

	res, err := h.d.Route(context.Background(), models.Request{
		Text:     "write a function",
		Category: models.CategorySpeedTest,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CategorySpeedTest, res.Category)
	assert.Equal(t, "hf_fast", res.Backend)
	assert.Equal(t, "Task type: speed_test", res.Reason)
}

func TestRouteIgnoresCallerCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	watcher := &fakeBackend{fn: func(ctx context.Context, _ models.BackendDescriptor, _ string) (*models.Response, error) {
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return &models.Response{Content: "done"}, nil
	}}
	h := newHarness(t, map[string]*fakeBackend{"hf_fast": watcher}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.d.Route(ctx, models.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hf_fast", res.Backend)
	assert.False(t, sawCancel.Load())
}

func TestRouteConcurrentDistinctRequests(t *testing.T) {
	h := newHarness(t, nil, nil)
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.d.Route(context.Background(), models.Request{Text: fmt.Sprintf("hello number %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, n, h.d.Cache().Len())
	var total int64
	for _, rec := range h.d.Metrics().Records() {
		total += rec.CallCount
	}
	assert.Equal(t, int64(n), total)
}

func TestRouteRecordsHistory(t *testing.T) {
	var mu sync.Mutex
	var recs []models.CallRecord
	recorder := recorderFunc(func(_ context.Context, rec models.CallRecord) error {
		mu.Lock()
		recs = append(recs, rec)
		mu.Unlock()
		return nil
	})

	h := newHarness(t, map[string]*fakeBackend{
		"ollama_coder": fail(),
		"hf_fallback":  fail(),
	}, nil, func(o *Options) { o.Recorder = recorder })

	_, err := h.d.Route(context.Background(), models.Request{Text: "hello"})
	require.NoError(t, err)
	_, err = h.d.Route(context.Background(), models.Request{Text: "hello"})
	require.NoError(t, err)
	_, err = h.d.Route(context.Background(), models.Request{Text: "write code"})
	require.Error(t, err)

	require.Len(t, recs, 3)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "hf_fast", recs[0].Backend)
	assert.True(t, recs[1].CacheHit)
	assert.False(t, recs[2].Success)
	assert.Equal(t, 4, recs[2].Attempts)
	assert.Contains(t, recs[2].Error, "all backends exhausted")
}

func TestNewRequiresAdapters(t *testing.T) {
	cfg := config.Default()
	r, err := router.New(cfg)
	require.NoError(t, err)

	_, err = New(Options{
		Router:     r,
		Classifier: classifier.New(cfg.Classifier),
		Backends:   backend.Set{"ollama_coder": succeed("x")},
		Logger:     zerolog.Nop(),
	})
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Len(t, cfgErr.Problems, 3)
}

func TestNewBuildsRateLimiters(t *testing.T) {
	h := newHarness(t, nil, func(c *config.Config) { c.Backends[2].RateLimit = 100 })
	assert.Contains(t, h.d.limiters, "hf_fast")
	assert.Len(t, h.d.limiters, 1)

	_, err := h.d.Route(context.Background(), models.Request{Text: "hello"})
	require.NoError(t, err)
}

func TestAttemptRecordsRateLimitWaitFailure(t *testing.T) {
	h := newHarness(t, nil, func(c *config.Config) { c.Backends[2].RateLimit = 100 })
	desc, ok := h.d.router.Backend("hf_fast")
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.d.attempt(ctx, desc, models.Request{Text: "hello"})
	var callErr *models.BackendCallError
	require.True(t, errors.As(err, &callErr), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, h.fakes["hf_fast"].calls.Load())
	assert.Equal(t, int64(1), h.d.Metrics().Records()["hf_fast"].FailureCount)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCacheHit, StateSuccess, StateExhausted} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateClassifying, StateCacheLookup, StateDispatching, StateCallingBackend, StateRetry, StateNextBackend} {
		assert.False(t, s.Terminal(), s)
	}
}
