package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-agent/nexus/pkg/backend"
	"github.com/nexus-agent/nexus/pkg/cache"
	"github.com/nexus-agent/nexus/pkg/classifier"
	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/dispatch"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/router"
	"github.com/nexus-agent/nexus/pkg/tracker"
)

// fakeTracker implements tracker.Tracker for testing.
type fakeTracker struct {
	records []models.CallRecord
	lastOpt tracker.QueryOpts
}

func (f *fakeTracker) Record(_ context.Context, rec models.CallRecord) error {
	f.records = append(f.records, rec)
	return nil
}
func (f *fakeTracker) Query(_ context.Context, opts tracker.QueryOpts) ([]models.CallRecord, error) {
	f.lastOpt = opts
	return f.records, nil
}
func (f *fakeTracker) Summary(_ context.Context, _ time.Time) ([]models.HistorySummary, error) {
	return nil, nil
}
func (f *fakeTracker) Cleanup(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (f *fakeTracker) Close() error                                          { return nil }

func newDispatcher(t *testing.T, withCache bool) *dispatch.Dispatcher {
	t.Helper()
	cfg := config.Default()
	r, err := router.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	set := backend.Set{}
	for _, desc := range r.Backends() {
		set[desc.Name] = backend.Func(func(_ context.Context, desc models.BackendDescriptor, text string, _ models.Parameters) (*models.Response, error) {
			return &models.Response{Content: "reply from " + desc.Name}, nil
		})
	}

	opts := dispatch.Options{
		Router:     r,
		Classifier: classifier.New(cfg.Classifier),
		Backends:   set,
		Logger:     zerolog.Nop(),
	}
	if withCache {
		c, err := cache.New(10, time.Hour, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		opts.Cache = c
	}
	d, err := dispatch.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newServer(t *testing.T, history tracker.Tracker) *Server {
	t.Helper()
	return New(newDispatcher(t, true), history, "test", zerolog.Nop())
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "nexus" {
		t.Errorf("server name = %s, want nexus", result.ServerInfo.Name)
	}
	if result.ServerInfo.Version != "test" {
		t.Errorf("server version = %s, want test", result.ServerInfo.Version)
	}
}

func TestToolsList(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
}

func TestToolCallRoute(t *testing.T) {
	srv := newServer(t, nil)

	result := callTool(t, srv, "nexus_route", `{"text":"debug this function"}`)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "reply from ollama_coder") {
		t.Errorf("expected ollama_coder reply, got: %s", text)
	}
	if !strings.Contains(text, "Category: coding") {
		t.Errorf("expected coding category, got: %s", text)
	}

	result = callTool(t, srv, "nexus_route", `{"text":"debug this function"}`)
	if !strings.Contains(result.Content[0].Text, "via cache") {
		t.Errorf("expected cache hit on repeat, got: %s", result.Content[0].Text)
	}
}

func TestToolCallRouteDeclaredCategory(t *testing.T) {
	srv := newServer(t, nil)

	result := callTool(t, srv, "nexus_route", `{"text":"hello there","category":"complex"}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "Task type: complex") {
		t.Errorf("expected declared reason, got: %s", text)
	}
	if !strings.Contains(text, "reply from ollama_coder") {
		t.Errorf("expected complex chain head, got: %s", text)
	}
}

func TestToolCallRouteInvalid(t *testing.T) {
	srv := newServer(t, nil)

	if result := callTool(t, srv, "nexus_route", `{}`); !result.IsError {
		t.Error("expected isError=true for missing text")
	}
	result := callTool(t, srv, "nexus_route", `{"text":"hi","category":"poetry"}`)
	if !result.IsError {
		t.Fatal("expected isError=true for unknown category")
	}
	if !strings.Contains(result.Content[0].Text, "invalid request") {
		t.Errorf("unexpected error text: %s", result.Content[0].Text)
	}
}

func TestToolCallClassify(t *testing.T) {
	srv := newServer(t, nil)

	text := callTool(t, srv, "nexus_classify", `{"text":"please refactor this"}`).Content[0].Text
	if !strings.Contains(text, "coding") || !strings.Contains(text, `"refactor"`) {
		t.Errorf("unexpected classify output: %s", text)
	}
}

func TestToolCallMetrics(t *testing.T) {
	srv := newServer(t, nil)
	callTool(t, srv, "nexus_route", `{"text":"hello"}`)

	text := callTool(t, srv, "nexus_metrics", `{}`).Content[0].Text
	if !strings.Contains(text, "hf_fast") || !strings.Contains(text, "100.0%") {
		t.Errorf("unexpected metrics output: %s", text)
	}
}

func TestToolCallCacheStats(t *testing.T) {
	srv := newServer(t, nil)
	callTool(t, srv, "nexus_route", `{"text":"hello"}`)
	callTool(t, srv, "nexus_route", `{"text":"hello"}`)
	callTool(t, srv, "nexus_route", `{"text":"hello"}`)

	text := callTool(t, srv, "nexus_cache_stats", `{}`).Content[0].Text
	if !strings.Contains(text, "1 / 10") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolCallCacheNotConfigured(t *testing.T) {
	srv := New(newDispatcher(t, false), nil, "test", zerolog.Nop())

	text := callTool(t, srv, "nexus_cache_stats", `{}`).Content[0].Text
	if !strings.Contains(text, "not configured") {
		t.Errorf("expected 'not configured', got: %s", text)
	}
}

func TestToolCallHistory(t *testing.T) {
	tr := &fakeTracker{records: []models.CallRecord{
		{RequestID: "r1", Category: models.CategoryCoding, Backend: "ollama_coder", Attempts: 1, LatencyMs: 812, Success: true},
		{RequestID: "r2", Category: models.CategorySimple, Attempts: 3, Success: false, Error: "all backends exhausted"},
	}}
	srv := newServer(t, tr)

	text := callTool(t, srv, "nexus_history", `{"backend":"ollama_coder","since":"2026-01-02"}`).Content[0].Text
	if !strings.Contains(text, "812ms") || !strings.Contains(text, "failed: all backends exhausted") {
		t.Errorf("unexpected history output: %s", text)
	}
	if tr.lastOpt.Backend != "ollama_coder" || tr.lastOpt.Limit != 50 {
		t.Errorf("query opts = %+v", tr.lastOpt)
	}
	if tr.lastOpt.Since.Year() != 2026 {
		t.Errorf("since not parsed: %v", tr.lastOpt.Since)
	}

	if result := callTool(t, srv, "nexus_history", `{"since":"yesterday"}`); !result.IsError {
		t.Error("expected isError=true for bad date")
	}
}

func TestToolCallHistoryNotConfigured(t *testing.T) {
	srv := newServer(t, nil)

	text := callTool(t, srv, "nexus_history", `{}`).Content[0].Text
	if !strings.Contains(text, "not configured") {
		t.Errorf("expected 'not configured', got: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := newServer(t, nil)

	if result := callTool(t, srv, "nexus_nope", `{}`); !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := newServer(t, nil)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestBadVersionAndParseError(t *testing.T) {
	srv := newServer(t, nil)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "1.0", ID: json.RawMessage(`10`), Method: "tools/list"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid request error, got %+v", resp.Error)
	}

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var parsed Response
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Error == nil || parsed.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", parsed.Error)
	}
}
