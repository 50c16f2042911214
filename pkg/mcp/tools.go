package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/tracker"
)

type routeArgs struct {
	Text       string            `json:"text"`
	Category   string            `json:"category"`
	Parameters models.Parameters `json:"parameters"`
	Backend    string            `json:"backend"`
}

type historyArgs struct {
	Backend  string `json:"backend"`
	Category string `json:"category"`
	Since    string `json:"since"`
	Limit    int    `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"nexus_route":       handleRoute,
	"nexus_classify":    handleClassify,
	"nexus_metrics":     handleMetrics,
	"nexus_cache_stats": handleCacheStats,
	"nexus_history":     handleHistory,
}

var categoryEnum = []string{
	string(models.CategoryCoding),
	string(models.CategorySimple),
	string(models.CategoryComplex),
	string(models.CategorySpeedTest),
}

var allTools = []ToolDefinition{
	{
		Name:        "nexus_route",
		Description: "Route a prompt to the best backend for its task category and return the generated text.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The prompt to route",
				},
				"category": map[string]any{
					"type":        "string",
					"enum":        categoryEnum,
					"description": "Task category (optional, classified from text when omitted)",
				},
				"parameters": map[string]any{
					"type":        "object",
					"description": "Generation parameters such as temperature and max_tokens (optional)",
				},
				"backend": map[string]any{
					"type":        "string",
					"description": "Send to this backend only, skipping the fallback chain (optional)",
				},
			},
		},
	},
	{
		Name:        "nexus_classify",
		Description: "Show which task category a prompt falls into and why, without routing it.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The prompt to classify",
				},
			},
		},
	},
	{
		Name:        "nexus_metrics",
		Description: "Show per-backend call counts, average latency and success rate.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "nexus_cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "nexus_history",
		Description: "Search recorded routes with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"backend": map[string]any{
					"type":        "string",
					"description": "Filter by backend name (optional)",
				},
				"category": map[string]any{
					"type":        "string",
					"enum":        categoryEnum,
					"description": "Filter by task category (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of records (optional, defaults to 50)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleRoute(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args routeArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Text == "" {
		return errorResult("text is required")
	}

	res, err := s.dispatcher.Route(ctx, models.Request{
		Text:       args.Text,
		Category:   models.Category(args.Category),
		Backend:    args.Backend,
		Parameters: args.Parameters,
	})
	if err != nil {
		return errorResult("Route failed: " + err.Error())
	}
	return textResult(formatRoute(res))
}

func handleClassify(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args routeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Text == "" {
		return errorResult("text is required")
	}
	return textResult(formatDecision(s.dispatcher.Classify(args.Text)))
}

func handleMetrics(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatMetrics(s.dispatcher.Metrics().Summary()))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	c := s.dispatcher.Cache()
	if c == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(c.Stats()))
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Call history is not configured.")
	}
	var args historyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := tracker.QueryOpts{
		Backend:  args.Backend,
		Category: models.Category(args.Category),
		Limit:    args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	recs, err := s.history.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching history: " + err.Error())
	}
	return textResult(formatHistory(recs))
}
