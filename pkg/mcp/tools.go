package mcp

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

const defaultHistoryLimit = 20

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"facegate_cache_info":  handleCacheInfo,
	"facegate_clear_cache": handleClearCache,
	"facegate_preload":     handlePreload,
	"facegate_performance": handlePerformance,
	"facegate_history":     handleHistory,
	"facegate_search":      handleSearch,
}

var noArgs = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

var allTools = []ToolDefinition{
	{
		Name:        "facegate_cache_info",
		Description: "Show payload cache tiers, gallery coverage and search performance.",
		InputSchema: noArgs,
	},
	{
		Name:        "facegate_clear_cache",
		Description: "Clear the payload cache and restart the gallery preload.",
		InputSchema: noArgs,
	},
	{
		Name:        "facegate_preload",
		Description: "Fetch and cache reference payloads. Defaults to every gallery entry.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sources": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Source refs to preload (optional, omit for the whole gallery)",
				},
			},
		},
	},
	{
		Name:        "facegate_performance",
		Description: "Show average and recent search times, success rate and whether the target is met.",
		InputSchema: noArgs,
	},
	{
		Name:        "facegate_history",
		Description: "List recent search runs from the durable history, or a per-state summary.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum runs to list (optional, default 20)",
				},
				"summary": map[string]any{
					"type":        "boolean",
					"description": "Aggregate runs by terminal state instead of listing them",
				},
			},
		},
	},
	{
		Name:        "facegate_search",
		Description: "Search the configured gallery for the identity in a probe sample.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"sample"},
			"properties": map[string]any{
				"sample": map[string]any{
					"type":        "string",
					"description": "Probe sample as base64 text",
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

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleCacheInfo(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheInfo(s.status.CacheInfo()))
}

func handleClearCache(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if err := s.status.ClearAll(ctx); err != nil {
		return errorResult("Error clearing cache: " + err.Error())
	}
	return textResult("Cache cleared. Gallery preload restarted.")
}

type preloadArgs struct {
	Sources []string `json:"sources"`
}

func handlePreload(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args preloadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	refs := args.Sources
	if len(refs) == 0 {
		for _, e := range s.searcher.Gallery() {
			refs = append(refs, e.SourceRef)
		}
	}
	if len(refs) == 0 {
		return textResult("Nothing to preload: the gallery is empty.")
	}
	return textResult(formatPreload(s.status.Preload(ctx, refs)))
}

func handlePerformance(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatPerformance(s.status.PerformanceStats()))
}

type historyArgs struct {
	Limit   int  `json:"limit"`
	Summary bool `json:"summary"`
}

func handleHistory(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Run history is not configured.")
	}
	var args historyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	if args.Summary {
		rows, err := s.history.Summary(ctx)
		if err != nil {
			return errorResult("Error fetching history summary: " + err.Error())
		}
		return textResult(formatRunSummary(rows))
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	runs, err := s.history.Recent(ctx, limit)
	if err != nil {
		return errorResult("Error fetching history: " + err.Error())
	}
	return textResult(formatRuns(runs))
}

type searchArgs struct {
	Sample string `json:"sample"`
}

func handleSearch(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Sample == "" {
		return errorResult("sample is required")
	}

	start := time.Now()
	outcome := s.searcher.Search(ctx, args.Sample, s.searcher.Gallery(), nil)
	s.logger.Debug().Dur("elapsed", time.Since(start)).Str("state", string(outcome.State)).Msg("mcp search")
	return textResult(formatOutcome(outcome))
}
