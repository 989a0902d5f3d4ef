// Package mcp serves facegate's cache, performance and search operations as
// MCP tools over stdio using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/matcher"
	"github.com/pario-ai/facegate/pkg/models"
	"github.com/pario-ai/facegate/pkg/tracker"
)

const maxLineBytes = 16 << 20

// Status is the cache and performance surface the tools read and maintain.
type Status interface {
	CacheInfo() models.CacheInfo
	PerformanceStats() models.PerformanceStats
	ClearAll(ctx context.Context) error
	Preload(ctx context.Context, refs []string) models.PreloadResult
}

// Searcher runs match searches against a gallery.
type Searcher interface {
	Gallery() []models.GalleryEntry
	Search(ctx context.Context, sample string, gallery []models.GalleryEntry, onProgress matcher.ProgressFunc) models.MatchOutcome
}

// Server is a minimal MCP server. history may be nil.
type Server struct {
	status   Status
	searcher Searcher
	history  tracker.Tracker
	logger   zerolog.Logger
	version  string
}

// New creates a Server.
func New(status Status, searcher Searcher, history tracker.Tracker, logger zerolog.Logger, version string) *Server {
	return &Server{
		status:   status,
		searcher: searcher,
		history:  history,
		logger:   logger,
		version:  version,
	}
}

// Run reads JSON-RPC requests from r line by line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonRPCVersion || req.Method == "" {
			s.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "invalid request"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.logger.Debug().Str("tool", params.Name).Msg("tool call")
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("mcp: write response")
	}
}
