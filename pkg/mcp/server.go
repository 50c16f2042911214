// Package mcp exposes the router to MCP clients as JSON-RPC 2.0 tools
// over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/nexus-agent/nexus/pkg/dispatch"
	"github.com/nexus-agent/nexus/pkg/logging"
	"github.com/nexus-agent/nexus/pkg/tracker"
)

const maxLine = 1024 * 1024

// Server answers MCP requests read line by line from a stream.
type Server struct {
	dispatcher *dispatch.Dispatcher
	history    tracker.Tracker
	version    string
	log        zerolog.Logger
}

// New creates an MCP server. history may be nil when call history is
// disabled.
func New(d *dispatch.Dispatcher, history tracker.Tracker, version string, log zerolog.Logger) *Server {
	return &Server{
		dispatcher: d,
		history:    history,
		version:    version,
		log:        logging.Component(log, "mcp"),
	}
}

// Run reads JSON-RPC requests from r and writes responses to w. It blocks
// until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLine), maxLine)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
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

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != jsonrpcVersion {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	s.log.Debug().Str("method", req.Method).Msg("request")

	switch req.Method {
	case "initialize":
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: protocolVersion,
				ServerInfo:      ServerInfo{Name: "nexus", Version: s.version},
				Capabilities:    map[string]any{"tools": map[string]any{}},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: ToolsListResult{Tools: allTools}}
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

	var result ToolCallResult
	if handler, ok := toolHandlers[params.Name]; ok {
		result = handler(ctx, s, params.Arguments)
	} else {
		result = errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
	}
	return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result}
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}
