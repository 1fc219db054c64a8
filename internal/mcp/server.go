package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rajasaid/InsightOS/internal/embed"
	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/retrieve"
	"github.com/rajasaid/InsightOS/internal/store"
	"github.com/rajasaid/InsightOS/internal/telemetry"
	"github.com/rajasaid/InsightOS/pkg/version"
)

// Tool names.
const (
	ToolRetrieve    = "retrieve"
	ToolIndexStatus = "index_status"
)

// Retriever assembles a context bundle for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float64) (*retrieve.Bundle, error)
}

// IndexState reports the indexing status surface.
type IndexState interface {
	Status() index.StatusSnapshot
	Stats(ctx context.Context) (*index.Stats, error)
}

// DocumentSource reads document rows and stored chunks.
type DocumentSource interface {
	GetDocument(ctx context.Context, path string) (*store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	Chunks(ctx context.Context, path string) ([]store.Result, error)
}

// Options configures optional server collaborators.
type Options struct {
	// Documents backs file resources. Nil disables them.
	Documents DocumentSource

	// Embedder is probed by index_status. Nil reports the model from the
	// index stats with status "unknown".
	Embedder embed.Embedder
	Provider string

	// Queries backs the query log resource. Nil disables it.
	Queries *telemetry.QueryLog

	Logger *slog.Logger
}

// Server exposes retrieval and index status to MCP clients.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	index     IndexState
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	resources map[string]bool
}

// NewServer creates a server with the retrieve and index_status tools
// registered.
func NewServer(r Retriever, st IndexState, opts Options) (*Server, error) {
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if st == nil {
		return nil, errors.New("index state is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		retriever: r,
		index:     st,
		opts:      opts,
		logger:    logger,
		resources: make(map[string]bool),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    version.Name,
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: ToolRetrieve, Description: retrieveDescription},
		{Name: ToolIndexStatus, Description: indexStatusDescription},
	}
}

// CallTool invokes a tool by name. args are decoded into the tool's input
// type the same way the SDK decodes a request.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieve:
		var in RetrieveInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.retrieve(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ToolIndexStatus:
		out, _, err := s.indexStatus(ctx)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		return nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return NewInvalidParamsError("invalid arguments: " + err.Error())
	}
	return nil
}

// Serve runs the server on stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRetrieve,
		Description: retrieveDescription,
	}, s.mcpRetrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: indexStatusDescription,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, in RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, text, err := s.retrieve(ctx, in)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return textResult(text), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out, text, err := s.indexStatus(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, err
	}
	return textResult(text), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// generateRequestID creates a short id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
