package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rajasaid/InsightOS/internal/chunk"
	"github.com/rajasaid/InsightOS/internal/store"
)

// Resource URIs that are not documents.
const (
	DocumentsURI = "insightos://documents"
	QueriesURI   = "insightos://queries"
)

// RegisterResources registers every indexed document as a file:// resource
// serving its extracted text, plus the document list and, when a query log
// is configured, the query log. Calling it again registers only documents
// indexed since the previous call.
func (s *Server) RegisterResources(ctx context.Context) error {
	if s.opts.Documents == nil {
		return fmt.Errorf("document source is required for resources")
	}
	docs, err := s.opts.Documents.ListDocuments(ctx)
	if err != nil {
		return MapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, d := range docs {
		if d.Status != store.StatusIndexed || d.Chunks == 0 {
			continue
		}
		uri := fileURI(d.Path)
		if s.resources[uri] {
			continue
		}
		s.mcp.AddResource(&mcp.Resource{
			Name:        filepath.Base(d.Path),
			URI:         uri,
			Description: fmt.Sprintf("%s (%s, %d chunks)", d.Path, d.Format, d.Chunks),
			MIMEType:    MimeType(d.Path, d.Format),
		}, s.makeDocumentHandler(d.Path))
		s.resources[uri] = true
		added++
	}

	if !s.resources[DocumentsURI] {
		s.mcp.AddResource(&mcp.Resource{
			Name:        "documents",
			URI:         DocumentsURI,
			Description: "Indexed and failed documents with their bookkeeping",
			MIMEType:    "application/json",
		}, s.handleDocumentsResource)
		s.resources[DocumentsURI] = true
	}
	if s.opts.Queries != nil && !s.resources[QueriesURI] {
		s.mcp.AddResource(&mcp.Resource{
			Name:        "queries",
			URI:         QueriesURI,
			Description: "Local retrieval query statistics for this session",
			MIMEType:    "application/json",
		}, s.handleQueriesResource)
		s.resources[QueriesURI] = true
	}

	s.logger.Info("mcp_resources_registered", slog.Int("documents", added))
	return nil
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func pathFromURI(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" || u.Host != "" || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

func (s *Server) makeDocumentHandler(path string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.ReadResource(ctx, fileURI(path))
	}
}

// ReadResource returns the contents of a resource by URI. Documents are
// served as their extracted text, rebuilt from the stored chunks.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	switch uri {
	case DocumentsURI:
		return s.handleDocumentsResource(ctx, nil)
	case QueriesURI:
		return s.handleQueriesResource(ctx, nil)
	}
	if s.opts.Documents == nil {
		return nil, NewResourceNotFoundError(uri)
	}
	path, ok := pathFromURI(uri)
	if !ok || !filepath.IsAbs(path) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid resource uri: %s", uri))
	}

	doc, err := s.opts.Documents.GetDocument(ctx, path)
	if err != nil {
		return nil, MapError(err)
	}
	if doc == nil || doc.Status != store.StatusIndexed {
		return nil, NewResourceNotFoundError(uri)
	}
	stored, err := s.opts.Documents.Chunks(ctx, path)
	if err != nil {
		return nil, MapError(err)
	}
	if len(stored) == 0 {
		return nil, NewResourceNotFoundError(uri)
	}

	chunks := make([]chunk.Chunk, len(stored))
	for i, r := range stored {
		chunks[i] = chunk.Chunk{Index: r.ChunkIndex, Text: r.Text, Start: r.Start, End: r.End}
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: MimeType(path, doc.Format),
			Text:     chunk.Reconstruct(chunks),
		}},
	}, nil
}

// DocumentEntry is one row of the documents resource.
type DocumentEntry struct {
	Path      string `json:"path"`
	Format    string `json:"format"`
	Status    string `json:"status"`
	Chunks    int    `json:"chunks"`
	Size      int64  `json:"size"`
	IndexedAt string `json:"indexed_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleDocumentsResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.opts.Documents == nil {
		return nil, NewResourceNotFoundError(DocumentsURI)
	}
	docs, err := s.opts.Documents.ListDocuments(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	entries := make([]DocumentEntry, len(docs))
	for i, d := range docs {
		entries[i] = DocumentEntry{
			Path:      d.Path,
			Format:    d.Format,
			Status:    d.Status,
			Chunks:    d.Chunks,
			Size:      d.Size,
			IndexedAt: formatTime(d.IndexedAt),
			Error:     d.ErrorMessage,
		}
	}
	return jsonResource(DocumentsURI, entries)
}

func (s *Server) handleQueriesResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.opts.Queries == nil {
		return nil, NewResourceNotFoundError(QueriesURI)
	}
	return jsonResource(QueriesURI, s.opts.Queries.Snapshot())
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &MCPError{Code: ErrCodeInternalError, Message: fmt.Sprintf("failed to encode %s: %v", uri, err)}
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
