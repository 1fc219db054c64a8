package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rajasaid/InsightOS/internal/embed"
	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/retrieve"
)

const (
	retrieveDescription = "Retrieve passages from the user's indexed local documents that are relevant to a question. " +
		"Returns a numbered context block with a citation for every passage. An empty result means nothing in the index is relevant enough."
	indexStatusDescription = "Report whether the document index is idle or scanning, how many documents and chunks it holds, " +
		"the last scan summary and which embedding model is active."
)

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query     string   `json:"query" jsonschema:"the question or search text"`
	TopK      int      `json:"top_k,omitempty" jsonschema:"maximum number of chunks to consider, default from configuration, at most 20"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum similarity between 0 and 1, default from configuration"`
}

// RetrieveOutput is the structured result of the retrieve tool.
type RetrieveOutput struct {
	Query     string              `json:"query"`
	Empty     bool                `json:"empty"`
	Context   string              `json:"context"`
	Citations []retrieve.Citation `json:"citations"`
	Sources   []string            `json:"sources"`
	Dropped   int                 `json:"dropped,omitempty"`
}

// IndexStatusInput is the input schema for index_status (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput is the structured result of index_status. Times are
// RFC 3339 strings.
type IndexStatusOutput struct {
	State           string         `json:"state"`
	Documents       int            `json:"documents"`
	FailedDocuments int            `json:"failed_documents"`
	Chunks          int            `json:"chunks"`
	ActiveJobs      int            `json:"active_jobs"`
	Formats         map[string]int `json:"formats"`
	ChunkSize       int            `json:"chunk_size"`
	ChunkOverlap    int            `json:"chunk_overlap"`
	LastScan        *ScanSummary   `json:"last_scan,omitempty"`
	LastFailure     *FailureDetail `json:"last_failure,omitempty"`
	Embeddings      EmbeddingInfo  `json:"embeddings"`
	UpdatedAt       string         `json:"updated_at,omitempty"`
}

// ScanSummary is the last completed scan.
type ScanSummary struct {
	ScanID     string `json:"scan_id"`
	Indexed    int    `json:"indexed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Deleted    int    `json:"deleted"`
	Cancelled  int    `json:"cancelled"`
	Chunks     int    `json:"chunks"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
}

// FailureDetail is the most recent per-file failure.
type FailureDetail struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// EmbeddingInfo describes the active embedding model.
type EmbeddingInfo struct {
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // ready, unavailable or unknown
}

func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return RetrieveOutput{}, "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if in.TopK < 0 {
		return RetrieveOutput{}, "", NewInvalidParamsError("top_k must not be negative")
	}
	threshold := -1.0
	if in.Threshold != nil {
		if *in.Threshold < 0 || *in.Threshold > 1 {
			return RetrieveOutput{}, "", NewInvalidParamsError(fmt.Sprintf("threshold must be between 0 and 1, got %g", *in.Threshold))
		}
		threshold = *in.Threshold
	}

	start := time.Now()
	requestID := generateRequestID()
	b, err := s.retriever.Retrieve(ctx, in.Query, in.TopK, threshold)
	if err != nil {
		s.logger.Error("retrieve_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return RetrieveOutput{}, "", MapError(err)
	}

	s.logger.Info("retrieve_completed",
		slog.String("request_id", requestID),
		slog.Int("spans", len(b.Spans)),
		slog.Duration("duration", time.Since(start)))

	out := RetrieveOutput{
		Query:     b.Query,
		Empty:     b.Empty(),
		Context:   b.Text,
		Citations: b.Citations(),
		Sources:   b.Sources(),
		Dropped:   b.Dropped,
	}
	if out.Citations == nil {
		out.Citations = []retrieve.Citation{}
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	return out, FormatBundle(b), nil
}

func (s *Server) indexStatus(ctx context.Context) (IndexStatusOutput, string, error) {
	snap := s.index.Status()
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return IndexStatusOutput{}, "", MapError(err)
	}

	out := IndexStatusOutput{
		State:           snap.State,
		Documents:       stats.Documents,
		FailedDocuments: stats.FailedDocuments,
		Chunks:          stats.Chunks,
		ActiveJobs:      snap.ActiveJobs,
		Formats:         stats.Formats,
		ChunkSize:       stats.ChunkSize,
		ChunkOverlap:    stats.ChunkOverlap,
		LastScan:        scanSummary(snap.LastScan),
		Embeddings:      s.embeddingInfo(ctx, stats),
		UpdatedAt:       formatTime(snap.UpdatedAt),
	}
	if out.Formats == nil {
		out.Formats = map[string]int{}
	}
	if f := snap.LastFailure; f != nil {
		out.LastFailure = &FailureDetail{Kind: f.Kind, Path: f.Path, Message: f.Message, At: formatTime(f.At)}
	}
	return out, FormatStatus(out), nil
}

func (s *Server) embeddingInfo(ctx context.Context, stats *index.Stats) EmbeddingInfo {
	info := EmbeddingInfo{
		Provider:   s.opts.Provider,
		Model:      stats.Model,
		Dimensions: stats.Dimensions,
		Status:     "unknown",
	}
	if s.opts.Embedder == nil {
		return info
	}
	d := embed.Describe(ctx, s.opts.Embedder)
	info.Model = d.Model
	info.Dimensions = d.Dimensions
	info.Status = "unavailable"
	if d.Available {
		info.Status = "ready"
	}
	return info
}

func scanSummary(r *index.ScanResult) *ScanSummary {
	if r == nil {
		return nil
	}
	return &ScanSummary{
		ScanID:     r.ScanID,
		Indexed:    r.Indexed,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Deleted:    r.Deleted,
		Cancelled:  r.Cancelled,
		Chunks:     r.Chunks,
		StartedAt:  formatTime(r.StartedAt),
		DurationMs: r.Duration.Milliseconds(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
