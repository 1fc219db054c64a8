// Package mcp serves the retrieval engine to MCP clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Application error codes, in the JSON-RPC server error range.
const (
	ErrCodeIndexUnavailable    = -32001
	ErrCodeEmbedderUnavailable = -32002
	ErrCodeTimeout             = -32003
	ErrCodeDocumentNotFound    = -32004

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error into an MCPError. Messages carry the
// error's suggestion when it has one.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var e *ierrors.Error
	if !errors.As(err, &e) {
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}

	msg := e.Message
	if e.Suggestion != "" {
		msg = e.Message + ". " + e.Suggestion
	}
	switch {
	case e.Category == ierrors.CategoryValidation && e.Code != ierrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case e.Code == ierrors.ErrCodeStoreUnavailable, e.Code == ierrors.ErrCodeCorruptIndex,
		e.Code == ierrors.ErrCodeIndexLocked, e.Code == ierrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: msg}
	case e.Code == ierrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeDocumentNotFound, Message: msg}
	case e.Category == ierrors.CategoryNetwork, e.Code == ierrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbedderUnavailable, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}

// NewInvalidParamsError reports bad tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError reports an unknown or unindexed resource.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeDocumentNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}
