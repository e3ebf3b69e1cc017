package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation     Code = "VALIDATION"
	InvalidHandle  Code = "INVALID_HANDLE"
	CursorInvalid  Code = "CURSOR_INVALID"
	InvalidRequest Code = "INVALID_QUESTION"

	// Resource & Limits
	BusyResource  Code = "BUSY_RESOURCE"
	Timeout       Code = "TIMEOUT"
	LimitExceeded Code = "LIMIT_EXCEEDED"
	FileTooLarge  Code = "FILE_TOO_LARGE"

	// IO & Formats
	LoadFailed        Code = "LOAD_FAILED"
	MalformedDataset  Code = "MALFORMED_DATASET"
	EmptyDataset      Code = "EMPTY_DATASET"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
	PreviewFailed     Code = "PREVIEW_FAILED"

	// Reasoning
	MissingCredentials   Code = "MISSING_CREDENTIALS"
	AskFailed            Code = "ASK_FAILED"
	ReasoningUnavailable Code = "REASONING_UNAVAILABLE"
	Cancelled            Code = "CANCELLED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:     {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidHandle:  {Code: InvalidHandle, Message: "dataset handle not found or expired", Retryable: true, NextSteps: []string{"Reopen the dataset via open_dataset and retry"}},
	CursorInvalid:  {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page"}},
	InvalidRequest: {Code: InvalidRequest, Message: "question must not be blank", Retryable: true, NextSteps: []string{"Ask a concrete question about the dataset"}},

	BusyResource:  {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:       {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Ask a narrower question or retry later"}},
	LimitExceeded: {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Close unused datasets or lower page size"}},
	FileTooLarge:  {Code: FileTooLarge, Message: "file exceeds configured size", Retryable: false, NextSteps: []string{"Use a smaller dataset or increase the limit"}},

	LoadFailed:        {Code: LoadFailed, Message: "failed to load dataset", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	MalformedDataset:  {Code: MalformedDataset, Message: "dataset is not a rectangular table with a header row", Retryable: false, NextSteps: []string{"Check the header for blank or duplicate names", "Make every row the same width"}},
	EmptyDataset:      {Code: EmptyDataset, Message: "dataset has no data rows", Retryable: false, NextSteps: []string{"Provide a file with at least one data row"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported dataset format", Retryable: false, NextSteps: []string{"Convert to .csv or .xlsx and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},
	PreviewFailed:     {Code: PreviewFailed, Message: "failed to generate preview", Retryable: true, NextSteps: []string{"Retry with fewer rows"}},

	MissingCredentials:   {Code: MissingCredentials, Message: "no API key supplied", Retryable: true, NextSteps: []string{"Pass api_key with the request"}},
	AskFailed:            {Code: AskFailed, Message: "the agent could not answer the question", Retryable: true, NextSteps: []string{"Rephrase the question", "Inspect the transcript for failing steps"}},
	ReasoningUnavailable: {Code: ReasoningUnavailable, Message: "language model request failed", Retryable: true, NextSteps: []string{"Verify the API key and model", "Retry after a short delay"}},
	Cancelled:            {Code: Cancelled, Message: "request cancelled", Retryable: true, NextSteps: []string{"Reissue the request"}},
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		// Unknown code; preserve as-is
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	// Append compact nextSteps guidance inline to aid clients lacking structured fields.
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// FromText parses a "CODE: message" string, enriches it with catalog guidance,
// and returns an MCP tool error result.
func FromText(text string) *mcp.CallToolResult {
	t := strings.TrimSpace(text)
	if t == "" {
		return mcp.NewToolResultError(normalize(Validation, ""))
	}
	parts := strings.SplitN(t, ":", 2)
	if len(parts) == 0 {
		return mcp.NewToolResultError(normalize(Validation, t))
	}
	code := Code(strings.TrimSpace(parts[0]))
	msg := ""
	if len(parts) > 1 {
		msg = strings.TrimSpace(parts[1])
	}
	return mcp.NewToolResultError(normalize(code, msg))
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}
