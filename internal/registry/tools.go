package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/datasavant/internal/agent"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/datasets"
	"github.com/vinodismyname/datasavant/internal/ops"
	"github.com/vinodismyname/datasavant/internal/reasoning"
	"github.com/vinodismyname/datasavant/internal/runtime"
	"github.com/vinodismyname/datasavant/internal/security"
	"github.com/vinodismyname/datasavant/pkg/mcperr"
	"github.com/vinodismyname/datasavant/pkg/pagination"
	"github.com/vinodismyname/datasavant/pkg/validation"
)

// Tool names.
const (
	ToolOpenDataset     = "open_dataset"
	ToolDescribeDataset = "describe_dataset"
	ToolPreviewDataset  = "preview_dataset"
	ToolRunInstruction  = "run_instruction"
	ToolAskDataset      = "ask_dataset"
	ToolCloseDataset    = "close_dataset"
)

// --- Input / Output Schemas (typed for discovery) ---

// ColumnInfo is one schema entry.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type" jsonschema_description:"numeric, string, boolean, or datetime"`
}

// OpenDatasetInput defines parameters for opening a dataset.
type OpenDatasetInput struct {
	Path    string `json:"path,omitempty" validate:"omitempty,dataset_ext" jsonschema_description:"Allowed path to a .csv, .tsv, .txt, .xlsx or .xlsm file; empty opens the default dataset"`
	Content string `json:"content,omitempty" jsonschema_description:"Inline delimited text with a header row, used instead of path (uploads)"`
	Name    string `json:"name,omitempty" validate:"omitempty,max=255" jsonschema_description:"Label for inline content; defaults to upload.csv"`
}

// DatasetInfo documents a dataset handle and its schema.
type DatasetInfo struct {
	DatasetID       string       `json:"dataset_id" jsonschema_description:"Server-assigned dataset handle ID"`
	Name            string       `json:"name"`
	Rows            int          `json:"rows"`
	Columns         []ColumnInfo `json:"columns"`
	PreviewRowLimit int          `json:"previewRowLimit" jsonschema_description:"Default row limit for previews"`
	MaxIterations   int          `json:"maxIterations" jsonschema_description:"Reasoning steps allowed per question"`
}

// DatasetRef identifies an open dataset.
type DatasetRef struct {
	DatasetID string `json:"dataset_id" validate:"required,uuid" jsonschema_description:"Dataset handle ID from open_dataset"`
}

// PreviewDatasetInput defines parameters for paging through rows.
type PreviewDatasetInput struct {
	DatasetID string `json:"dataset_id,omitempty" validate:"required_without=Cursor,omitempty,uuid" jsonschema_description:"Dataset handle ID (or supply cursor)"`
	Rows      int    `json:"rows,omitempty" validate:"omitempty,min=1,max=1000" jsonschema_description:"Rows per page"`
	Cursor    string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page"`
}

// PageMeta captures paging/truncation metadata.
type PageMeta struct {
	Total      int    `json:"total"`
	Offset     int    `json:"offset"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// PreviewDatasetOutput carries one page of rows.
type PreviewDatasetOutput struct {
	DatasetID string     `json:"dataset_id"`
	Header    []string   `json:"header"`
	Rows      [][]string `json:"rows"`
	Meta      PageMeta   `json:"meta"`
}

// RunInstructionInput defines parameters for a single executor call.
type RunInstructionInput struct {
	DatasetID   string `json:"dataset_id" validate:"required,uuid" jsonschema_description:"Dataset handle ID"`
	Instruction string `json:"instruction" validate:"notblank" jsonschema_description:"Instruction such as 'group(sex) | mean(age)'"`
}

// RunInstructionOutput is the observation produced by the executor.
type RunInstructionOutput struct {
	DatasetID   string `json:"dataset_id"`
	Instruction string `json:"instruction"`
	Observation string `json:"observation"`
	ErrorKind   string `json:"errorKind,omitempty"`
	Truncated   bool   `json:"truncated"`
}

// AskDatasetInput defines parameters for answering a question.
type AskDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required,uuid" jsonschema_description:"Dataset handle ID"`
	Question  string `json:"question" validate:"notblank" jsonschema_description:"Natural-language question about the dataset"`
	APIKey    string `json:"api_key,omitempty" jsonschema_description:"Model API key used for this call only"`
}

// StepSummary is one transcript entry reported to the client.
type StepSummary struct {
	Kind        string `json:"kind"`
	Instruction string `json:"instruction,omitempty"`
	Observation string `json:"observation,omitempty"`
	Malformed   bool   `json:"malformed,omitempty"`
	Answer      string `json:"answer,omitempty"`
}

// AskDatasetOutput documents the agent result.
type AskDatasetOutput struct {
	SessionID      string        `json:"session_id"`
	State          string        `json:"state"`
	Answer         string        `json:"answer"`
	BestEffort     bool          `json:"bestEffort"`
	Iterations     int           `json:"iterations"`
	ReasoningCalls int           `json:"reasoningCalls"`
	Steps          []StepSummary `json:"steps,omitempty"`
}

// CloseDatasetOutput documents close_dataset.
type CloseDatasetOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
}

// Deps are the services the dataset tools operate on.
type Deps struct {
	Limits   runtime.Limits
	Datasets *datasets.Manager
	Agent    *agent.Loop
	Executor *ops.Executor
	// Credentials resolves a fallback key at call time when api_key is omitted.
	Credentials    func() reasoning.Credentials
	ExposeExecutor bool
}

// toolset holds handler implementations; one per server.
type toolset struct {
	Deps
}

// RegisterDatasetTools defines the dataset tools and their handlers.
func RegisterDatasetTools(s *server.MCPServer, reg *Registry, deps Deps) {
	ts := &toolset{Deps: deps}
	if ts.Executor == nil {
		ts.Executor = ops.NewExecutor(deps.Limits.ExecuteTimeout, deps.Limits.PreviewRowLimit, deps.Limits.MaxObservationBytes)
	}

	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		s.AddTool(tool, h)
		reg.Register(tool)
	}

	add(mcp.NewTool(ToolOpenDataset,
		mcp.WithDescription("Load a tabular dataset (delimited text with a header row, or the first sheet of an Excel workbook) and return a handle with its inferred schema. Pass content to upload delimited text inline instead of a path. Omit both to open the server's default dataset. Errors include LOAD_FAILED, MALFORMED_DATASET, EMPTY_DATASET, PERMISSION_DENIED, and LIMIT_EXCEEDED."),
		mcp.WithInputSchema[OpenDatasetInput](),
		mcp.WithOutputSchema[DatasetInfo](),
	), mcp.NewTypedToolHandler(ts.open))

	add(mcp.NewTool(ToolDescribeDataset,
		mcp.WithDescription("Return the schema (column names and inferred types) and row count of an open dataset."),
		mcp.WithInputSchema[DatasetRef](),
		mcp.WithOutputSchema[DatasetInfo](),
	), mcp.NewTypedToolHandler(ts.describe))

	add(mcp.NewTool(ToolPreviewDataset,
		mcp.WithDescription("Return a bounded page of rows with a cursor for the next page. Values are rendered as text; blanks appear as null."),
		mcp.WithInputSchema[PreviewDatasetInput](),
		mcp.WithOutputSchema[PreviewDatasetOutput](),
	), mcp.NewTypedToolHandler(ts.preview))

	add(mcp.NewTool(ToolRunInstruction,
		mcp.WithDescription("Run one data instruction against an open dataset and return the bounded observation.\n\n"+ops.Vocabulary),
		mcp.WithInputSchema[RunInstructionInput](),
		mcp.WithOutputSchema[RunInstructionOutput](),
	), mcp.NewTypedToolHandler(ts.run))

	add(mcp.NewTool(ToolAskDataset,
		mcp.WithDescription("Answer a natural-language question about an open dataset. A language model inspects the data step by step through the instruction vocabulary and returns its final answer with the steps it took. When the step budget runs out the best-effort answer is marked bestEffort. The API key is used for this call only. Errors include MISSING_CREDENTIALS, TIMEOUT, REASONING_UNAVAILABLE, and ASK_FAILED."),
		mcp.WithInputSchema[AskDatasetInput](),
		mcp.WithOutputSchema[AskDatasetOutput](),
	), mcp.NewTypedToolHandler(ts.ask))

	add(mcp.NewTool(ToolCloseDataset,
		mcp.WithDescription("Close a previously opened dataset handle"),
		mcp.WithInputSchema[DatasetRef](),
		mcp.WithOutputSchema[CloseDatasetOutput](),
	), mcp.NewTypedToolHandler(ts.close))
}

func (ts *toolset) open(ctx context.Context, _ mcp.CallToolRequest, in OpenDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	var (
		h   *datasets.Handle
		err error
	)
	switch {
	case in.Content != "" && in.Path != "":
		return mcperr.New(mcperr.Validation, "supply either path or content, not both"), nil
	case in.Content != "":
		h, err = ts.adopt(ctx, in)
	default:
		h, err = ts.Datasets.Open(ctx, in.Path)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", in.Path).Int("content_bytes", len(in.Content)).Msg("open dataset failed")
		return loadFailure(err), nil
	}
	out := ts.info(h.ID, h.Dataset)
	zerolog.Ctx(ctx).Info().Str("dataset_id", h.ID).Str("name", out.Name).Int("rows", out.Rows).Msg("dataset opened")
	return structured(out, fmt.Sprintf("dataset_id=%s name=%s rows=%d columns=%d", out.DatasetID, out.Name, out.Rows, len(out.Columns)), schemaLines(out.Columns)), nil
}

// adopt parses inline content under the dataset size cap and registers it.
func (ts *toolset) adopt(ctx context.Context, in OpenDatasetInput) (*datasets.Handle, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "upload.csv"
	}
	opts := dataset.LoadOptions{Name: name, MaxBytes: ts.Limits.MaxDatasetBytes}
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		opts.Delimiter = '\t'
	}
	ds, err := dataset.Load(strings.NewReader(in.Content), opts)
	if err != nil {
		return nil, err
	}
	return ts.Datasets.Adopt(ctx, ds)
}

func (ts *toolset) describe(_ context.Context, _ mcp.CallToolRequest, in DatasetRef) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	ds, err := ts.Datasets.Dataset(in.DatasetID)
	if err != nil {
		return mcperr.New(mcperr.InvalidHandle, ""), nil
	}
	out := ts.info(in.DatasetID, ds)
	return structured(out, fmt.Sprintf("name=%s rows=%d columns=%d", out.Name, out.Rows, len(out.Columns)), schemaLines(out.Columns)), nil
}

func (ts *toolset) preview(_ context.Context, _ mcp.CallToolRequest, in PreviewDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	id, offset, size := in.DatasetID, 0, in.Rows
	var cur *pagination.Cursor
	if in.Cursor != "" {
		c, err := pagination.DecodeCursor(in.Cursor)
		if err != nil {
			return mcperr.New(mcperr.CursorInvalid, ""), nil
		}
		cur = c
		if id == "" {
			id = c.Did
		}
		offset, size = c.Off, c.Ps
	}
	ds, err := ts.Datasets.Dataset(id)
	if err != nil {
		return mcperr.New(mcperr.InvalidHandle, ""), nil
	}
	if cur != nil && !cur.Matches(id, ds.Rows()) {
		return mcperr.New(mcperr.CursorInvalid, "cursor was issued for a different dataset"), nil
	}
	if size <= 0 {
		size = ts.Limits.PreviewRowLimit
	}
	if ts.Limits.MaxPreviewRows > 0 && size > ts.Limits.MaxPreviewRows {
		size = ts.Limits.MaxPreviewRows
	}

	rows := ds.Window(offset, size)
	out := PreviewDatasetOutput{DatasetID: id, Rows: rows}
	for _, f := range ds.Schema() {
		out.Header = append(out.Header, f.Name)
	}
	out.Meta = PageMeta{Total: ds.Rows(), Offset: offset, Returned: len(rows)}
	next := pagination.NextOffset(offset, len(rows))
	if next < ds.Rows() {
		out.Meta.Truncated = true
		tok, err := pagination.EncodeCursor(pagination.Cursor{Did: id, Off: next, Ps: size, Rows: ds.Rows()})
		if err != nil {
			return mcperr.Wrapf(mcperr.PreviewFailed, "encode cursor: %v", err), nil
		}
		out.Meta.NextCursor = tok
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(out.Header, " | "))
	for _, r := range rows {
		lines = append(lines, strings.Join(r, " | "))
	}
	summary := fmt.Sprintf("rows %d-%d of %d truncated=%v", offset+1, offset+len(rows), out.Meta.Total, out.Meta.Truncated)
	return structured(out, summary, lines), nil
}

func (ts *toolset) run(ctx context.Context, _ mcp.CallToolRequest, in RunInstructionInput) (*mcp.CallToolResult, error) {
	if !ts.ExposeExecutor {
		return mcperr.New(mcperr.Validation, "run_instruction is disabled on this server; use ask_dataset"), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	ds, err := ts.Datasets.Dataset(in.DatasetID)
	if err != nil {
		return mcperr.New(mcperr.InvalidHandle, ""), nil
	}
	obs := ts.Executor.Execute(ctx, ds, in.Instruction)
	out := RunInstructionOutput{DatasetID: in.DatasetID, Instruction: in.Instruction, Observation: obs.String(), Truncated: obs.Truncated}
	if obs.Failed() {
		out.ErrorKind = string(obs.Err.Kind)
	}
	return structured(out, out.Observation, nil), nil
}

func (ts *toolset) ask(ctx context.Context, _ mcp.CallToolRequest, in AskDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	ds, err := ts.Datasets.Dataset(in.DatasetID)
	if err != nil {
		return mcperr.New(mcperr.InvalidHandle, ""), nil
	}
	creds := reasoning.Credentials{APIKey: in.APIKey}
	if creds.Empty() && ts.Credentials != nil {
		creds = ts.Credentials()
	}

	res, err := ts.Agent.Ask(ctx, ds, in.Question, creds)
	if err != nil {
		return askFailure(res, err), nil
	}

	out := AskDatasetOutput{
		SessionID:      res.SessionID.String(),
		State:          string(res.State),
		Answer:         res.Answer,
		BestEffort:     res.BestEffort,
		Iterations:     res.Iterations,
		ReasoningCalls: res.ReasoningCalls,
	}
	for _, s := range res.Transcript {
		sum := StepSummary{Kind: string(s.Kind), Instruction: s.Instruction, Malformed: s.Malformed, Answer: s.Answer}
		if s.Observation != nil {
			sum.Observation = s.Observation.String()
		}
		out.Steps = append(out.Steps, sum)
	}
	summary := res.Answer
	if res.BestEffort {
		summary = "(best effort after reaching the step limit) " + summary
	}
	return structured(out, summary, nil), nil
}

func (ts *toolset) close(ctx context.Context, _ mcp.CallToolRequest, in DatasetRef) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := ts.Datasets.CloseHandle(ctx, in.DatasetID); err != nil {
		return mcperr.New(mcperr.InvalidHandle, ""), nil
	}
	return structured(CloseDatasetOutput{Success: true}, "closed "+in.DatasetID, nil), nil
}

func (ts *toolset) info(id string, ds *dataset.Dataset) DatasetInfo {
	out := DatasetInfo{
		DatasetID:       id,
		Name:            ds.Name(),
		Rows:            ds.Rows(),
		PreviewRowLimit: ts.Limits.PreviewRowLimit,
		MaxIterations:   ts.Limits.MaxIterations,
	}
	for _, f := range ds.Schema() {
		out.Columns = append(out.Columns, ColumnInfo{Name: f.Name, Type: string(f.Type)})
	}
	return out
}

// structured attaches a concise text body for clients ignoring structured output.
func structured(out any, summary string, lines []string) *mcp.CallToolResult {
	text := summary
	if len(lines) > 0 {
		text = summary + "\n" + strings.Join(lines, "\n")
	}
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(text)}
	return res
}

func schemaLines(cols []ColumnInfo) []string {
	lines := make([]string, len(cols))
	for i, c := range cols {
		lines[i] = fmt.Sprintf("- %s (%s)", c.Name, c.Type)
	}
	return lines
}

func loadFailure(err error) *mcp.CallToolResult {
	var le *dataset.LoadError
	switch {
	case errors.Is(err, runtime.ErrDatasetLimit):
		return mcperr.New(mcperr.LimitExceeded, "open dataset limit reached; close a dataset first")
	case errors.Is(err, security.ErrUnsupportedExtension):
		return mcperr.New(mcperr.UnsupportedFormat, "")
	case errors.Is(err, security.ErrNotAllowed):
		return mcperr.New(mcperr.PermissionDenied, "path is outside the allowed directories")
	case errors.Is(err, security.ErrNotFound):
		return mcperr.New(mcperr.LoadFailed, "file not found")
	case errors.Is(err, dataset.ErrTooLarge):
		return mcperr.New(mcperr.FileTooLarge, "")
	case errors.Is(err, context.DeadlineExceeded):
		return mcperr.New(mcperr.BusyResource, "")
	case errors.As(err, &le):
		switch le.Reason {
		case dataset.ReasonEmpty:
			return mcperr.Wrapf(mcperr.EmptyDataset, "%s has no data rows", le.Source)
		case dataset.ReasonMalformed:
			return mcperr.Wrapf(mcperr.MalformedDataset, "%s", le.Error())
		}
	}
	return mcperr.Wrapf(mcperr.LoadFailed, "%v", err)
}

var failureCodes = map[agent.FailureKind]mcperr.Code{
	agent.FailureInvalidQuestion:      mcperr.InvalidRequest,
	agent.FailureNoDataset:            mcperr.InvalidHandle,
	agent.FailureMissingCredentials:   mcperr.MissingCredentials,
	agent.FailureTooManyParseErrors:   mcperr.AskFailed,
	agent.FailureReasoningTimeout:     mcperr.Timeout,
	agent.FailureReasoningUnavailable: mcperr.ReasoningUnavailable,
	agent.FailureIterationCap:         mcperr.AskFailed,
	agent.FailureBusy:                 mcperr.BusyResource,
}

func askFailure(res agent.Result, err error) *mcp.CallToolResult {
	if res.State == agent.StateCancelled {
		if errors.Is(err, context.DeadlineExceeded) {
			return mcperr.New(mcperr.Timeout, "")
		}
		return mcperr.New(mcperr.Cancelled, "")
	}
	code, ok := failureCodes[res.Failure]
	if !ok {
		code = mcperr.AskFailed
	}
	return mcperr.Wrapf(code, "%s after %d steps (session %s)", res.Failure, res.Iterations, res.SessionID)
}
