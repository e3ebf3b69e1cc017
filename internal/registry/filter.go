package registry

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vinodismyname/datasavant/config"
)

// ExecutorToolFilter hides the raw instruction tool unless explicitly enabled,
// so clients go through ask_dataset by default.
// Enable by setting SAVANT_EXPOSE_EXECUTOR=true.
type ExecutorToolFilter struct {
	exposeExecutor bool
}

// NewExecutorToolFilter builds a filter with an explicit setting.
func NewExecutorToolFilter(expose bool) *ExecutorToolFilter {
	return &ExecutorToolFilter{exposeExecutor: expose}
}

// NewExecutorToolFilterFromEnv constructs a filter using SAVANT_EXPOSE_EXECUTOR.
func NewExecutorToolFilterFromEnv() *ExecutorToolFilter {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(config.EnvExposeExecutor)))
	return NewExecutorToolFilter(v == "1" || v == "true" || v == "yes")
}

// Exposed reports whether run_instruction is visible.
func (f *ExecutorToolFilter) Exposed() bool { return f.exposeExecutor }

// FilterTools implements server tool filtering semantics.
func (f *ExecutorToolFilter) FilterTools(_ context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.exposeExecutor {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Name == ToolRunInstruction {
			continue
		}
		out = append(out, t)
	}
	return out
}
