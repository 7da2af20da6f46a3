// Package tools defines the named capabilities the orchestrator can
// invoke and the registry that dispatches them. Each tool validates its
// arguments, executes under a deadline, and returns a result map; the
// registry records timing and classifies failures.
package tools

import (
	"context"
	"time"

	"uniassist/internal/errkind"
)

// Type identifies a tool.
type Type string

const (
	TypeUseRAGContext   Type = "use_rag_context"
	TypeSearchWeb       Type = "search_web"
	TypeAnswerDirectly  Type = "answer_directly"
	TypeFillForm        Type = "fill_form"
	TypeClarifyQuestion Type = "clarify_question"
	TypeAnalyzeImage    Type = "analyze_image"
)

// Execution statuses of a tool call.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Args is the argument map passed to a tool.
type Args map[string]any

// String reads a string argument, empty when absent or mistyped.
func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Float reads a numeric argument.
func (a Args) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// StringSlice reads a list-of-strings argument, tolerating []any.
func (a Args) StringSlice(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExecuteFunc runs a tool and returns its result map.
type ExecuteFunc func(ctx context.Context, args Args) (map[string]any, error)

// ValidateFunc rejects malformed arguments before execution.
type ValidateFunc func(args Args) error

// Tool is one registered capability.
type Tool struct {
	Type        Type
	Description string
	Validate    ValidateFunc
	Execute     ExecuteFunc
}

// Call records one tool execution.
type Call struct {
	Type            Type
	Arguments       Args
	Status          string
	Result          map[string]any
	Error           string
	ErrorKind       errkind.Kind
	ExecutionTimeMs int64
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Succeeded reports whether the call completed without error.
func (c *Call) Succeeded() bool { return c.Status == StatusSucceeded }
