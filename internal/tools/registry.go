package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"uniassist/internal/errkind"
)

// Registry holds the available tools. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[Type]*Tool
	timeout time.Duration
	log     *zap.Logger
}

// NewRegistry creates an empty registry. timeout bounds every Execute
// call; values <= 0 default to 15s.
func NewRegistry(timeout time.Duration, log *zap.Logger) *Registry {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{tools: make(map[Type]*Tool), timeout: timeout, log: log}
}

// Register adds a tool. Re-registering a type is an error.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Type == "" || tool.Execute == nil {
		return errkind.Errorf(errkind.InvalidInput, "tool requires a type and an execute func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Type]; exists {
		return errkind.Errorf(errkind.Conflict, "tool %q already registered", tool.Type)
	}
	r.tools[tool.Type] = tool
	return nil
}

// MustRegister registers a tool and panics on error. For composition-root
// wiring at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Type, err))
	}
}

// Has reports whether a tool type is registered.
func (r *Registry) Has(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[t]
	return ok
}

// Types lists the registered tool types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.tools))
	for t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute validates and runs one tool under the registry deadline. The
// returned Call is always non-nil; failures are recorded on it rather
// than panicking upward.
func (r *Registry) Execute(ctx context.Context, t Type, args Args) *Call {
	call := &Call{Type: t, Arguments: args, Status: StatusPending, StartedAt: time.Now()}

	r.mu.RLock()
	tool, ok := r.tools[t]
	r.mu.RUnlock()
	if !ok {
		r.fail(call, errkind.Errorf(errkind.NotFound, "tool %q not registered", t))
		return call
	}
	if tool.Validate != nil {
		if err := tool.Validate(args); err != nil {
			r.fail(call, err)
			return call
		}
	}

	call.Status = StatusRunning
	toolCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, args)
	call.CompletedAt = time.Now()
	call.ExecutionTimeMs = call.CompletedAt.Sub(call.StartedAt).Milliseconds()
	if err != nil {
		if toolCtx.Err() == context.DeadlineExceeded {
			err = errkind.E(errkind.Timeout, fmt.Sprintf("tool %s exceeded its deadline", t), err)
		}
		call.Status = StatusFailed
		call.Error = err.Error()
		call.ErrorKind = errkind.KindOf(err)
		r.log.Warn("tool failed",
			zap.String("tool", string(t)),
			zap.String("kind", string(call.ErrorKind)),
			zap.Int64("elapsed_ms", call.ExecutionTimeMs),
			zap.Error(err))
		return call
	}

	call.Status = StatusSucceeded
	call.Result = result
	r.log.Debug("tool completed",
		zap.String("tool", string(t)),
		zap.Int64("elapsed_ms", call.ExecutionTimeMs))
	return call
}

func (r *Registry) fail(call *Call, err error) {
	call.CompletedAt = time.Now()
	call.Status = StatusFailed
	call.Error = err.Error()
	call.ErrorKind = errkind.KindOf(err)
}
