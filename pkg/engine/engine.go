// Package engine implements the chainer's caller-facing operations:
// tool registration, chain definition, sequential chain execution, and
// the utility reads. Every operation returns a human-readable status
// string; validation problems are returned as errors before any
// mutation, while step failures during execution are expected outcomes
// reported inside the summary string.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/handley-lab/chainer/pkg/discovery"
	"github.com/handley-lab/chainer/pkg/interp"
	"github.com/handley-lab/chainer/pkg/invoker"
	"github.com/handley-lab/chainer/pkg/schema"
	"github.com/handley-lab/chainer/pkg/state"
)

// Engine holds the registry, chain store, and history behind one store
// value. No package-level mutable state.
type Engine struct {
	store *state.Store
	inv   invoker.Invoker
}

// New creates an engine over the given store and invoker.
func New(store *state.Store, inv invoker.Invoker) *Engine {
	return &Engine{store: store, inv: inv}
}

// RegisterTool validates and upserts a binding, then persists. A save
// failure is loud: the caller must know the registration is not durable.
// Re-registering a tool_id fully replaces the prior binding.
func (e *Engine) RegisterTool(toolID, serverCommand, toolName, description string, timeoutSeconds int) (string, error) {
	if strings.TrimSpace(toolID) == "" {
		return "", fmt.Errorf("tool_id is required")
	}
	if strings.TrimSpace(serverCommand) == "" {
		return "", fmt.Errorf("server_command is required")
	}
	if strings.TrimSpace(toolName) == "" {
		return "", fmt.Errorf("tool_name is required")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = schema.DefaultTimeoutSeconds
	}

	binding := schema.ToolBinding{
		ToolID:         toolID,
		ServerCommand:  serverCommand,
		ToolName:       toolName,
		Description:    description,
		TimeoutSeconds: timeoutSeconds,
	}

	if err := e.store.Mutate(func(st *schema.State) {
		st.Tools[toolID] = binding
	}); err != nil {
		return "", fmt.Errorf("save registration: %w", err)
	}

	return fmt.Sprintf("✓ Registered tool '%s': %s via %q (timeout %ds)",
		toolID, toolName, serverCommand, timeoutSeconds), nil
}

// RegisterBinding registers one binding from a bulk definition file.
func (e *Engine) RegisterBinding(b schema.ToolBinding) (string, error) {
	return e.RegisterTool(b.ToolID, b.ServerCommand, b.ToolName, b.Description, b.TimeoutSeconds)
}

// ChainTools validates and upserts a chain definition, then persists.
// Every step's tool_id must already be registered; the check happens only
// here, at definition time — execution resolves bindings late.
func (e *Engine) ChainTools(chainID string, steps []schema.ToolStep, saveToFile string) (string, error) {
	if strings.TrimSpace(chainID) == "" {
		return "", fmt.Errorf("chain_id is required")
	}
	if len(steps) == 0 {
		return "", fmt.Errorf("chain must have at least one step")
	}

	var unregistered error
	e.store.View(func(st *schema.State) {
		for i, step := range steps {
			if _, ok := st.Tools[step.ToolID]; !ok {
				unregistered = fmt.Errorf("step %d references unregistered tool '%s'", i+1, step.ToolID)
				return
			}
		}
	})
	if unregistered != nil {
		return "", unregistered
	}

	chain := schema.Chain{ChainID: chainID, Steps: steps, SaveToFile: saveToFile}
	if err := e.store.Mutate(func(st *schema.State) {
		st.Chains[chainID] = chain
	}); err != nil {
		return "", fmt.Errorf("save chain: %w", err)
	}

	return fmt.Sprintf("✓ Chain '%s' defined with %d steps", chainID, len(steps)), nil
}

// ExecuteChain walks a chain's steps in order. A false condition skips
// the step; any invocation failure or unevaluable condition aborts the
// chain immediately. The summary always states the executed/total ratio
// and, on failure, the failing step's number and reason.
//
// timeoutSeconds > 0 overrides every binding's stored timeout for this
// call; otherwise each step uses its binding's default.
func (e *Engine) ExecuteChain(ctx context.Context, chainID string, timeoutSeconds int, baseVariables map[string]any) (string, error) {
	var chain schema.Chain
	var found bool
	e.store.View(func(st *schema.State) {
		chain, found = st.Chains[chainID]
	})
	if !found {
		return "", fmt.Errorf("Chain '%s' not found", chainID)
	}

	variables := make(map[string]any, len(baseVariables))
	for k, v := range baseVariables {
		variables[k] = v
	}
	outputs := make(map[string]any)

	record := schema.ExecutionRecord{
		ChainID:    chainID,
		StepsTotal: len(chain.Steps),
		StartedAt:  time.Now(),
	}

	var lastResult any
	var produced bool

	for i, step := range chain.Steps {
		if step.Condition != "" {
			matched, err := interp.EvaluateCondition(step.Condition, variables, outputs)
			if err != nil {
				return e.failChain(&record, i, fmt.Sprintf("condition error: %v", err)), nil
			}
			if !matched {
				fmt.Fprintf(os.Stderr, "⊘ Step %d/%d skipped (condition: %s → false)\n",
					i+1, len(chain.Steps), step.Condition)
				continue
			}
		}

		args, _ := interp.Substitute(step.Arguments, variables, outputs).(map[string]any)

		// Late binding: resolve from the registry at execution time, so a
		// re-registered tool_id picks up its newest binding and a removed
		// one surfaces as an invocation failure, not a lookup panic.
		var binding schema.ToolBinding
		var bound bool
		e.store.View(func(st *schema.State) {
			binding, bound = st.Tools[step.ToolID]
		})
		if !bound {
			return e.failChain(&record, i, fmt.Sprintf("tool '%s' is not registered", step.ToolID)), nil
		}

		timeout := effectiveTimeout(timeoutSeconds, binding.TimeoutSeconds)
		fmt.Fprintf(os.Stderr, "▶ Step %d/%d: %s (%s)\n", i+1, len(chain.Steps), step.ToolID, binding.ToolName)

		res := e.inv.Invoke(ctx, binding.ServerCommand, invoker.NewToolCall(binding.ToolName, args), timeout)
		if !res.Success {
			return e.failChain(&record, i, res.Error), nil
		}

		record.StepsExecuted++
		lastResult = res.Result
		produced = true
		if step.OutputTo != "" {
			outputs[step.OutputTo] = res.Result
		}
		fmt.Fprintf(os.Stderr, "  ✓ Step %d passed\n", i+1)
	}

	if chain.SaveToFile != "" && produced {
		if err := os.WriteFile(chain.SaveToFile, []byte(interp.Stringify(lastResult)), 0644); err != nil {
			// An export failure must not mask a successful execution.
			record.SaveError = err.Error()
		}
	}

	record.Outcome = schema.OutcomeSuccess
	record.EndedAt = time.Now()
	e.appendHistory(record)

	summary := fmt.Sprintf("✅ Success: chain '%s' completed %d/%d steps",
		chainID, record.StepsExecuted, record.StepsTotal)
	if chain.SaveToFile != "" && produced {
		if record.SaveError != "" {
			summary += fmt.Sprintf("\nWarning: failed to save result to %s: %s", chain.SaveToFile, record.SaveError)
		} else {
			summary += fmt.Sprintf("\nResult saved to %s", chain.SaveToFile)
		}
	}
	return summary, nil
}

// failChain finalizes a failed run: records the failing step, persists
// history, and builds the failure summary.
func (e *Engine) failChain(record *schema.ExecutionRecord, stepIndex int, errMsg string) string {
	idx := stepIndex
	record.Outcome = schema.OutcomeFailure
	record.FailingStepIndex = &idx
	record.ErrorMessage = errMsg
	record.EndedAt = time.Now()
	e.appendHistory(*record)

	fmt.Fprintf(os.Stderr, "  ✗ Step %d failed: %s\n", stepIndex+1, errMsg)
	return fmt.Sprintf("❌ Failed: chain '%s' stopped at %d/%d steps\nStep %d failed: %s",
		record.ChainID, record.StepsExecuted, record.StepsTotal, stepIndex+1, errMsg)
}

// appendHistory persists the record. A save failure here is absorbed —
// a bookkeeping problem must not change the reported outcome of a run
// that already happened.
func (e *Engine) appendHistory(record schema.ExecutionRecord) {
	if err := e.store.Mutate(func(st *schema.State) {
		st.History = append(st.History, record)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist history: %v\n", err)
	}
}

// effectiveTimeout applies the precedence: explicit per-call override,
// then the binding's stored default, then the hard 30s fallback.
func effectiveTimeout(overrideSeconds, bindingSeconds int) time.Duration {
	switch {
	case overrideSeconds > 0:
		return time.Duration(overrideSeconds) * time.Second
	case bindingSeconds > 0:
		return time.Duration(bindingSeconds) * time.Second
	default:
		return invoker.DefaultTimeout
	}
}

// DiscoverTools lists the functions a candidate server command exposes.
// Always returns a descriptive string — discovery is advisory.
func (e *Engine) DiscoverTools(ctx context.Context, serverCommand string, timeoutSeconds int) string {
	if strings.TrimSpace(serverCommand) == "" {
		return "Discovery error: server_command is required"
	}
	timeout := effectiveTimeout(timeoutSeconds, 0)
	return discovery.DiscoverTools(ctx, e.inv, serverCommand, timeout)
}

// ShowHistory renders the persisted execution records, oldest first.
func (e *Engine) ShowHistory() string {
	var records []schema.ExecutionRecord
	e.store.View(func(st *schema.State) {
		records = append(records, st.History...)
	})
	if len(records) == 0 {
		return "no executions found"
	}

	var b strings.Builder
	for i, r := range records {
		glyph := "✅"
		if r.Outcome == schema.OutcomeFailure {
			glyph = "❌"
		}
		fmt.Fprintf(&b, "%d. %s chain '%s' — %d/%d steps", i+1, glyph, r.ChainID, r.StepsExecuted, r.StepsTotal)
		if r.FailingStepIndex != nil {
			fmt.Fprintf(&b, " (step %d failed: %s)", *r.FailingStepIndex+1, r.ErrorMessage)
		}
		if r.SaveError != "" {
			fmt.Fprintf(&b, " [save warning: %s]", r.SaveError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ClearCache resets tools, chains, and history to empty and persists.
// Always reports success; a save failure only warns.
func (e *Engine) ClearCache() string {
	if err := e.store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist cleared state: %v\n", err)
	}
	return "✓ Cache cleared: 0 tools, 0 chains, 0 history entries"
}

// ServerInfo reports store counts plus a readiness flag.
func (e *Engine) ServerInfo() string {
	var tools, chains, history int
	e.store.View(func(st *schema.State) {
		tools = len(st.Tools)
		chains = len(st.Chains)
		history = len(st.History)
	})
	return fmt.Sprintf("Tool chainer status: ready\nTools registered: %d\nChains defined: %d\nHistory entries: %d\nState file: %s",
		tools, chains, history, e.store.Path())
}

// History returns a copy of the persisted execution records for
// programmatic consumers (CLI rendering).
func (e *Engine) History() []schema.ExecutionRecord {
	var records []schema.ExecutionRecord
	e.store.View(func(st *schema.State) {
		records = append(records, st.History...)
	})
	return records
}

// Counts returns the store section sizes for programmatic consumers.
func (e *Engine) Counts() (tools, chains, history int) {
	e.store.View(func(st *schema.State) {
		tools = len(st.Tools)
		chains = len(st.Chains)
		history = len(st.History)
	})
	return
}
