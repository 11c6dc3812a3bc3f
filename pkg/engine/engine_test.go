package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/handley-lab/chainer/pkg/invoker"
	"github.com/handley-lab/chainer/pkg/schema"
	"github.com/handley-lab/chainer/pkg/state"
)

// scriptedInvoker serves canned results keyed by tool name and records
// every invocation for assertions.
type scriptedInvoker struct {
	results map[string]*invoker.Result
	calls   []recordedCall
}

type recordedCall struct {
	serverCommand string
	toolName      string
	arguments     map[string]any
	timeout       time.Duration
}

func (f *scriptedInvoker) Invoke(_ context.Context, serverCommand string, req *invoker.Request, timeout time.Duration) *invoker.Result {
	f.calls = append(f.calls, recordedCall{
		serverCommand: serverCommand,
		toolName:      req.Params.Name,
		arguments:     req.Params.Arguments,
		timeout:       timeout,
	})
	if res, ok := f.results[req.Params.Name]; ok {
		return res
	}
	return &invoker.Result{Success: true, Result: "ok"}
}

func okResult(v any) *invoker.Result {
	return &invoker.Result{Success: true, Result: v}
}

func newTestEngine(t *testing.T, inv invoker.Invoker) *Engine {
	t.Helper()
	return New(state.Open(filepath.Join(t.TempDir(), "state.json")), inv)
}

func mustRegister(t *testing.T, e *Engine, toolID, toolName string) {
	t.Helper()
	if _, err := e.RegisterTool(toolID, "python "+toolID+".py", toolName, "", 0); err != nil {
		t.Fatalf("RegisterTool(%s): %v", toolID, err)
	}
}

func mustChain(t *testing.T, e *Engine, chainID string, steps []schema.ToolStep) {
	t.Helper()
	if _, err := e.ChainTools(chainID, steps, ""); err != nil {
		t.Fatalf("ChainTools(%s): %v", chainID, err)
	}
}

func TestRegisterToolValidation(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})

	cases := []struct {
		toolID, serverCommand, toolName string
		wantErr                         string
	}{
		{"", "cmd", "name", "tool_id is required"},
		{"id", " ", "name", "server_command is required"},
		{"id", "cmd", "", "tool_name is required"},
	}
	for _, tt := range cases {
		_, err := e.RegisterTool(tt.toolID, tt.serverCommand, tt.toolName, "", 0)
		if err == nil || err.Error() != tt.wantErr {
			t.Errorf("RegisterTool(%q,%q,%q) error = %v, want %q", tt.toolID, tt.serverCommand, tt.toolName, err, tt.wantErr)
		}
	}
}

func TestRegisterToolDefaultsTimeout(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	msg, err := e.RegisterTool("echo", "python server.py", "echo", "Echo tool", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "timeout 30s") {
		t.Errorf("message = %q, want default 30s timeout reported", msg)
	}
}

func TestRegisterToolReplacesBinding(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "echo", "echo_v1")
	if _, err := e.RegisterTool("echo", "python v2.py", "echo_v2", "", 45); err != nil {
		t.Fatal(err)
	}

	tools, _, _ := e.Counts()
	if tools != 1 {
		t.Errorf("tools = %d, want 1 after re-registration", tools)
	}
}

func TestChainToolsRejectsUnregistered(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "a", "a")

	_, err := e.ChainTools("c", []schema.ToolStep{
		{ToolID: "a"},
		{ToolID: "ghost"},
	}, "")
	if err == nil || err.Error() != "step 2 references unregistered tool 'ghost'" {
		t.Errorf("error = %v", err)
	}

	// the rejected chain must not be stored
	_, chains, _ := e.Counts()
	if chains != 0 {
		t.Errorf("chains = %d, want 0", chains)
	}
}

func TestChainToolsValidation(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	if _, err := e.ChainTools("", nil, ""); err == nil {
		t.Error("expected error for empty chain_id")
	}
	if _, err := e.ChainTools("c", nil, ""); err == nil {
		t.Error("expected error for empty steps")
	}
}

func TestExecuteChainSuccess(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"fetch": okResult("payload"),
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "fetch", "fetch")
	mustChain(t, e, "pipeline", []schema.ToolStep{
		{ToolID: "fetch", Arguments: map[string]any{"url": "http://x"}},
	})

	summary, err := e.ExecuteChain(context.Background(), "pipeline", 0, nil)
	if err != nil {
		t.Fatalf("ExecuteChain: %v", err)
	}
	if summary != "✅ Success: chain 'pipeline' completed 1/1 steps" {
		t.Errorf("summary = %q", summary)
	}

	history := e.History()
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history))
	}
	r := history[0]
	if r.Outcome != schema.OutcomeSuccess || r.StepsExecuted != 1 || r.StepsTotal != 1 || r.FailingStepIndex != nil {
		t.Errorf("record = %+v", r)
	}
}

func TestExecuteChainNotFound(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	_, err := e.ExecuteChain(context.Background(), "nope", 0, nil)
	if err == nil || err.Error() != "Chain 'nope' not found" {
		t.Errorf("error = %v", err)
	}
	if len(e.History()) != 0 {
		t.Error("a failed lookup must not write history")
	}
}

func TestExecuteChainConditionalSkip(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"check":  okResult("all tests passed"),
		"deploy": okResult("deployed"),
		"alert":  okResult("paged"),
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "check", "check")
	mustRegister(t, e, "deploy", "deploy")
	mustRegister(t, e, "alert", "alert")
	mustChain(t, e, "release", []schema.ToolStep{
		{ToolID: "check", OutputTo: "result"},
		{ToolID: "deploy", Condition: "{result} contains 'passed'"},
		{ToolID: "alert", Condition: "{result} contains 'failed'"},
	})

	summary, err := e.ExecuteChain(context.Background(), "release", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	// the alert step is skipped: 2 executed of 3 total, still a success
	if summary != "✅ Success: chain 'release' completed 2/3 steps" {
		t.Errorf("summary = %q", summary)
	}
	for _, c := range inv.calls {
		if c.toolName == "alert" {
			t.Error("skipped step was invoked")
		}
	}
}

func TestExecuteChainSubstitutesArguments(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"fetch":  okResult("the-data"),
		"upload": okResult("done"),
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "fetch", "fetch")
	mustRegister(t, e, "upload", "upload")
	mustChain(t, e, "pipe", []schema.ToolStep{
		{ToolID: "fetch", OutputTo: "data"},
		{ToolID: "upload", Arguments: map[string]any{
			"payload": "{data}",
			"bucket":  "{bucket}",
			"missing": "{nope}",
		}},
	})

	if _, err := e.ExecuteChain(context.Background(), "pipe", 0, map[string]any{"bucket": "prod"}); err != nil {
		t.Fatal(err)
	}

	var upload *recordedCall
	for i := range inv.calls {
		if inv.calls[i].toolName == "upload" {
			upload = &inv.calls[i]
		}
	}
	if upload == nil {
		t.Fatal("upload step never invoked")
	}
	if upload.arguments["payload"] != "the-data" {
		t.Errorf("payload = %v, want captured output", upload.arguments["payload"])
	}
	if upload.arguments["bucket"] != "prod" {
		t.Errorf("bucket = %v, want base variable", upload.arguments["bucket"])
	}
	if upload.arguments["missing"] != "{nope}" {
		t.Errorf("missing = %v, want literal placeholder", upload.arguments["missing"])
	}
}

func TestExecuteChainAbortsOnFailure(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"boom": {Success: false, Error: "Server command failed: oops"},
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "boom", "boom")
	mustRegister(t, e, "after", "after")
	mustChain(t, e, "c", []schema.ToolStep{
		{ToolID: "boom"},
		{ToolID: "after"},
	})

	summary, err := e.ExecuteChain(context.Background(), "c", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "❌ Failed: chain 'c' stopped at 0/2 steps\nStep 1 failed: Server command failed: oops"
	if summary != want {
		t.Errorf("summary = %q\nwant      %q", summary, want)
	}

	if len(inv.calls) != 1 {
		t.Errorf("%d invocations, want 1 — later steps must not run", len(inv.calls))
	}

	history := e.History()
	if len(history) != 1 {
		t.Fatalf("history entries = %d", len(history))
	}
	r := history[0]
	if r.Outcome != schema.OutcomeFailure || r.FailingStepIndex == nil || *r.FailingStepIndex != 0 {
		t.Errorf("record = %+v", r)
	}
	if r.ErrorMessage != "Server command failed: oops" {
		t.Errorf("error message = %q", r.ErrorMessage)
	}
}

func TestExecuteChainMalformedConditionFailsStep(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "a", "a")
	mustChain(t, e, "c", []schema.ToolStep{
		{ToolID: "a", Condition: "no operator here"},
	})

	summary, err := e.ExecuteChain(context.Background(), "c", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "Step 1 failed: condition error:") {
		t.Errorf("summary = %q", summary)
	}
}

func TestExecuteChainLateBinding(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "worker", "worker_v1")
	mustChain(t, e, "c", []schema.ToolStep{{ToolID: "worker"}})

	// re-register after the chain is defined; execution must see v2
	if _, err := e.RegisterTool("worker", "python v2.py", "worker_v2", "", 0); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ExecuteChain(context.Background(), "c", 0, nil); err != nil {
		t.Fatal(err)
	}
	if len(inv.calls) != 1 || inv.calls[0].toolName != "worker_v2" || inv.calls[0].serverCommand != "python v2.py" {
		t.Errorf("calls = %+v, want the re-registered binding", inv.calls)
	}
}

func TestExecuteChainRemovedBindingFails(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "worker", "worker")
	mustChain(t, e, "c", []schema.ToolStep{{ToolID: "worker"}})

	// simulate a binding removed between definition and execution
	if err := e.store.Mutate(func(st *schema.State) {
		delete(st.Tools, "worker")
	}); err != nil {
		t.Fatal(err)
	}

	summary, err := e.ExecuteChain(context.Background(), "c", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "Step 1 failed: tool 'worker' is not registered") {
		t.Errorf("summary = %q", summary)
	}
}

func TestExecuteChainTimeoutPrecedence(t *testing.T) {
	inv := &scriptedInvoker{}
	e := newTestEngine(t, inv)
	if _, err := e.RegisterTool("slow", "cmd", "slow", "", 90); err != nil {
		t.Fatal(err)
	}
	mustChain(t, e, "c", []schema.ToolStep{{ToolID: "slow"}})

	// binding default applies when no override is given
	if _, err := e.ExecuteChain(context.Background(), "c", 0, nil); err != nil {
		t.Fatal(err)
	}
	if inv.calls[0].timeout != 90*time.Second {
		t.Errorf("timeout = %v, want binding default 90s", inv.calls[0].timeout)
	}

	// the per-call override wins
	if _, err := e.ExecuteChain(context.Background(), "c", 5, nil); err != nil {
		t.Fatal(err)
	}
	if inv.calls[1].timeout != 5*time.Second {
		t.Errorf("timeout = %v, want override 5s", inv.calls[1].timeout)
	}
}

func TestExecuteChainSaveToFile(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"report": okResult(map[string]any{"total": 7.0}),
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "report", "report")

	out := filepath.Join(t.TempDir(), "result.json")
	if _, err := e.ChainTools("c", []schema.ToolStep{{ToolID: "report"}}, out); err != nil {
		t.Fatal(err)
	}

	summary, err := e.ExecuteChain(context.Background(), "c", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "Result saved to "+out) {
		t.Errorf("summary = %q", summary)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"total":7}` {
		t.Errorf("file contents = %q", data)
	}
}

func TestExecuteChainSaveFailureDoesNotFailRun(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"report": okResult("content"),
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "report", "report")

	badPath := filepath.Join(t.TempDir(), "missing-dir", "result.txt")
	if _, err := e.ChainTools("c", []schema.ToolStep{{ToolID: "report"}}, badPath); err != nil {
		t.Fatal(err)
	}

	summary, err := e.ExecuteChain(context.Background(), "c", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(summary, "✅ Success:") {
		t.Errorf("summary = %q, want success despite save failure", summary)
	}
	if !strings.Contains(summary, "Warning: failed to save result to "+badPath) {
		t.Errorf("summary = %q, want save warning", summary)
	}

	history := e.History()
	if len(history) != 1 || history[0].Outcome != schema.OutcomeSuccess || history[0].SaveError == "" {
		t.Errorf("record = %+v, want success with save_error set", history[0])
	}
}

func TestShowHistoryEmpty(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	if got := e.ShowHistory(); got != "no executions found" {
		t.Errorf("got %q", got)
	}
}

func TestShowHistoryOrderAndDetail(t *testing.T) {
	inv := &scriptedInvoker{results: map[string]*invoker.Result{
		"bad": {Success: false, Error: "boom"},
	}}
	e := newTestEngine(t, inv)
	mustRegister(t, e, "good", "good")
	mustRegister(t, e, "bad", "bad")
	mustChain(t, e, "first", []schema.ToolStep{{ToolID: "good"}})
	mustChain(t, e, "second", []schema.ToolStep{{ToolID: "bad"}})

	if _, err := e.ExecuteChain(context.Background(), "first", 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExecuteChain(context.Background(), "second", 0, nil); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(e.ShowHistory(), "\n")
	if len(lines) != 2 {
		t.Fatalf("history lines = %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "chain 'first'") || !strings.Contains(lines[0], "1/1") {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "chain 'second'") || !strings.Contains(lines[1], "step 1 failed: boom") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestClearCache(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "a", "a")
	mustChain(t, e, "c", []schema.ToolStep{{ToolID: "a"}})
	if _, err := e.ExecuteChain(context.Background(), "c", 0, nil); err != nil {
		t.Fatal(err)
	}

	if got := e.ClearCache(); got != "✓ Cache cleared: 0 tools, 0 chains, 0 history entries" {
		t.Errorf("got %q", got)
	}
	tools, chains, history := e.Counts()
	if tools != 0 || chains != 0 || history != 0 {
		t.Errorf("counts after clear = %d/%d/%d", tools, chains, history)
	}
	if !strings.Contains(e.ServerInfo(), "Tools registered: 0") {
		t.Errorf("info = %q", e.ServerInfo())
	}
}

func TestServerInfo(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	mustRegister(t, e, "a", "a")

	info := e.ServerInfo()
	for _, want := range []string{
		"Tool chainer status: ready",
		"Tools registered: 1",
		"Chains defined: 0",
		"History entries: 0",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("info missing %q:\n%s", want, info)
		}
	}
}

func TestDiscoverToolsEmptyCommand(t *testing.T) {
	e := newTestEngine(t, &scriptedInvoker{})
	if got := e.DiscoverTools(context.Background(), "  ", 0); got != "Discovery error: server_command is required" {
		t.Errorf("got %q", got)
	}
}
