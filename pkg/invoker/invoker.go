// Package invoker runs one JSON-RPC call against one freshly spawned tool
// server subprocess and normalizes every outcome into a Result. The request
// envelope is written to a scratch file whose path is appended to the
// server command's argv, avoiding argv length limits for large payloads.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds an invocation when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Kind classifies a failed invocation. Advisory surfaces (discovery) use
// it to shape their messages; the chain executor only looks at Success.
type Kind int

const (
	KindOK            Kind = iota
	KindServerError        // envelope carried a JSON-RPC error object
	KindCommandFailed      // subprocess exited non-zero
	KindTimeout            // subprocess exceeded its deadline
	KindSpawn              // spawn or I/O failure before/around execution
)

// Request is the JSON-RPC 2.0 envelope written to the scratch file.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

// Params carries the tool name and arguments of a tools/call request.
// Both fields are empty for tools/list.
type Params struct {
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewToolCall builds a tools/call request for one named function.
func NewToolCall(toolName string, arguments map[string]any) *Request {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return &Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  Params{Name: toolName, Arguments: arguments},
	}
}

// NewToolsList builds the fixed list-functions request used by discovery.
func NewToolsList() *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/list",
	}
}

// Result is the normalized outcome of one invocation. Exactly one of the
// success/error shapes is populated; Output always carries raw stdout.
type Result struct {
	Success bool
	Result  any
	Error   string
	Output  string
	Kind    Kind
}

// Invoker abstracts real vs fake subprocess invocation.
// Implementations: RealInvoker, plus test fakes in package engine.
type Invoker interface {
	Invoke(ctx context.Context, serverCommand string, req *Request, timeout time.Duration) *Result
}

// RealInvoker spawns server commands via os/exec.
type RealInvoker struct{}

// rpcEnvelope is the response shape read from the child's stdout.
type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcError is a JSON-RPC error object. Code may arrive as int or string.
type rpcError struct {
	Code    int
	Message string
}

func (e *rpcError) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Message = aux.Message
	if len(aux.Code) > 0 {
		var codeInt int
		if err := json.Unmarshal(aux.Code, &codeInt); err == nil {
			e.Code = codeInt
		} else {
			var codeStr string
			if err := json.Unmarshal(aux.Code, &codeStr); err == nil {
				if parsed, perr := strconv.Atoi(codeStr); perr == nil {
					e.Code = parsed
				}
			}
		}
	}
	return nil
}

// Invoke writes the request to a scratch file, spawns serverCommand with
// the scratch path appended to its argv, and normalizes the outcome.
// The scratch file is removed on every exit path.
func (r *RealInvoker) Invoke(ctx context.Context, serverCommand string, req *Request, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	argv := strings.Fields(serverCommand)
	if len(argv) == 0 {
		return &Result{Error: "Execution error: empty server command", Kind: KindSpawn}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return &Result{Error: fmt.Sprintf("Execution error: %v", err), Kind: KindSpawn}
	}

	scratch, err := os.CreateTemp("", "chainer-call-*.json")
	if err != nil {
		return &Result{Error: fmt.Sprintf("Execution error: %v", err), Kind: KindSpawn}
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(payload); err != nil {
		scratch.Close()
		return &Result{Error: fmt.Sprintf("Execution error: %v", err), Kind: KindSpawn}
	}
	if err := scratch.Close(); err != nil {
		return &Result{Error: fmt.Sprintf("Execution error: %v", err), Kind: KindSpawn}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// CommandContext kills the child when the deadline fires, so a timed-out
	// invocation never leaks a process.
	cmd := exec.CommandContext(cctx, argv[0], append(argv[1:], scratchPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stdout.String()

	if cctx.Err() == context.DeadlineExceeded {
		return &Result{
			Error:  fmt.Sprintf("Server command timed out after %d seconds", int(timeout.Seconds())),
			Output: output,
			Kind:   KindTimeout,
		}
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "no error output"
			}
			return &Result{
				Error:  "Server command failed: " + msg,
				Output: output,
				Kind:   KindCommandFailed,
			}
		}
		return &Result{Error: fmt.Sprintf("Execution error: %v", runErr), Output: output, Kind: KindSpawn}
	}

	return parseResponse(output)
}

// parseResponse interprets the child's stdout. A well-formed envelope with
// an error object is a failure; one with a result is a success. Anything
// else — plain text or other well-formed JSON — is a permissive success
// with the raw text as the result. Servers under orchestration are not all
// strict JSON-RPC speakers; this fallback is deliberate.
func parseResponse(output string) *Result {
	var env rpcEnvelope
	if err := json.Unmarshal([]byte(output), &env); err == nil {
		if env.Error != nil {
			msg := env.Error.Message
			if msg == "" {
				msg = "Unknown error"
			}
			return &Result{Error: msg, Output: output, Kind: KindServerError}
		}
		if env.Result != nil {
			var value any
			if err := json.Unmarshal(env.Result, &value); err == nil {
				return &Result{Success: true, Result: value, Output: output, Kind: KindOK}
			}
		}
	}

	text := strings.TrimSpace(output)
	return &Result{Success: true, Result: text, Output: text, Kind: KindOK}
}
