// mock-tool-server is a manual-testing helper that speaks the chainer's
// per-call protocol: it reads one JSON-RPC request from the file path
// given as its last argument and writes the response to stdout.
//
// Usage: chainer register echo "go run testdata/tools/mock-tool-server.go" echo
//
//go:build ignore

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"params"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mock-tool-server <request-file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[len(os.Args)-1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read request: %v\n", err)
		os.Exit(1)
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "decode request: %v\n", err)
		os.Exit(1)
	}

	resp := response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "tools/list":
		resp.Result = map[string]interface{}{
			"tools": []map[string]interface{}{
				{"name": "echo", "description": "Echo back the message argument"},
				{"name": "query", "description": "Return fixed test data"},
				{"name": "failing"},
			},
		}

	case "tools/call":
		switch req.Params.Name {
		case "echo":
			resp.Result = fmt.Sprintf("%v", req.Params.Arguments["message"])
		case "query":
			resp.Result = map[string]interface{}{"data": "mock-query-result", "count": 99}
		case "failing":
			resp.Error = map[string]interface{}{
				"code":    -32000,
				"message": "something went wrong",
			}
		default:
			resp.Error = map[string]interface{}{
				"code":    -32601,
				"message": fmt.Sprintf("unknown tool %q", req.Params.Name),
			}
		}

	default:
		resp.Error = map[string]interface{}{
			"code":    -32601,
			"message": fmt.Sprintf("method %q not found", req.Method),
		}
	}

	out, _ := json.Marshal(resp)
	fmt.Println(string(out))
}
