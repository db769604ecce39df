// mock-executor is a test helper binary that plays a remote recipe
// executor over stdio. Every submitted command completes, except commands
// of kind Broken, which fail and turn the operation into ERROR.
//
//go:build ignore

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
}

func main() {
	fmt.Fprintln(os.Stderr, "mock-executor: listening")

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := response{JSONRPC: "2.0", ID: req.ID}
		var steps []map[string][]map[string]any
		switch req.Method {
		case "initialize", "shutdown":
			resp.Result = map[string]any{}
		case "createOperation":
			var params struct {
				Commands string `json:"commands"`
			}
			json.Unmarshal(req.Params, &params)
			if err := json.Unmarshal([]byte(params.Commands), &steps); err != nil {
				resp.Error = map[string]any{"code": -32602, "message": err.Error()}
				break
			}
			resp.Result = map[string]any{"id": "op-1"}
		default:
			resp.Error = map[string]any{
				"code":    -32601,
				"message": fmt.Sprintf("method %q not found", req.Method),
			}
		}
		out.Encode(resp)

		switch {
		case req.Method == "shutdown":
			os.Exit(0)
		case req.Method == "createOperation" && steps != nil:
			run(out, steps)
		}
	}
}

func run(out *json.Encoder, steps []map[string][]map[string]any) {
	state := "SUCCESS"
	for _, step := range steps {
		for kind, cmds := range step {
			for _, c := range cmds {
				if kind == "Broken" {
					c["state"] = "error"
					c["error"] = "broken on purpose"
					state = "ERROR"
					continue
				}
				c["state"] = "complete"
			}
		}
	}
	data, _ := json.Marshal(steps)
	notify(out, "RUNNING", string(data))
	notify(out, state, "")
}

func notify(out *json.Encoder, state, data string) {
	out.Encode(map[string]any{
		"jsonrpc": "2.0",
		"method":  "operation",
		"params":  map[string]any{"state": state, "data": data},
	})
}
