package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// TransportError reports a failure talking to the remote executor.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrClosed is returned once the executor stopped sending updates.
var ErrClosed = errors.New("transport closed")

// Transport carries a command list to an executor and its updates back.
type Transport interface {
	// Submit starts a run over the serialised command list.
	Submit(ctx context.Context, commands string) error
	// Next blocks for the next update. It returns ErrClosed when the
	// executor stops.
	Next(ctx context.Context) (Operation, error)
	Close() error
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is a response (ID set) or a notification (Method set).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	methodInitialize      = "initialize"
	methodCreateOperation = "createOperation"
	methodShutdown        = "shutdown"
	notifyOperation       = "operation"

	shutdownTimeout = 5 * time.Second
)

// StdioTransport talks JSON-RPC 2.0 to a child process over its stdin and
// stdout, one message per line. Runs are submitted with a createOperation
// request; progress arrives as operation notifications.
type StdioTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex // serialises calls
	nextID    *atomic.Int64
	responses chan rpcMessage
	updates   chan Operation
	readErr   error
	closeOnce sync.Once
}

// NewStdioTransport prepares a transport for command. Call Start before use.
func NewStdioTransport(command string, args ...string) *StdioTransport {
	t := newTransport()
	t.cmd = exec.Command(command, args...)
	return t
}

func newTransport() *StdioTransport {
	return &StdioTransport{
		nextID:    atomic.NewInt64(0),
		responses: make(chan rpcMessage, 1),
		updates:   make(chan Operation, 64),
	}
}

// newPipeTransport wires a transport to an already running peer.
func newPipeTransport(r io.Reader, w io.WriteCloser) *StdioTransport {
	t := newTransport()
	t.stdin = w
	go t.read(r)
	return t
}

// Start spawns the executor and performs the initialize handshake.
func (t *StdioTransport) Start(ctx context.Context) error {
	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return &TransportError{Op: "start", Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Op: "start", Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	if err := t.cmd.Start(); err != nil {
		return &TransportError{Op: "start", Err: err}
	}
	t.stdin = stdin
	go t.read(stdout)

	if _, err := t.call(ctx, methodInitialize, map[string]any{"protocol_version": "1"}); err != nil {
		_ = t.cmd.Process.Kill()
		return err
	}
	return nil
}

// Submit sends createOperation with the command list.
func (t *StdioTransport) Submit(ctx context.Context, commands string) error {
	_, err := t.call(ctx, methodCreateOperation, map[string]any{"commands": commands})
	return err
}

// Next returns the next operation notification.
func (t *StdioTransport) Next(ctx context.Context) (Operation, error) {
	select {
	case op, ok := <-t.updates:
		if !ok {
			return Operation{}, t.closedErr("next")
		}
		return op, nil
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}
}

// Close asks the executor to shut down and waits for it to exit.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.stdin == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_, _ = t.call(ctx, methodShutdown, map[string]any{})
		cancel()
		_ = t.stdin.Close()
		if t.cmd != nil && t.cmd.Process != nil {
			err = t.cmd.Wait()
		}
	})
	return err
}

func (t *StdioTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID.Inc()
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, &TransportError{Op: method, Err: fmt.Errorf("marshal request: %w", err)}
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return nil, &TransportError{Op: method, Err: fmt.Errorf("write request: %w", err)}
	}

	for {
		select {
		case resp, ok := <-t.responses:
			if !ok {
				return nil, t.closedErr(method)
			}
			if *resp.ID != id {
				continue
			}
			if resp.Error != nil {
				return nil, &TransportError{Op: method, Err: fmt.Errorf("executor error %d: %s", resp.Error.Code, resp.Error.Message)}
			}
			return resp.Result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *StdioTransport) read(r io.Reader) {
	defer func() {
		close(t.responses)
		close(t.updates)
	}()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		switch {
		case msg.ID != nil:
			t.responses <- msg
		case msg.Method == notifyOperation:
			var op Operation
			if err := json.Unmarshal(msg.Params, &op); err != nil {
				continue
			}
			t.updates <- op
		}
	}
	t.readErr = scanner.Err()
}

func (t *StdioTransport) closedErr(op string) error {
	if t.readErr != nil {
		return &TransportError{Op: op, Err: t.readErr}
	}
	return &TransportError{Op: op, Err: ErrClosed}
}
