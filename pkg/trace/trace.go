// Package trace writes an append-only JSONL record of a recipe run.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunComplete     EventType = "run_complete"
	EventStepStart       EventType = "step_start"
	EventStepComplete    EventType = "step_complete"
	EventCommandSettled  EventType = "command_settled"
	EventUserConfirm     EventType = "user_confirm"
	EventRemoteOperation EventType = "remote_operation"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream. It is safe for
// concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
	enc   *json.Encoder
	start time.Time
}

// NewWriter creates a trace writer that writes to w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
		start: time.Now(),
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewWriter(f, runID), nil
}

// RunID returns the run identifier stamped on every event.
func (tw *Writer) RunID() string { return tw.runID }

// Close closes the underlying stream if it is closable.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	return tw.enc.Encode(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	})
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(recipe string, steps int) error {
	return tw.Emit(EventRunStart, map[string]any{
		"recipe": recipe,
		"steps":  steps,
	})
}

// EmitStepStart emits a step_start event listing the commands activated.
func (tw *Writer) EmitStepStart(step int, commands []string) error {
	data := map[string]any{"step": step}
	if len(commands) > 0 {
		data["commands"] = commands
	}
	return tw.Emit(EventStepStart, data)
}

// EmitCommandSettled emits a command_settled event.
func (tw *Writer) EmitCommandSettled(step int, id, state, errMsg string) error {
	data := map[string]any{
		"step":    step,
		"command": id,
		"state":   state,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return tw.Emit(EventCommandSettled, data)
}

// EmitUserConfirm emits a user_confirm event.
func (tw *Writer) EmitUserConfirm(step int, key string) error {
	return tw.Emit(EventUserConfirm, map[string]any{
		"step": step,
		"key":  key,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(step int, summary string, duration time.Duration) error {
	return tw.Emit(EventStepComplete, map[string]any{
		"step":     step,
		"summary":  summary,
		"duration": duration.String(),
	})
}

// EmitRunComplete emits a run_complete event with the step summaries.
func (tw *Writer) EmitRunComplete(status string, summaries []string) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"status":    status,
		"summaries": summaries,
		"duration":  time.Since(tw.start).String(),
	})
}

// EmitRemoteOperation emits a remote_operation event for one executor update.
func (tw *Writer) EmitRemoteOperation(state string, size int) error {
	return tw.Emit(EventRemoteOperation, map[string]any{
		"state": state,
		"bytes": size,
	})
}

// ReadFile reads every event of a JSONL trace file.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a JSONL trace stream.
func Read(r io.Reader) ([]Event, error) {
	var events []Event
	dec := json.NewDecoder(r)
	for {
		var evt Event
		err := dec.Decode(&evt)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode trace event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
}
