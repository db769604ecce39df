// Package queue runs recipe actions one at a time in the background.
//
// Actions of the same kind and merge key that have not started yet are
// folded together, so N package installs declared in a step become one
// install. The queue can be paused, in which case enqueued work still merges
// but nothing starts, and it reports every transition from busy to empty
// through drain handlers.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Entry is one named item of an action payload, e.g. a package name.
type Entry struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
}

// Action is a unit of background work.
type Action struct {
	ID       string
	Kind     string
	MergeKey string
	Payload  []Entry
	Step     int
	// OnStart is called when the run the action ended up part of begins.
	OnStart func()
	// OnDone is called once with the result of the run the action ended up
	// part of, or ErrCanceled/ErrClosed if it never ran.
	OnDone func(error)
}

// Names lists payload entry names in order.
func (a Action) Names() []string {
	out := make([]string, len(a.Payload))
	for i, e := range a.Payload {
		out[i] = e.Name
	}
	return out
}

// Kind describes how actions of one kind merge and run.
type Kind struct {
	// Key derives the merge key when Action.MergeKey is empty. Nil means
	// actions of this kind never merge.
	Key func(Action) string
	Run func(ctx context.Context, a Action) error
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Pending   int  `json:"pending"`
	Running   bool `json:"running"`
	Paused    bool `json:"paused"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Merged    int  `json:"merged"`
	Canceled  int  `json:"canceled"`
}

type item struct {
	action    Action
	starts    []func()
	callbacks []func(error)
}

// Queue is a single-flight, mergeable work queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	kinds   map[string]Kind
	pending []*item
	running *item
	paused  bool
	closed  bool
	dirty   bool // work accepted since the last drain
	drains  []func()
	stats   Stats

	started *atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithKind registers an action kind at construction.
func WithKind(name string, k Kind) Option {
	return func(q *Queue) { q.kinds[name] = k }
}

// New returns a paused queue. Call Start to launch the worker.
func New(opts ...Option) *Queue {
	q := &Queue{
		kinds:   make(map[string]Kind),
		paused:  true,
		started: atomic.NewBool(false),
		done:    make(chan struct{}),
		logger:  slog.New(slog.DiscardHandler),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register adds or replaces an action kind.
func (q *Queue) Register(name string, k Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.kinds[name] = k
}

// OnDrain registers cb to run each time the queue goes from having work to
// being empty while not paused.
func (q *Queue) OnDrain(cb func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drains = append(q.drains, cb)
}

// Start launches the worker. It stops when ctx is done or Close is called.
// Calling Start more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	context.AfterFunc(ctx, q.shutdown)
	go q.work(ctx)
}

// Enqueue adds a to the queue. If a pending action has the same kind and
// merge key, a's payload and completion handler are folded into it and
// merged is true.
func (q *Queue) Enqueue(a Action) (merged bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	k, ok := q.kinds[a.Kind]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, a.Kind)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.MergeKey == "" && k.Key != nil {
		a.MergeKey = k.Key(a)
	}
	q.dirty = true

	if a.MergeKey != "" {
		for _, it := range q.pending {
			if it.action.Kind != a.Kind || it.action.MergeKey != a.MergeKey {
				continue
			}
			it.action.Payload = union(it.action.Payload, a.Payload)
			if a.OnStart != nil {
				it.starts = append(it.starts, a.OnStart)
			}
			if a.OnDone != nil {
				it.callbacks = append(it.callbacks, a.OnDone)
			}
			q.stats.Merged++
			mergesTotal.WithLabelValues(a.Kind).Inc()
			q.logger.Debug("action merged", "kind", a.Kind, "key", a.MergeKey, "into", it.action.ID)
			return true, nil
		}
	}

	it := &item{action: a}
	if a.OnStart != nil {
		it.starts = append(it.starts, a.OnStart)
	}
	if a.OnDone != nil {
		it.callbacks = append(it.callbacks, a.OnDone)
	}
	q.pending = append(q.pending, it)
	pendingActions.Set(float64(len(q.pending)))
	q.logger.Debug("action queued", "kind", a.Kind, "id", a.ID, "key", a.MergeKey)
	q.cond.Signal()
	return false, nil
}

// Pause stops new actions from starting. A running action finishes.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume lets pending actions start. If the queue already emptied while
// paused, drain handlers run now.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	drains := q.drainedLocked()
	q.mu.Unlock()
	for _, cb := range drains {
		cb()
	}
}

// Cancel drops pending actions declared by step. Their handlers receive
// ErrCanceled. It returns the number of actions dropped.
func (q *Queue) Cancel(step int) int {
	q.mu.Lock()
	var dropped []*item
	kept := q.pending[:0]
	for _, it := range q.pending {
		if it.action.Step == step {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	q.pending = kept
	q.stats.Canceled += len(dropped)
	if len(q.pending) == 0 && q.running == nil {
		q.dirty = false
	}
	pendingActions.Set(float64(len(q.pending)))
	q.mu.Unlock()

	for _, it := range dropped {
		actionsTotal.WithLabelValues(it.action.Kind, "canceled").Inc()
		for _, cb := range it.callbacks {
			cb(ErrCanceled)
		}
	}
	return len(dropped)
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.Running = q.running != nil
	s.Paused = q.paused
	return s
}

// Close stops the worker after the running action, if any, and fails every
// pending action with ErrClosed.
func (q *Queue) Close() {
	q.shutdown()
	if q.started.Load() {
		<-q.done
	}
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, it := range pending {
		for _, cb := range it.callbacks {
			cb(ErrClosed)
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && (q.paused || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		q.running = it
		pendingActions.Set(float64(len(q.pending)))
		run := q.kinds[it.action.Kind].Run
		q.mu.Unlock()

		for _, cb := range it.starts {
			cb()
		}
		err := q.execute(ctx, run, it.action)

		q.mu.Lock()
		q.running = nil
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Completed++
		}
		drains := q.drainedLocked()
		q.mu.Unlock()

		for _, cb := range it.callbacks {
			cb(err)
		}
		for _, cb := range drains {
			cb()
		}
	}
}

func (q *Queue) execute(ctx context.Context, run func(context.Context, Action) error, a Action) (err error) {
	start := time.Now()
	q.logger.Info("action started", "kind", a.Kind, "id", a.ID, "items", a.Names())
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &ActionError{Kind: a.Kind, ActionID: a.ID, Err: err}
			q.logger.Warn("action failed", "kind", a.Kind, "id", a.ID, "error", err)
		} else {
			q.logger.Info("action complete", "kind", a.Kind, "id", a.ID, "elapsed", time.Since(start))
		}
		actionsTotal.WithLabelValues(a.Kind, outcome(err)).Inc()
		actionDuration.WithLabelValues(a.Kind).Observe(time.Since(start).Seconds())
	}()
	return run(ctx, a)
}

// drainedLocked returns the drain handlers to call if the queue just went
// idle.
func (q *Queue) drainedLocked() []func() {
	if !q.dirty || q.paused || q.closed || len(q.pending) > 0 || q.running != nil {
		return nil
	}
	q.dirty = false
	return append([]func(){}, q.drains...)
}

func union(have, add []Entry) []Entry {
	for _, e := range add {
		dup := false
		for _, h := range have {
			if h.Name == e.Name && reflect.DeepEqual(h.Value, e.Value) {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, e)
		}
	}
	return have
}
