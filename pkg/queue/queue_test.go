package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	runs [][]string
}

func (r *recorder) run(_ context.Context, a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, a.Names())
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.runs...)
}

func installKind(run func(context.Context, Action) error) Kind {
	return Kind{
		Key: func(a Action) string { return "yarn" },
		Run: run,
	}
}

func newQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q := New(append([]Option{WithLogger(slogt.New(t))}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		q.Close()
	})
	q.Start(ctx)
	return q
}

func install(names ...string) Action {
	a := Action{Kind: "install"}
	for _, n := range names {
		a.Payload = append(a.Payload, Entry{Name: n})
	}
	return a
}

func TestQueue_MergesBeforeStart(t *testing.T) {
	rec := &recorder{}
	q := newQueue(t, WithKind("install", installKind(rec.run)))

	var mu sync.Mutex
	var results []error
	done := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, err)
	}
	drained := make(chan struct{}, 4)
	q.OnDrain(func() { drained <- struct{}{} })

	a := install("left-pad")
	a.OnDone = done
	b := install("right-pad")
	b.OnDone = done

	merged, err := q.Enqueue(a)
	require.NoError(t, err)
	assert.False(t, merged)
	merged, err = q.Enqueue(b)
	require.NoError(t, err)
	assert.True(t, merged)

	q.Resume()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	assert.Equal(t, [][]string{{"left-pad", "right-pad"}}, rec.snapshot())
	mu.Lock()
	assert.Equal(t, []error{nil, nil}, results)
	mu.Unlock()

	st := q.Stats()
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Merged)
	assert.Len(t, drained, 0)
}

func TestQueue_DoesNotMergeIntoRunningAction(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	q := newQueue(t, WithKind("install", installKind(func(ctx context.Context, a Action) error {
		started <- struct{}{}
		<-release
		return rec.run(ctx, a)
	})))
	drained := make(chan struct{}, 4)
	q.OnDrain(func() { drained <- struct{}{} })

	q.Resume()
	_, err := q.Enqueue(install("left-pad"))
	require.NoError(t, err)
	<-started

	merged, err := q.Enqueue(install("right-pad"))
	require.NoError(t, err)
	assert.False(t, merged)

	close(release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	assert.Equal(t, [][]string{{"left-pad"}, {"right-pad"}}, rec.snapshot())
	// Work added while the first action ran belongs to the same busy period.
	assert.Len(t, drained, 0)
}

func TestQueue_DrainOncePerCycle(t *testing.T) {
	rec := &recorder{}
	q := newQueue(t, WithKind("install", installKind(rec.run)))
	var count int
	var mu sync.Mutex
	drained := make(chan struct{}, 4)
	q.OnDrain(func() {
		mu.Lock()
		count++
		mu.Unlock()
		drained <- struct{}{}
	})
	q.Resume()

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(install("pkg"))
		require.NoError(t, err)
		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatal("queue did not drain")
		}
	}
	mu.Lock()
	assert.Equal(t, 2, count)
	mu.Unlock()
}

func TestQueue_PausedQueueRunsNothing(t *testing.T) {
	rec := &recorder{}
	q := newQueue(t, WithKind("install", installKind(rec.run)))
	drained := make(chan struct{}, 1)
	q.OnDrain(func() { drained <- struct{}{} })

	_, err := q.Enqueue(install("left-pad"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 1, q.Stats().Pending)
	assert.True(t, q.Stats().Paused)

	q.Resume()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	assert.Len(t, rec.snapshot(), 1)
}

func TestQueue_FailureDoesNotBlockOthers(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	q := newQueue(t,
		WithKind("fail", Kind{Run: func(context.Context, Action) error { return boom }}),
		WithKind("install", installKind(rec.run)),
	)
	drained := make(chan struct{}, 1)
	q.OnDrain(func() { drained <- struct{}{} })

	var got error
	_, err := q.Enqueue(Action{Kind: "fail", OnDone: func(err error) { got = err }})
	require.NoError(t, err)
	_, err = q.Enqueue(install("left-pad"))
	require.NoError(t, err)
	q.Resume()
	<-drained

	var ae *ActionError
	require.ErrorAs(t, got, &ae)
	assert.Equal(t, "fail", ae.Kind)
	assert.ErrorIs(t, got, boom)
	assert.Len(t, rec.snapshot(), 1)
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestQueue_PanicBecomesActionError(t *testing.T) {
	q := newQueue(t, WithKind("bad", Kind{Run: func(context.Context, Action) error { panic("oops") }}))
	errCh := make(chan error, 1)
	_, err := q.Enqueue(Action{Kind: "bad", OnDone: func(err error) { errCh <- err }})
	require.NoError(t, err)
	q.Resume()

	select {
	case err := <-errCh:
		var ae *ActionError
		require.ErrorAs(t, err, &ae)
		assert.Contains(t, err.Error(), "panic: oops")
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
}

func TestQueue_CancelDropsPendingOfStep(t *testing.T) {
	rec := &recorder{}
	q := newQueue(t, WithKind("install", installKind(rec.run)),
		WithKind("solo", Kind{Run: rec.run}))

	var got error
	a := install("left-pad")
	a.Step = 1
	a.OnDone = func(err error) { got = err }
	_, err := q.Enqueue(a)
	require.NoError(t, err)
	keep := Action{Kind: "solo", Step: 2, Payload: []Entry{{Name: "keep"}}}
	_, err = q.Enqueue(keep)
	require.NoError(t, err)

	assert.Equal(t, 1, q.Cancel(1))
	assert.ErrorIs(t, got, ErrCanceled)
	assert.Equal(t, 1, q.Stats().Pending)
}

func TestQueue_NonMergeableKindsQueueIndependently(t *testing.T) {
	q := New()
	q.Register("solo", Kind{Run: func(context.Context, Action) error { return nil }})
	for i := 0; i < 3; i++ {
		merged, err := q.Enqueue(Action{Kind: "solo"})
		require.NoError(t, err)
		assert.False(t, merged)
	}
	assert.Equal(t, 3, q.Stats().Pending)
}

func TestQueue_EnqueueErrors(t *testing.T) {
	q := New()
	_, err := q.Enqueue(Action{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	q.Register("solo", Kind{Run: func(context.Context, Action) error { return nil }})
	var got error
	_, err = q.Enqueue(Action{Kind: "solo", OnDone: func(err error) { got = err }})
	require.NoError(t, err)

	q.Close()
	assert.ErrorIs(t, got, ErrClosed)
	_, err = q.Enqueue(Action{Kind: "solo"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnion(t *testing.T) {
	got := union(
		[]Entry{{Name: "a"}, {Name: "b", Value: "1"}},
		[]Entry{{Name: "b", Value: "1"}, {Name: "b", Value: "2"}, {Name: "c"}},
	)
	assert.Equal(t, []Entry{{Name: "a"}, {Name: "b", Value: "1"}, {Name: "b", Value: "2"}, {Name: "c"}}, got)
}
