package firestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/qanda/internal/model"
)

// scriptedIter returns its results in order, then blocks until stopped or
// ctx is cancelled.
type scriptedIter struct {
	ctx     context.Context
	results []result
	stopped chan struct{}
	once    sync.Once
}

type result struct {
	qs  []model.Question
	err error
}

func newScriptedIter(ctx context.Context, results ...result) *scriptedIter {
	return &scriptedIter{ctx: ctx, results: results, stopped: make(chan struct{})}
}

func (i *scriptedIter) next() ([]model.Question, error) {
	if len(i.results) == 0 {
		select {
		case <-i.stopped:
		case <-i.ctx.Done():
		}
		return nil, errors.New("iterator stopped")
	}
	r := i.results[0]
	i.results = i.results[1:]
	return r.qs, r.err
}

func (i *scriptedIter) stop() { i.once.Do(func() { close(i.stopped) }) }

// blockingIter only returns once ctx is cancelled, like a live listener.
type blockingIter struct{ ctx context.Context }

func (i blockingIter) next() ([]model.Question, error) {
	<-i.ctx.Done()
	return nil, i.ctx.Err()
}
func (blockingIter) stop() {}

var fastRetry = retryPolicy{initial: time.Millisecond, ceiling: 5 * time.Millisecond}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFollow_ResubscribesAfterListenerFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := newScriptedIter(ctx,
		result{qs: []model.Question{{ID: "q1"}}},
		result{err: errors.New("stream reset")},
	)
	replacement := newScriptedIter(ctx, result{qs: []model.Question{{ID: "q1"}, {ID: "q2"}}})

	var mu sync.Mutex
	opens := 0
	open := func() questionIter {
		mu.Lock()
		defer mu.Unlock()
		opens++
		return replacement
	}

	got := make(chan []model.Question, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		follow(ctx, failing, open, func(qs []model.Question) { got <- qs }, fastRetry, discardLogger())
	}()

	assert.Len(t, <-got, 1)
	select {
	case qs := <-got:
		assert.Len(t, qs, 2, "snapshot from the new listener")
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not replaced after failing")
	}

	cancel()
	replacement.stop()
	<-done

	mu.Lock()
	assert.Equal(t, 1, opens)
	mu.Unlock()
	select {
	case <-failing.stopped:
	default:
		t.Error("failed listener was not stopped")
	}
}

func TestFollow_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		follow(ctx, blockingIter{ctx}, func() questionIter {
			t.Error("no resubscribe expected after cancel")
			return blockingIter{ctx}
		}, func([]model.Question) {
			t.Error("no snapshot expected")
		}, fastRetry, discardLogger())
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not return after cancel")
	}
}

func TestFollow_KeepsRetryingUntilListenerRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	opens := 0
	open := func() questionIter {
		mu.Lock()
		opens++
		n := opens
		mu.Unlock()
		if n < 5 {
			return newScriptedIter(ctx, result{err: errors.New("unavailable")})
		}
		return newScriptedIter(ctx, result{qs: []model.Question{{ID: "q1"}}})
	}

	got := make(chan []model.Question, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		follow(ctx, newScriptedIter(ctx, result{err: errors.New("unavailable")}), open,
			func(qs []model.Question) { got <- qs }, fastRetry, discardLogger())
	}()

	select {
	case qs := <-got:
		assert.Len(t, qs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after the listener recovered")
	}

	mu.Lock()
	assert.Equal(t, 5, opens)
	mu.Unlock()

	cancel()
	<-done
}
