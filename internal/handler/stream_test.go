package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/handler"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
)

// pushSource is a feed.Source whose snapshots the test pushes by hand.
type pushSource struct {
	mu           sync.Mutex
	current      []model.Question
	subscribers  map[int]func([]model.Question)
	next         int
	unsubscribed chan struct{}
}

func newPushSource(initial []model.Question) *pushSource {
	return &pushSource{
		current:      initial,
		subscribers:  make(map[int]func([]model.Question)),
		unsubscribed: make(chan struct{}, 1),
	}
}

func (s *pushSource) Subscribe(_ context.Context, fn func([]model.Question)) (func(), error) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subscribers[id] = fn
	snapshot := s.current
	s.mu.Unlock()

	fn(snapshot)
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
		s.unsubscribed <- struct{}{}
	}, nil
}

func (s *pushSource) push(qs []model.Question) {
	s.mu.Lock()
	s.current = qs
	fns := make([]func([]model.Question), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(qs)
	}
}

// fakeObserver hands every session the same principal and lets the test
// sign it out.
type fakeObserver struct {
	mu  sync.Mutex
	p   *model.Principal
	fns []func(*model.Principal)
}

func (o *fakeObserver) OnAuthStateChange(_ context.Context, token string, fn func(*model.Principal)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token == "" {
		fn(nil)
		return func() {}, nil
	}
	o.fns = append(o.fns, fn)
	fn(o.p)
	return func() {}, nil
}

func (o *fakeObserver) signOut() {
	o.mu.Lock()
	fns := slices.Clone(o.fns)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses SSE frames from the body onto a channel.
func readEvents(body *bufio.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		var ev sseEvent
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

// nextEvent waits for the next event with the given name, skipping others.
func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed while waiting for %q", name)
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", name)
		}
	}
}

// firstTwo reads the two events every stream opens with. They are sent as
// soon as both are pending, in no particular order.
func firstTwo(t *testing.T, events <-chan sseEvent) map[string]string {
	t.Helper()
	got := make(map[string]string, 2)
	for len(got) < 2 {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			got[ev.name] = ev.data
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for opening events, got %v", got)
		}
	}
	return got
}

func questionIDs(t *testing.T, data string) []string {
	t.Helper()
	var qs []model.Question
	require.NoError(t, json.Unmarshal([]byte(data), &qs))
	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	return ids
}

func TestStreamHandler(t *testing.T) {
	source := newPushSource([]model.Question{
		{ID: "q1", Text: model.StringPtr("What is 2+2?")},
		{ID: "q2", Text: model.StringPtr("Capital of France?")},
	})
	observer := &fakeObserver{p: alice}
	h := handler.NewStreamHandler(source, observer, metrics.Nop{}, discardLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?q=2%2B2", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "tok"})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(bufio.NewReader(resp.Body))

	opening := firstTwo(t, events)
	assert.Equal(t, []string{"q1"}, questionIDs(t, opening["questions"]), "initial snapshot is filtered")
	assert.Contains(t, opening["session"], `"email":"a@x.com"`)

	source.push([]model.Question{
		{ID: "q1", Text: model.StringPtr("What is 2+2?")},
		{ID: "q3", Text: model.StringPtr("Is 2+2 really 4?")},
	})
	updated := nextEvent(t, events, "questions")
	assert.Equal(t, []string{"q1", "q3"}, questionIDs(t, updated.data))

	observer.signOut()
	assert.Equal(t, "null", nextEvent(t, events, "session").data)

	cancel()
	select {
	case <-source.unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not release its subscription after disconnect")
	}
}

func TestStreamHandler_Anonymous(t *testing.T) {
	source := newPushSource(nil)
	h := handler.NewStreamHandler(source, &fakeObserver{}, metrics.Nop{}, discardLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(bufio.NewReader(resp.Body))
	opening := firstTwo(t, events)
	assert.Equal(t, "null", opening["session"])
	assert.Equal(t, "[]", opening["questions"])
}
