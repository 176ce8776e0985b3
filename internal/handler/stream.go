package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/feed"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
)

// Observer reports auth-state changes for one session token.
// *service.AuthService implements it.
type Observer interface {
	OnAuthStateChange(ctx context.Context, token string, fn func(*model.Principal)) (cancel func(), err error)
}

// DefaultHeartbeat keeps idle proxies from closing a quiet stream.
const DefaultHeartbeat = 25 * time.Second

// StreamHandler serves GET /api/questions/stream as Server-Sent Events.
//
// Each connection owns its own feed.Controller and auth-state observer and
// releases both when the client goes away. Two event types are sent:
//
//	event: questions   data: [...filtered snapshot...]
//	event: session     data: {...principal...} or null
//
// Both are "latest value wins": a slow client skips intermediate snapshots
// instead of queueing them.
type StreamHandler struct {
	source    feed.Source
	observer  Observer
	metrics   metrics.Recorder
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewStreamHandler(source feed.Source, observer Observer, rec metrics.Recorder, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		source:    source,
		observer:  observer,
		metrics:   rec,
		heartbeat: DefaultHeartbeat,
		logger:    logger,
	}
}

// principalSlot holds the most recent auth state until the loop sends it.
type principalSlot struct {
	mu      sync.Mutex
	p       *model.Principal
	pending chan struct{}
}

func newPrincipalSlot() *principalSlot {
	return &principalSlot{pending: make(chan struct{}, 1)}
}

func (s *principalSlot) set(p *model.Principal) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *principalSlot) get() *model.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	term := r.URL.Query().Get("q")

	// The server's WriteTimeout would cut the stream; lift it for this
	// connection. Not every writer supports deadlines, which is fine.
	_ = rc.SetWriteDeadline(time.Time{})

	ctrl := feed.New(h.source)
	if err := ctrl.Activate(ctx); err != nil {
		h.logger.Error("stream: subscribing to questions failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	defer ctrl.Deactivate()

	slot := newPrincipalSlot()
	token, _ := auth.TokenFromRequest(r)
	cancel, err := h.observer.OnAuthStateChange(ctx, token, slot.set)
	if err != nil {
		h.logger.Error("stream: observing session failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("stream: response writer cannot flush", slog.String("error", err.Error()))
		return
	}

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Changes():
			err = writeEvent(w, "questions", ctrl.Filter(term))
		case <-slot.pending:
			err = writeEvent(w, "session", slot.get())
		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			h.logger.Debug("stream: client gone", slog.String("error", err.Error()))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("handler: encoding %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
