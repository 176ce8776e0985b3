// Package feed keeps a live, in-memory mirror of the question collection.
//
// A Controller is an owned object: whoever creates it activates it and must
// deactivate it. The server owns one for GET /api/questions and each open
// stream owns one for the lifetime of its connection.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/search"
)

// Source is the part of the question repository a feed needs.
type Source interface {
	Subscribe(ctx context.Context, fn func([]model.Question)) (unsubscribe func(), err error)
}

// ErrActive is returned by Activate on a controller that is already active.
var ErrActive = errors.New("feed: already active")

// Controller mirrors the question collection through one live subscription.
type Controller struct {
	source Source

	mu          sync.RWMutex
	mirror      []model.Question
	unsubscribe func()
	active      bool
	// generation is bumped on Deactivate; a delivery tagged with an older
	// generation is dropped.
	generation int

	changes chan struct{}
}

// New creates an inactive controller.
func New(source Source) *Controller {
	return &Controller{
		source:  source,
		changes: make(chan struct{}, 1),
	}
}

// Activate opens the subscription. The mirror holds the first snapshot when
// Activate returns.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrActive
	}
	c.active = true
	gen := c.generation
	c.mu.Unlock()

	unsubscribe, err := c.source.Subscribe(ctx, func(snapshot []model.Question) {
		c.apply(gen, snapshot)
	})
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if gen != c.generation {
		// Deactivated while subscribing.
		c.mu.Unlock()
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	return nil
}

// apply replaces the mirror wholesale. Snapshots are never merged.
func (c *Controller) apply(gen int, snapshot []model.Question) {
	c.mu.Lock()
	if gen != c.generation || !c.active {
		c.mu.Unlock()
		return
	}
	c.mirror = snapshot
	c.mu.Unlock()

	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Deactivate releases the subscription. No snapshot is applied after it
// returns. It does not wait for writes the caller started earlier.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.generation++
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	// Outside the lock: unsubscribe waits for an in-flight delivery, and that
	// delivery needs the lock to see it has been superseded.
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Active reports whether the subscription is open.
func (c *Controller) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Questions returns a copy of the mirror.
func (c *Controller) Questions() []model.Question {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Question, len(c.mirror))
	for i, q := range c.mirror {
		out[i] = q.Clone()
	}
	return out
}

// Filter applies search.Filter to the current mirror.
func (c *Controller) Filter(term string) []model.Question {
	return search.Filter(c.Questions(), term)
}

// Changes receives a value after the mirror changes. Bursts coalesce into a
// single pending signal.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}
