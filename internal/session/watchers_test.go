package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/qanda/internal/model"
)

func TestWatchers_ChangedReachesEverySession(t *testing.T) {
	w := NewWatchers()

	var got []string
	w.Watch("u1", "tok-a", func(p *model.Principal) { got = append(got, "a:"+p.DisplayName) })
	w.Watch("u1", "tok-b", func(p *model.Principal) { got = append(got, "b:"+p.DisplayName) })
	w.Watch("u2", "tok-c", func(p *model.Principal) { got = append(got, "c:"+p.DisplayName) })

	w.Changed(&model.Principal{ID: "u1", DisplayName: "Ada"})

	assert.ElementsMatch(t, []string{"a:Ada", "b:Ada"}, got)
}

func TestWatchers_SignedOutOnlyThatSession(t *testing.T) {
	w := NewWatchers()

	var signedOut []string
	w.Watch("u1", "tok-a", func(p *model.Principal) {
		if p == nil {
			signedOut = append(signedOut, "a")
		}
	})
	w.Watch("u1", "tok-b", func(p *model.Principal) {
		if p == nil {
			signedOut = append(signedOut, "b")
		}
	})

	w.SignedOut("u1", "tok-a")

	assert.Equal(t, []string{"a"}, signedOut)
}

func TestWatchers_Cancel(t *testing.T) {
	w := NewWatchers()

	calls := 0
	cancel := w.Watch("u1", "tok-a", func(*model.Principal) { calls++ })
	cancel()
	cancel()

	w.Changed(&model.Principal{ID: "u1"})

	assert.Zero(t, calls)
	assert.Empty(t, w.byUser)
}

func TestWatchers_CancelFromCallback(t *testing.T) {
	w := NewWatchers()

	var cancel func()
	calls := 0
	cancel = w.Watch("u1", "tok-a", func(*model.Principal) {
		calls++
		cancel()
	})

	w.Changed(&model.Principal{ID: "u1"})
	w.Changed(&model.Principal{ID: "u1"})

	assert.Equal(t, 1, calls)
}
