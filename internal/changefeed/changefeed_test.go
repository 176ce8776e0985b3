package changefeed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_NotifyReachesListeners(t *testing.T) {
	b := NewBroker()
	ch1, stop1 := b.Listen()
	defer stop1()
	ch2, stop2 := b.Listen()
	defer stop2()

	b.Notify(context.Background(), Event{Collection: Questions, DocumentID: "q1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, Questions, ev.Collection)
			assert.Equal(t, b.Origin(), ev.Origin)
		default:
			t.Fatal("listener did not receive the event")
		}
	}
}

func TestBroker_CoalescesWhenBehind(t *testing.T) {
	b := NewBroker()
	ch, stop := b.Listen()
	defer stop()

	for i := 0; i < 10; i++ {
		b.Notify(context.Background(), Event{Collection: Questions})
	}

	assert.Len(t, ch, 1)
}

func TestBroker_StopClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, stop := b.Listen()
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)

	// Notifying after stop must not panic on the closed channel.
	b.Notify(context.Background(), Event{Collection: Questions})
}

func newTestRelay(t *testing.T, addr string) (*RedisRelay, *Broker) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	local := NewBroker()
	relay := NewRedisRelay(client, "", local, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ps, err := relay.Subscribe(ctx)
	require.NoError(t, err)
	go relay.Run(ctx, ps)

	return relay, local
}

func TestRedisRelay_CrossProcess(t *testing.T) {
	s := miniredis.RunT(t)
	relayA, _ := newTestRelay(t, s.Addr())
	relayB, _ := newTestRelay(t, s.Addr())

	chA, stopA := relayA.Listen()
	defer stopA()
	chB, stopB := relayB.Listen()
	defer stopB()

	relayA.Notify(context.Background(), Event{Collection: Questions, DocumentID: "q1"})

	select {
	case ev := <-chB:
		assert.Equal(t, "q1", ev.DocumentID)
	case <-time.After(2 * time.Second):
		t.Fatal("remote process never heard about the change")
	}

	// A hears its own write exactly once: the local delivery, not the echo.
	select {
	case <-chA:
	default:
		t.Fatal("local listener missed the change")
	}
	select {
	case <-chA:
		t.Fatal("relay echoed its own event")
	case <-time.After(100 * time.Millisecond):
	}
}
