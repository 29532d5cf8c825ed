package signaling

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestRouterRunsHandlersInRegistrationOrder(t *testing.T) {
	r := NewRouter(nil)
	defer r.Close()

	rec := &recorder{}
	r.On("new-producer", func(Payload) { rec.add("first") })
	r.On("new-producer", func(Payload) { rec.add("second") })

	r.Dispatch("new-producer", &Message{})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, rec.snapshot())
}

func TestRouterOnceKeyDeduplicates(t *testing.T) {
	r := NewRouter(nil)
	defer r.Close()

	rec := &recorder{}
	assert.True(t, r.OnceKey("producer-closed", "session", func(Payload) { rec.add("a") }))
	assert.False(t, r.OnceKey("producer-closed", "session", func(Payload) { rec.add("b") }))

	r.Dispatch("producer-closed", &Message{})
	r.Dispatch("producer-closed", &Message{})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "a"}, rec.snapshot())
}

func TestRouterReplaysRetainedEvent(t *testing.T) {
	r := NewRouter(nil)
	defer r.Close()
	r.Retain("connection-success")

	// arrives before anyone listens
	r.Dispatch("connection-success", &Message{Event: "connection-success"})
	r.Dispatch("unretained", &Message{})

	got := make(chan string, 2)
	r.On("connection-success", func(p Payload) { got <- p.(*Message).Event })
	r.On("unretained", func(Payload) { got <- "unretained" })

	select {
	case ev := <-got:
		assert.Equal(t, "connection-success", ev)
	case <-time.After(time.Second):
		t.Fatal("retained event was not replayed")
	}

	select {
	case ev := <-got:
		t.Fatalf("unexpected replay of %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterDropsAfterClose(t *testing.T) {
	r := NewRouter(nil)
	r.On("x", func(Payload) {})
	r.Close()
	r.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < dispatchQueueSize+10; i++ {
			r.Dispatch("x", &Message{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked after Close")
	}
}
