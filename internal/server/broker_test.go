package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokerBroadcast(t *testing.T) {
	b := NewBroker(nil, testLogger())

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.broadcast([]byte("event: benchd_jobs\ndata: {}\n\n"))

	assert.Equal(t, "event: benchd_jobs\ndata: {}\n\n", string(<-ch1))
	assert.Equal(t, "event: benchd_jobs\ndata: {}\n\n", string(<-ch2))

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch2)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(nil, testLogger())

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Broadcasting after unsubscribe must not panic on the closed channel.
	b.broadcast([]byte("data: x\n\n"))
}

func TestBrokerDropsEventsForSlowSubscriber(t *testing.T) {
	b := NewBroker(nil, testLogger())

	ch := b.Subscribe()
	for range 100 { // Buffer is 64; overflow must not block.
		b.broadcast([]byte("data: burst\n\n"))
	}
	assert.Len(t, ch, 64)
	b.Unsubscribe(ch)
}

func TestFormatSSE(t *testing.T) {
	got := formatSSE("benchd_jobs", `{"status":"completed"}`)
	assert.Equal(t, "event: benchd_jobs\ndata: {\"status\":\"completed\"}\n\n", string(got))
}
