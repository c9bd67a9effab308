package tts

import (
	"testing"

	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAsyncTts builds an AsyncTts with zero workers so Submit's
// bookkeeping can be inspected without a worker draining the queue or a real
// ModelGateway being invoked.
func newTestAsyncTts() *AsyncTts {
	return &AsyncTts{
		pushBus:       push.New(),
		segmentSize:   defaultSegmentSize,
		queue:         make(chan job, defaultQueueDepth),
		latestVersion: make(map[string]int64),
		log:           logging.Named("tts-async-test"),
	}
}

func TestSubmit_TracksLatestVersionPerRequestID(t *testing.T) {
	a := newTestAsyncTts()
	a.Submit("sess-1", "first", "req-1")
	a.Submit("sess-1", "second", "req-1")

	require.Len(t, a.queue, 2)
	j1 := <-a.queue
	j2 := <-a.queue

	a.mu.Lock()
	latest := a.latestVersion["req-1"]
	a.mu.Unlock()

	assert.Equal(t, j2.version, latest)
	assert.NotEqual(t, j1.version, j2.version)
	assert.Equal(t, "first", j1.text)
	assert.Equal(t, "second", j2.text)
}

func TestSubmit_DistinctRequestIDsBothTracked(t *testing.T) {
	a := newTestAsyncTts()
	a.Submit("sess-1", "a", "req-a")
	a.Submit("sess-1", "b", "req-b")

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.latestVersion, 2)
}

func TestSubmit_DropsWhenQueueFull(t *testing.T) {
	a := newTestAsyncTts()
	a.queue = make(chan job, 1)
	a.Submit("s", "a", "req-1")
	a.Submit("s", "b", "req-2") // queue full, dropped without blocking

	require.Len(t, a.queue, 1)
	j := <-a.queue
	assert.Equal(t, "a", j.text)
}
