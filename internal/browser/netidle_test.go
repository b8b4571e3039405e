package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sent(id string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{RequestID: network.RequestID(id)}
}

func finished(id string) *network.EventLoadingFinished {
	return &network.EventLoadingFinished{RequestID: network.RequestID(id)}
}

func TestInflightTrackerCounts(t *testing.T) {
	tr := newInflightTracker()

	tr.observe(sent("r1"))
	tr.observe(sent("r2"))
	assert.Equal(t, 2, tr.inflight())

	tr.observe(finished("r1"))
	tr.observe(&network.EventLoadingFailed{RequestID: "r2"})
	assert.Equal(t, 0, tr.inflight())

	// Finish events for requests that started before we listened
	tr.observe(finished("unseen"))
	assert.Equal(t, 0, tr.inflight())

	// Unrelated target events are ignored
	tr.observe(&network.EventResponseReceived{RequestID: "r3"})
	assert.Equal(t, 0, tr.inflight())
}

func TestAwaitReturnsOnceQuiet(t *testing.T) {
	tr := newInflightTracker()
	tr.observe(sent("r1"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.observe(finished("r1"))
	}()

	start := time.Now()
	err := tr.await(context.Background(), 20*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.Greater(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestAwaitFallsThroughOnTimeout(t *testing.T) {
	tr := newInflightTracker()
	tr.observe(sent("never-finishes"))

	err := tr.await(context.Background(), 20*time.Millisecond, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, tr.inflight())
}

func TestAwaitHonorsContext(t *testing.T) {
	tr := newInflightTracker()
	tr.observe(sent("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := tr.await(ctx, time.Second, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
