package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// inflightTracker counts network requests that have been sent but not
// yet finished or failed, and signals every change.
type inflightTracker struct {
	mu       sync.Mutex
	reqs     map[network.RequestID]struct{}
	activity chan struct{}
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{
		reqs:     make(map[network.RequestID]struct{}),
		activity: make(chan struct{}, 1),
	}
}

func (t *inflightTracker) observe(ev interface{}) {
	t.mu.Lock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.reqs[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.reqs, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.reqs, e.RequestID)
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case t.activity <- struct{}{}:
	default:
	}
}

func (t *inflightTracker) inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}

// await blocks until no request has been in flight for quiet. Pages that
// never go quiet (long polling, analytics beacons) fall through on the
// overall timeout rather than failing the navigation.
func (t *inflightTracker) await(ctx context.Context, quiet, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	idle := time.NewTimer(quiet)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-t.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			if t.inflight() == 0 {
				idle.Reset(quiet)
			}
		case <-idle.C:
			if t.inflight() == 0 {
				return nil
			}
		}
	}
}

// waitNetworkIdle waits for network quiescence after a navigation: no
// requests in flight for quiet, bounded by timeout.
func waitNetworkIdle(quiet, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tracker := newInflightTracker()
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, tracker.observe)
		return tracker.await(ctx, quiet, timeout)
	})
}
