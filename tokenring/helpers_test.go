package tokenring

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"pucrs/tokenring/common"
	"pucrs/tokenring/ring"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// eventLog collects hook events in the order they were emitted.
type eventLog struct {
	mu     sync.Mutex
	events []common.Event
}

func (l *eventLog) hook(ev common.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) of(kind common.EventKind) []common.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return common.Filter(l.events, func(ev common.Event) bool { return ev.Kind == kind })
}

// waitFor polls until at least n events of kind were collected.
func (l *eventLog) waitFor(t *testing.T, kind common.EventKind, n int) []common.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := l.of(kind); len(evs) >= n {
			return evs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %d", n, kind, len(l.of(kind)))
	return nil
}

func newTestRing(t *testing.T, n int, holder ring.ID) *ring.Ring {
	t.Helper()
	r, err := ring.NewRing(n, holder)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// newTestCluster builds an in-memory cluster and stops it when the test ends.
// The returned context is the one to start it with.
func newTestCluster(t *testing.T, n int, holder ring.ID, opts ...Option) (*Cluster, context.Context, context.CancelFunc) {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := NewCluster(newTestRing(t, n, holder), opts...)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		if err := c.Wait(); err != nil {
			t.Errorf("cluster stopped with error: %v", err)
		}
	})
	return c, ctx, cancel
}

func mustRequest(t *testing.T, c *Cluster, ids ...ring.ID) {
	t.Helper()
	for _, id := range ids {
		if err := c.RequestCS(id); err != nil {
			t.Fatal(err)
		}
	}
}
