package tokenring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pucrs/tokenring/common"
	"pucrs/tokenring/ring"
)

func pids(evs []common.Event) []int {
	out := make([]int, len(evs))
	for i, ev := range evs {
		out[i] = ev.PID
	}
	return out
}

func TestRingOfThreeServesInRingOrder(t *testing.T) {
	var log eventLog
	c, ctx, _ := newTestCluster(t, 3, 0, WithHook(log.hook))

	mustRequest(t, c, 0, 1, 2)
	c.Start(ctx)

	enters := log.waitFor(t, common.EventEnter, 3)
	for i, ev := range enters[:3] {
		if ev.PID != i {
			t.Fatalf("service order %v, want [0 1 2]", pids(enters))
		}
		// each one is served on the first visit of the token
		if ev.TokenSeq != uint64(i) {
			t.Fatalf("P%d served with token seq %d, want %d", i, ev.TokenSeq, i)
		}
	}
}

func TestIdleTokenVisitsEveryProcessInRingOrder(t *testing.T) {
	const n, rotations = 3, 3

	var log eventLog
	c, ctx, cancel := newTestCluster(t, n, 0, WithHook(log.hook))
	c.Start(ctx)

	forwards := log.waitFor(t, common.EventForward, n*rotations)
	cancel()

	for i, ev := range forwards[:n*rotations] {
		if ev.PID != i%n {
			t.Fatalf("forward %d made by P%d, want P%d", i, ev.PID, i%n)
		}
		if ev.TokenSeq != uint64(i) {
			t.Fatalf("forward %d carries seq %d", i, ev.TokenSeq)
		}
		if i > 0 && ev.Index <= forwards[i-1].Index {
			t.Fatalf("event index not monotonic at %d", i)
		}
	}
	if enters := log.of(common.EventEnter); len(enters) != 0 {
		t.Fatalf("critical section entered %d times without requests", len(enters))
	}
}

func TestOneRequestServedPerVisitInFIFOOrder(t *testing.T) {
	const n = 3

	var log eventLog
	c, ctx, _ := newTestCluster(t, n, 0, WithHook(log.hook))

	mustRequest(t, c, 1, 1, 1)
	c.Start(ctx)

	enters := log.waitFor(t, common.EventEnter, 3)
	for i, ev := range enters[:3] {
		if ev.PID != 1 {
			t.Fatalf("unexpected service at P%d", ev.PID)
		}
		if ev.Request != uint64(i+1) {
			t.Fatalf("served request %d at position %d", ev.Request, i)
		}
		if want := uint64(1 + i*n); ev.TokenSeq != want {
			t.Fatalf("request %d served at token seq %d, want %d", ev.Request, ev.TokenSeq, want)
		}
	}
}

func TestRequestDuringServiceWaitsForNextVisit(t *testing.T) {
	var log eventLog
	var c *Cluster
	cs := func(_ context.Context, id ring.ID, req Request) {
		if req.ID == 1 {
			c.RequestCS(id)
		}
	}
	c, ctx, _ := newTestCluster(t, 2, 0, WithHook(log.hook), WithCriticalSection(cs))

	mustRequest(t, c, 0)
	c.Start(ctx)

	enters := log.waitFor(t, common.EventEnter, 2)
	if enters[0].TokenSeq != 0 || enters[1].TokenSeq != 2 {
		t.Fatalf("served at token seqs %d and %d, want 0 and 2", enters[0].TokenSeq, enters[1].TokenSeq)
	}
	if enters[1].Request != 2 {
		t.Fatalf("second service was request %d", enters[1].Request)
	}
}

func TestMutualExclusionUnderConcurrentRequests(t *testing.T) {
	const n, perProcess = 5, 20

	var (
		log        eventLog
		inside     atomic.Int32
		violations atomic.Int32
		c          *Cluster
	)
	cs := func(context.Context, ring.ID, Request) {
		if inside.Add(1) != 1 {
			violations.Add(1)
		}
		holders := common.Count(c.Snapshots(), func(s Snapshot) bool { return s.HoldsToken })
		if holders != 1 {
			violations.Add(1)
		}
		time.Sleep(50 * time.Microsecond)
		inside.Add(-1)
	}
	c, ctx, cancel := newTestCluster(t, n, 2, WithHook(log.hook), WithCriticalSection(cs))
	c.Start(ctx)

	for _, id := range c.Ring().IDs() {
		id := id
		go func() {
			for i := 0; i < perProcess; i++ {
				c.RequestCS(id)
				time.Sleep(time.Duration(int(id)+1) * 20 * time.Microsecond)
			}
		}()
	}

	log.waitFor(t, common.EventExit, n*perProcess)
	cancel()

	if v := violations.Load(); v != 0 {
		t.Fatalf("%d mutual exclusion violations", v)
	}

	last := make(map[int]uint64)
	for _, ev := range log.of(common.EventEnter) {
		if ev.Request <= last[ev.PID] {
			t.Fatalf("P%d served request %d after %d", ev.PID, ev.Request, last[ev.PID])
		}
		last[ev.PID] = ev.Request
	}
}

func TestRequestServedOnNextVisit(t *testing.T) {
	visitsAtEntry := make(chan uint64, 1)
	var c *Cluster
	hook := func(ev common.Event) {
		if ev.Kind == common.EventEnter && ev.PID == 2 {
			p, _ := c.Process(2)
			visitsAtEntry <- p.Visits()
		}
	}
	c, ctx, _ := newTestCluster(t, 4, 0, WithHook(hook))
	c.Start(ctx)

	p, err := c.Process(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		before := p.Visits()
		p.RequestCS()
		select {
		case v := <-visitsAtEntry:
			if v > before+1 {
				t.Fatalf("request issued after visit %d served at visit %d", before, v)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("request never served")
		}
	}
}

func TestRequestCSDoesNotNeedTheToken(t *testing.T) {
	r := newTestRing(t, 3, 0)
	mem := NewMemTransport(r)
	p, err := NewProcess(r, 1, mem, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	if s := p.Snapshot(); s.State != common.NoTokenIdle {
		t.Fatalf("initial state %v", s.State)
	}
	for i := 0; i < 1000; i++ {
		p.RequestCS()
	}
	s := p.Snapshot()
	if s.State != common.NoTokenPending || s.Pending != 1000 || s.HoldsToken {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestInitialHolderStartsWithToken(t *testing.T) {
	c, _, _ := newTestCluster(t, 4, 3)
	for _, s := range c.Snapshots() {
		want := common.NoTokenIdle
		if s.PID == 3 {
			want = common.HoldingToken
		}
		if s.State != want {
			t.Fatalf("P%d in %v, want %v", s.PID, s.State, want)
		}
	}
}

func TestShutdownLeavesExactlyOneHolder(t *testing.T) {
	c, ctx, cancel := newTestCluster(t, 4, 0)
	c.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	holders := common.Count(c.Snapshots(), func(s Snapshot) bool { return s.HoldsToken })
	if holders != 1 {
		t.Fatalf("%d processes hold the token after shutdown", holders)
	}
}

func TestUnknownProcess(t *testing.T) {
	c, _, _ := newTestCluster(t, 2, 0)
	if err := c.RequestCS(2); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("RequestCS(2) = %v", err)
	}
	if _, err := NewProcess(c.Ring(), -1, NewMemTransport(c.Ring())); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("NewProcess(-1) = %v", err)
	}
}

type failingTransport struct{ err error }

func (f failingTransport) Send(context.Context, ring.ID, Token) error { return f.err }

func TestForwardFailureStopsProcess(t *testing.T) {
	errBoom := errors.New("boom")
	r := newTestRing(t, 2, 0)
	p, err := NewProcess(r, 0, failingTransport{errBoom}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("Run = %v, want %v", err, errBoom)
	}
	if !p.Snapshot().HoldsToken {
		t.Fatal("token should stay at the process that failed forwarding it")
	}
}

func TestSingleProcessRing(t *testing.T) {
	var log eventLog
	c, ctx, _ := newTestCluster(t, 1, 0, WithHook(log.hook), WithHopDelay(time.Millisecond))
	c.Start(ctx)

	// let the token go around a few times before asking
	log.waitFor(t, common.EventForward, 3)

	for i := 1; i <= 3; i++ {
		mustRequest(t, c, 0)
		enters := log.waitFor(t, common.EventEnter, i)
		if enters[i-1].Request != uint64(i) {
			t.Fatalf("served request %d, want %d", enters[i-1].Request, i)
		}
	}

	s := c.Snapshots()[0]
	if !s.HoldsToken || s.State != common.HoldingToken {
		t.Fatalf("lone process lost the token: %+v", s)
	}
}

func TestSingleProcessRingShutdownKeepsToken(t *testing.T) {
	c, ctx, cancel := newTestCluster(t, 1, 0, WithHopDelay(time.Millisecond))
	c.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	if !c.Snapshots()[0].HoldsToken {
		t.Fatal("token lost on shutdown")
	}
}

func TestRequestWhileTokenKeptIsServedOnSameVisit(t *testing.T) {
	var log eventLog
	c, ctx, _ := newTestCluster(t, 2, 0, WithHook(log.hook), WithHopDelay(300*time.Millisecond))
	c.Start(ctx)

	mustRequest(t, c, 0)

	enters := log.waitFor(t, common.EventEnter, 1)
	if enters[0].PID != 0 || enters[0].TokenSeq != 0 {
		t.Fatalf("served P%d at token seq %d, want P0 at seq 0", enters[0].PID, enters[0].TokenSeq)
	}
}
