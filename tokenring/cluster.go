package tokenring

import (
	"context"
	"fmt"
	"sync/atomic"

	"pucrs/tokenring/pp2plink"
	"pucrs/tokenring/ring"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Cluster runs every process of a ring inside the current OS process.
type Cluster struct {
	ring       *ring.Ring
	processes  []*Process
	transports []*TCPTransport
	events     atomic.Uint64

	group *errgroup.Group
}

// NewCluster builds the processes of r connected by in-memory channels.
func NewCluster(r *ring.Ring, opts ...Option) (*Cluster, error) {
	c := &Cluster{ring: r}
	mem := NewMemTransport(r)

	opts = append(opts, withEventCounter(&c.events))
	for _, id := range r.IDs() {
		p, err := NewProcess(r, id, mem, opts...)
		if err != nil {
			return nil, fmt.Errorf("tokenring.NewCluster: %w", err)
		}
		mem.Attach(id, p.Inbox())
		c.processes = append(c.processes, p)
	}

	return c, nil
}

// NewTCPCluster builds the processes of r, each one listening on
// addresses[id] and forwarding the token over TCP. Listeners are closed when
// ctx is done.
func NewTCPCluster(ctx context.Context, r *ring.Ring, addresses []string, opts ...Option) (*Cluster, error) {
	if len(addresses) != r.Size() {
		return nil, fmt.Errorf("tokenring.NewTCPCluster: %w: %d addresses for %d processes",
			ring.ErrInvalidTopology, len(addresses), r.Size())
	}

	links := make([]*pp2plink.PP2PLink, r.Size())
	listening := make([]string, r.Size())
	for i, addr := range addresses {
		link, err := pp2plink.NewPP2PLink(ctx, addr, logrus.WithField("pid", i))
		if err != nil {
			for _, l := range links[:i] {
				l.Close()
			}
			return nil, fmt.Errorf("tokenring.NewTCPCluster: %w", err)
		}
		links[i] = link
		listening[i] = link.Addr()
	}

	c := &Cluster{ring: r}
	opts = append(opts, withEventCounter(&c.events))
	for _, id := range r.IDs() {
		t := NewTCPTransport(links[id], listening, logrus.WithField("pid", int(id)))
		p, err := NewProcess(r, id, t, opts...)
		if err != nil {
			return nil, fmt.Errorf("tokenring.NewTCPCluster: %w", err)
		}
		c.processes = append(c.processes, p)
		c.transports = append(c.transports, t)
	}

	return c, nil
}

// Start launches the goroutine of every process. If one of them fails, the
// others are stopped too.
func (c *Cluster) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.processes {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	for i, t := range c.transports {
		t, inbox := t, c.processes[i].Inbox()
		g.Go(func() error { return t.Serve(gctx, inbox) })
	}
	c.group = g
}

// Wait blocks until every process stopped and returns the first failure.
func (c *Cluster) Wait() error {
	if c.group == nil {
		return nil
	}
	err := c.group.Wait()
	for _, t := range c.transports {
		t.Close()
	}
	return err
}

func (c *Cluster) Ring() *ring.Ring { return c.ring }

func (c *Cluster) Process(id ring.ID) (*Process, error) {
	if !c.ring.Contains(id) {
		return nil, fmt.Errorf("tokenring.Cluster.Process: %w: %d", ErrUnknownProcess, id)
	}
	return c.processes[id], nil
}

// RequestCS records a request at process id.
func (c *Cluster) RequestCS(id ring.ID) error {
	p, err := c.Process(id)
	if err != nil {
		return err
	}
	p.RequestCS()
	return nil
}

func (c *Cluster) Snapshots() []Snapshot {
	snaps := make([]Snapshot, len(c.processes))
	for i, p := range c.processes {
		snaps[i] = p.Snapshot()
	}
	return snaps
}
