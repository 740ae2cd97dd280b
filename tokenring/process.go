/*
Package tokenring implements mutual exclusion over a logical ring: a single
token travels from each process to its successor and only its holder may run
the critical section.

Each Process is an actor. Its goroutine (Run) is the only one that touches the
token; the owner of the process only appends requests with RequestCS. On each
token visit the process serves at most its oldest pending request, then
forwards the token.
*/
package tokenring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pucrs/tokenring/common"
	"pucrs/tokenring/ring"

	"github.com/sirupsen/logrus"
)

var ErrUnknownProcess = errors.New("unknown process")

// CriticalSection is the protected work run on behalf of a served request.
type CriticalSection func(ctx context.Context, id ring.ID, req Request)

// Hook observes critical section entries, exits and token forwards. It runs on
// the process goroutine and must return quickly.
type Hook func(ev common.Event)

type Option func(*Process)

// WithCriticalSection sets the work run for each served request.
func WithCriticalSection(cs CriticalSection) Option {
	return func(p *Process) {
		p.cs = cs
	}
}

func WithHook(h Hook) Option {
	return func(p *Process) {
		p.hook = h
	}
}

// WithLogger sets the base logger. The process adds its own pid field.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Process) {
		p.log = log
	}
}

// WithHopDelay makes an idle process keep the token for d before forwarding
// it, so an idle ring does not spin.
func WithHopDelay(d time.Duration) Option {
	return func(p *Process) {
		p.hopDelay = d
	}
}

func withEventCounter(c *atomic.Uint64) Option {
	return func(p *Process) {
		p.events = c
	}
}

// Snapshot is a point in time view of a process state.
type Snapshot struct {
	PID        ring.ID
	State      common.State
	HoldsToken bool
	Pending    int
	Visits     uint64
	Served     uint64
}

type Process struct {
	id        ring.ID
	ring      *ring.Ring
	transport Transport
	inbox     chan Token

	cs       CriticalSection
	hook     Hook
	hopDelay time.Duration
	log      *logrus.Entry
	events   *atomic.Uint64

	mu         sync.Mutex
	holdsToken bool
	queue      RequestQueue
	issued     uint64
	visits     uint64
	served     uint64
}

// NewProcess creates process id of ring r, forwarding the token through t.
// The ring's initial holder starts in the HoldingToken state.
func NewProcess(r *ring.Ring, id ring.ID, t Transport, opts ...Option) (*Process, error) {
	if !r.Contains(id) {
		return nil, fmt.Errorf("tokenring.NewProcess: %w: %d", ErrUnknownProcess, id)
	}

	p := &Process{
		id:         id,
		ring:       r,
		transport:  t,
		inbox:      make(chan Token),
		cs:         func(context.Context, ring.ID, Request) {},
		log:        logrus.NewEntry(logrus.StandardLogger()),
		events:     new(atomic.Uint64),
		holdsToken: id == r.InitialHolder(),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("pid", int(id))

	return p, nil
}

func (p *Process) ID() ring.ID { return p.id }

// Inbox is where transports deliver tokens addressed to this process. Only
// Run receives from it.
func (p *Process) Inbox() chan<- Token { return p.inbox }

// RequestCS records one request to enter the critical section. It never
// blocks on the token: the request is served on a later token visit.
func (p *Process) RequestCS() {
	p.mu.Lock()
	p.issued++
	p.queue.Push(Request{ID: p.issued})
	pending := p.queue.Len()
	p.mu.Unlock()

	p.log.Debugf("app requests mx (%d pending)", pending)
}

// Run is the process actor loop. It returns nil once ctx is done, or an error
// if the token could not be forwarded.
func (p *Process) Run(ctx context.Context) error {
	p.mu.Lock()
	holder := p.holdsToken
	p.mu.Unlock()

	// held is the token this process owns and has not handled yet
	var held *Token
	if holder {
		p.log.Debug("starting with the token")
		held = &Token{Sender: p.id}
	}

	for {
		if held == nil {
			select {
			case <-ctx.Done():
				p.log.Debug("process stopped")
				return nil
			case tok := <-p.inbox:
				held = &tok
			}
		} else if ctx.Err() != nil {
			p.log.Debugf("stopping while holding the token (seq %d)", held.Seq)
			return nil
		}

		back, err := p.onTokenArrival(ctx, *held)
		if err != nil {
			return err
		}
		held = back
	}
}

// onTokenArrival serves at most one request and forwards the token. It
// returns the token when this process is its own successor.
func (p *Process) onTokenArrival(ctx context.Context, tok Token) (*Token, error) {
	p.mu.Lock()
	p.holdsToken = true
	p.visits++
	req, ok := p.queue.Pop()
	p.mu.Unlock()

	p.log.Debugf("         <<<---- token (seq %d) from %d", tok.Seq, tok.Sender)

	if !ok && p.hopDelay > 0 {
		select {
		case <-time.After(p.hopDelay):
		case <-ctx.Done():
		}
		// requests made while the token was kept here are served on this visit
		p.mu.Lock()
		req, ok = p.queue.Pop()
		p.mu.Unlock()
	}

	if ok {
		p.enterCriticalSection(ctx, req, tok)
	}

	return p.forwardToken(ctx, tok)
}

func (p *Process) enterCriticalSection(ctx context.Context, req Request, tok Token) {
	p.emit(common.EventEnter, req, tok)
	p.log.Infof("entering critical section (request %d)", req.ID)

	p.cs(ctx, p.id, req)

	p.mu.Lock()
	p.served++
	p.mu.Unlock()

	p.log.Infof("exited critical section (request %d)", req.ID)
	p.emit(common.EventExit, req, tok)
}

// forwardToken hands the token to the successor. If ctx ends before the
// successor accepts it, the token stays here. In a ring of one process the
// token is returned to the caller instead of being sent.
func (p *Process) forwardToken(ctx context.Context, tok Token) (*Token, error) {
	next := p.ring.Successor(p.id)
	out := Token{Sender: p.id, Seq: tok.Seq + 1}

	p.emit(common.EventForward, Request{}, tok)

	if next == p.id {
		p.log.Debugf("---->>>> token (seq %d) back to itself", out.Seq)
		return &out, nil
	}

	p.mu.Lock()
	p.holdsToken = false
	p.mu.Unlock()

	p.log.Debugf("---->>>> token (seq %d) to %d", out.Seq, next)
	err := p.transport.Send(ctx, next, out)
	if err == nil {
		return nil, nil
	}

	p.mu.Lock()
	p.holdsToken = true
	p.mu.Unlock()

	if ctx.Err() != nil {
		p.log.Debugf("stopping while holding the token (seq %d)", tok.Seq)
		return nil, nil
	}
	p.log.Errorf("failed forwarding token to %d: %v", next, err)
	return nil, fmt.Errorf("tokenring.forwardToken: send to %d: %w", next, err)
}

func (p *Process) emit(kind common.EventKind, req Request, tok Token) {
	if p.hook == nil {
		return
	}
	p.hook(common.Event{
		Index:    p.events.Add(1),
		PID:      int(p.id),
		Kind:     kind,
		Request:  req.ID,
		TokenSeq: tok.Seq,
	})
}

// Visits is the number of times the token reached this process.
func (p *Process) Visits() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visits
}

func (p *Process) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := common.NoTokenIdle
	switch {
	case p.holdsToken:
		st = common.HoldingToken
	case p.queue.Len() > 0:
		st = common.NoTokenPending
	}

	return Snapshot{
		PID:        p.id,
		State:      st,
		HoldsToken: p.holdsToken,
		Pending:    p.queue.Len(),
		Visits:     p.visits,
		Served:     p.served,
	}
}
