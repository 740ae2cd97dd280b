package tokenring

import (
	"context"
	"fmt"

	"pucrs/tokenring/pp2plink"
	"pucrs/tokenring/ring"

	"github.com/sirupsen/logrus"
)

// Transport moves the token to another process. Send returns once the
// destination accepted the token or ctx is done.
type Transport interface {
	Send(ctx context.Context, to ring.ID, tok Token) error
}

// MemTransport hands the token over through the processes' inboxes, all in
// the same OS process.
type MemTransport struct {
	inboxes []chan<- Token
}

func NewMemTransport(r *ring.Ring) *MemTransport {
	return &MemTransport{inboxes: make([]chan<- Token, r.Size())}
}

// Attach registers the inbox of process id. All inboxes must be attached
// before any process runs.
func (t *MemTransport) Attach(id ring.ID, inbox chan<- Token) {
	t.inboxes[id] = inbox
}

func (t *MemTransport) Send(ctx context.Context, to ring.ID, tok Token) error {
	if int(to) < 0 || int(to) >= len(t.inboxes) || t.inboxes[to] == nil {
		return fmt.Errorf("tokenring.MemTransport.Send: %w: %d", ErrUnknownProcess, to)
	}
	select {
	case t.inboxes[to] <- tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TCPTransport carries the token in its wire form over a pp2plink.
type TCPTransport struct {
	link      *pp2plink.PP2PLink
	addresses []string
	log       *logrus.Entry
}

// NewTCPTransport sends through link; addresses[i] is where process i listens.
func NewTCPTransport(link *pp2plink.PP2PLink, addresses []string, log *logrus.Entry) *TCPTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TCPTransport{link: link, addresses: addresses, log: log}
}

func (t *TCPTransport) Send(ctx context.Context, to ring.ID, tok Token) error {
	if int(to) < 0 || int(to) >= len(t.addresses) {
		return fmt.Errorf("tokenring.TCPTransport.Send: %w: %d", ErrUnknownProcess, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.link.Send(pp2plink.ReqMsg{To: t.addresses[to], Message: tok.Encode()})
}

// Serve decodes the messages received by the link and delivers the tokens to
// inbox until ctx is done. Malformed messages are dropped.
func (t *TCPTransport) Serve(ctx context.Context, inbox chan<- Token) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.link.Ind:
			tok, err := DecodeToken(msg.Message)
			if err != nil {
				t.log.Warnf("dropping message from %s: %v", msg.From, err)
				continue
			}
			select {
			case inbox <- tok:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (t *TCPTransport) Close() error {
	return t.link.Close()
}
