/*
Package pp2plink implements Perfect Point to Point Links as defined in:

	Introduction to Reliable and Secure Distributed Programming
	Christian Cachin, Rachid Gerraoui, Luis Rodrigues

Messages travel over TCP, each one preceded by its size written as 4 ASCII
digits (left padded with 0s). The receiver reads the 4 digits, then reads
exactly that many bytes with io.ReadFull. Outgoing connections are cached
and reused per destination.
*/
package pp2plink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	headerSize     = 4
	MaxMessageSize = 9999
)

var ErrMessageTooLarge = errors.New("message does not fit the 4 digit size header")

type ReqMsg struct {
	To      string
	Message string
}

type IndMsg struct {
	From    string
	Message string
}

type PP2PLink struct {
	Ind chan IndMsg

	log      *logrus.Entry
	listener net.Listener
	dialFn   func(network, address string) (net.Conn, error)

	mu     sync.Mutex
	closed bool
	cache  map[string]net.Conn // reuses the connection to a destination instead of dialing again
	conns  map[net.Conn]struct{}
}

// NewPP2PLink listens on address and starts delivering received messages on
// Ind. The link is closed when ctx is done.
func NewPP2PLink(ctx context.Context, address string, log *logrus.Entry) (*PP2PLink, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	listener, err := net.Listen("tcp4", address)
	if err != nil {
		return nil, fmt.Errorf("pp2plink.NewPP2PLink: listen on %s: %w", address, err)
	}

	p2p := &PP2PLink{
		Ind:      make(chan IndMsg, 1),
		log:      log.WithField("link", listener.Addr().String()),
		listener: listener,
		dialFn:   net.Dial,
		cache:    make(map[string]net.Conn),
		conns:    make(map[net.Conn]struct{}),
	}
	p2p.log.Debug("init PP2PLink")
	p2p.start(ctx)
	return p2p, nil
}

// Addr is the address the link actually listens on, useful when it was
// created on port 0.
func (m *PP2PLink) Addr() string {
	return m.listener.Addr().String()
}

func (m *PP2PLink) start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.Close()
	}()

	// receiving side
	go func() {
		for {
			conn, err := m.listener.Accept()
			if err != nil {
				m.log.Debugf("stop accepting: %v", err)
				return
			}
			m.log.Debug("accepted connection from another process")
			m.track(conn)
			go m.serve(ctx, conn)
		}
	}()
}

// serve repeatedly receives messages on an open connection and passes them
// to the upper module.
func (m *PP2PLink) serve(ctx context.Context, conn net.Conn) {
	defer m.untrack(conn)
	for {
		msg, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.log.Debugf("connection closed by the other process: %v", err)
			}
			return
		}
		select {
		case m.Ind <- IndMsg{From: conn.RemoteAddr().String(), Message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes message to its destination, opening and caching a connection
// if none exists. A failed write is retried once on a fresh connection.
// Dialing happens without holding the cache lock, so Close never waits on it.
func (m *PP2PLink) Send(message ReqMsg) error {
	payload, err := frame(message.Message)
	if err != nil {
		return fmt.Errorf("pp2plink.Send: %w", err)
	}

	m.mu.Lock()
	conn, ok := m.cache[message.To]
	m.mu.Unlock()

	if !ok {
		if conn, err = m.dial(message.To); err != nil {
			return err
		}
	}

	if _, err = conn.Write(payload); err == nil {
		return nil
	}

	m.log.Debugf("write to %s failed (%v), reopening connection once", message.To, err)
	m.forget(message.To, conn)
	if conn, err = m.dial(message.To); err != nil {
		return err
	}
	if _, err = conn.Write(payload); err != nil {
		return fmt.Errorf("pp2plink.Send: write to %s: %w", message.To, err)
	}
	return nil
}

// Close stops accepting connections and closes every open one.
func (m *PP2PLink) Close() error {
	err := m.listener.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for to, conn := range m.cache {
		conn.Close()
		delete(m.cache, to)
	}
	for conn := range m.conns {
		conn.Close()
	}
	return err
}

// dial opens a connection to `to` and caches it. If another Send cached one
// meanwhile, that one is kept and the new one closed.
func (m *PP2PLink) dial(to string) (net.Conn, error) {
	conn, err := m.dialFn("tcp", to)
	if err != nil {
		return nil, fmt.Errorf("pp2plink.Send: dial %s: %w", to, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		conn.Close()
		return nil, fmt.Errorf("pp2plink.Send: %w", net.ErrClosed)
	}
	if cached, ok := m.cache[to]; ok {
		conn.Close()
		return cached, nil
	}
	m.log.Debugf("connection opened with %s", to)
	m.cache[to] = conn
	return conn, nil
}

// forget drops conn from the cache, unless it was already replaced.
func (m *PP2PLink) forget(to string, conn net.Conn) {
	m.mu.Lock()
	if m.cache[to] == conn {
		delete(m.cache, to)
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *PP2PLink) track(conn net.Conn) {
	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()
}

func (m *PP2PLink) untrack(conn net.Conn) {
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()
	conn.Close()
}

func frame(message string) ([]byte, error) {
	if len(message) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
	}
	header := fmt.Sprintf("%0*d", headerSize, len(message))
	return append([]byte(header), message...), nil
}

func readFrame(r io.Reader) (string, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", err
	}
	size, err := strconv.Atoi(string(header))
	if err != nil {
		return "", fmt.Errorf("bad size header %q: %w", header, err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", err
	}
	return string(body), nil
}
