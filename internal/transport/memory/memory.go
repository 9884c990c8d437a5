// Package memory is an in-process transport. Links are unbounded ordered
// queues, so sends never block the simulation loop.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blukai/dogfight/internal/transport"
)

var ErrListenerClosed = errors.New("listener closed")

// Network connects memory dialers to memory listeners by session token.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	nextAddr  atomic.Uint64
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*Listener)}
}

// Listen registers a listener reachable under token.
func (n *Network) Listen(token string) (*Listener, error) {
	token = transport.NormalizeToken(token)

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[token]; ok {
		return nil, fmt.Errorf("token %q already in use", token)
	}
	ln := &Listener{
		network: n,
		token:   token,
		backlog: make(chan transport.Link, 64),
		done:    make(chan struct{}),
	}
	n.listeners[token] = ln
	return ln, nil
}

func (n *Network) Dial(ctx context.Context, token string) (transport.Link, error) {
	token = transport.NormalizeToken(token)

	n.mu.Lock()
	ln, ok := n.listeners[token]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownToken, token)
	}

	local, remote := n.Pipe()
	select {
	case ln.backlog <- remote:
		return local, nil
	case <-ln.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pipe returns two connected links.
func (n *Network) Pipe() (transport.Link, transport.Link) {
	id := n.nextAddr.Add(1)
	a := newLink(fmt.Sprintf("mem-%d-a", id))
	b := newLink(fmt.Sprintf("mem-%d-b", id))
	a.peer, b.peer = b, a
	return a, b
}

func (n *Network) remove(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, token)
}

type Listener struct {
	network   *Network
	token     string
	backlog   chan transport.Link
	done      chan struct{}
	closeOnce sync.Once
}

func (ln *Listener) Accept(ctx context.Context) (transport.Link, error) {
	select {
	case link := <-ln.backlog:
		return link, nil
	case <-ln.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ln *Listener) Addr() string {
	return "mem://" + ln.token
}

func (ln *Listener) Close() error {
	ln.closeOnce.Do(func() {
		close(ln.done)
		ln.network.remove(ln.token)
	})
	return nil
}

type link struct {
	addr string
	peer *link

	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed bool
}

func newLink(addr string) *link {
	return &link{
		addr:   addr,
		notify: make(chan struct{}, 1),
	}
}

func (l *link) Send(frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	return l.peer.push(buf)
}

func (l *link) push(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrClosed
	}
	l.queue = append(l.queue, frame)
	l.wake()
	return nil
}

// wake must be called with mu held.
func (l *link) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Recv drains frames queued before a close, then reports ErrClosed.
func (l *link) Recv(ctx context.Context) ([]byte, error) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			frame := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return frame, nil
		}
		if l.closed {
			l.mu.Unlock()
			return nil, transport.ErrClosed
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *link) Close() error {
	l.shutdown()
	l.peer.shutdown()
	return nil
}

func (l *link) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.wake()
}

func (l *link) RemoteAddr() string {
	return l.peer.addr
}
