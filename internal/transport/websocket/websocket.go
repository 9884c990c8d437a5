// Package websocket adapts gorilla/websocket connections to transport.Link.
// Each frame travels as one binary websocket message.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/blukai/dogfight/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

const (
	SessionPath = "/session/"
	// frames never exceed 64k; anything bigger is not ours
	readLimit = 1 << 17
)

var ErrListenerClosed = errors.New("listener closed")

// Options tune a link. Zero fields take the defaults.
type Options struct {
	// PingInterval is how often a link pings its peer. A peer that does not
	// answer within PongWait is considered gone.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	// SendQueue bounds the frames waiting for the writer. A link whose queue
	// overflows is closed.
	SendQueue int
}

var DefaultOptions = Options{
	PingInterval: 20 * time.Second,
	PongWait:     45 * time.Second,
	WriteTimeout: 5 * time.Second,
	SendQueue:    1024,
}

func (o *Options) fill() {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultOptions.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultOptions.PongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultOptions.WriteTimeout
	}
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultOptions.SendQueue
	}
}

type Listener struct {
	token    string
	opts     Options
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *log.Logger

	backlog   chan transport.Link
	done      chan struct{}
	closeOnce sync.Once
}

// Listen serves websocket upgrades for token on address.
func Listen(network, address, token string, opts Options, logger *log.Logger) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %w", err)
	}

	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	opts.fill()

	l := &Listener{
		token: transport.NormalizeToken(token),
		opts:  opts,
		ln:    ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 4 << 10,
			// links are not authenticated
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		backlog: make(chan transport.Link, 64),
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SessionPath, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := l.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("websocket listener stopped")
		}
	}()

	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := transport.NormalizeToken(r.URL.Path[len(SessionPath):])
	if token != l.token {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("could not upgrade")
		return
	}

	select {
	case l.backlog <- newLink(conn, l.opts):
	case <-l.done:
		conn.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Link, error) {
	select {
	case link := <-l.backlog:
		return link, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.server.Close()
	})
	return err
}

// Dialer resolves session tokens through a directory and dials the host.
type Dialer struct {
	Directory transport.Directory
	Dialer    *websocket.Dialer
	Options   Options
}

func (d *Dialer) Dial(ctx context.Context, token string) (transport.Link, error) {
	addr, err := d.Directory.Resolve(token)
	if err != nil {
		return nil, fmt.Errorf("could not resolve token: %w", err)
	}

	u := url.URL{
		Scheme: "ws",
		Host:   addr,
		Path:   SessionPath + transport.NormalizeToken(token),
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", u.String(), err)
	}

	opts := d.Options
	opts.fill()
	return newLink(conn, opts), nil
}

var errSendQueueFull = errors.New("send queue full")

// link pumps a connection through two goroutines: the reader feeds inbound,
// the writer drains outbound and keeps the peer pinged.
type link struct {
	conn *websocket.Conn
	opts Options

	inbound  chan []byte
	outbound chan []byte

	done      chan struct{}
	closeOnce sync.Once
	err       error // set once before done is closed
}

func newLink(conn *websocket.Conn, opts Options) *link {
	l := &link{
		conn:     conn,
		opts:     opts,
		inbound:  make(chan []byte, opts.SendQueue),
		outbound: make(chan []byte, opts.SendQueue),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(readLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go l.readPump()
	go l.writePump()
	return l
}

func (l *link) readPump() {
	defer close(l.inbound)

	_ = l.conn.SetReadDeadline(time.Now().Add(l.opts.PongWait))
	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			l.shutdown(err)
			return
		}
		// any traffic proves the peer alive
		_ = l.conn.SetReadDeadline(time.Now().Add(l.opts.PongWait))
		if kind != websocket.BinaryMessage {
			continue
		}

		select {
		case l.inbound <- data:
		case <-l.done:
			return
		}
	}
}

func (l *link) writePump() {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()
	defer l.conn.Close()

	for {
		select {
		case frame := <-l.outbound:
			if err := l.write(frame); err != nil {
				l.shutdown(err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(l.opts.WriteTimeout)
			if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.shutdown(err)
				return
			}
		case <-l.done:
			// a local close still delivers what was queued before it
			if l.err == nil {
				l.flush()
			}
			_ = l.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (l *link) write(frame []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) flush() {
	for {
		select {
		case frame := <-l.outbound:
			if err := l.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (l *link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.done)
		_ = l.conn.SetReadDeadline(time.Now())
	})
}

// Send queues frame for the writer. frame must not be modified afterwards.
// A peer too slow to keep up gets its link closed.
func (l *link) Send(frame []byte) error {
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}

	select {
	case l.outbound <- frame:
		return nil
	default:
		l.shutdown(errSendQueueFull)
		return fmt.Errorf("%w: %w", transport.ErrClosed, errSendQueueFull)
	}
}

// Recv returns frames received before a close, then ErrClosed.
func (l *link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-l.inbound:
		if !ok {
			return nil, l.closedErr()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *link) closedErr() error {
	<-l.done
	if l.err == nil {
		return transport.ErrClosed
	}
	return fmt.Errorf("%w: %v", transport.ErrClosed, l.err)
}

func (l *link) Close() error {
	l.shutdown(nil)
	return nil
}

func (l *link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}
