package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ErrClosed is returned by Recv and Send once a link has closed. Silent link
// death surfaces as ErrClosed too.
var ErrClosed = errors.New("link closed")

var ErrUnknownToken = errors.New("unknown session token")

// Link is an ordered, reliable, message-oriented connection between two
// endpoints.
type Link interface {
	// Send is fire-and-forget against the link's own buffering.
	Send(frame []byte) error
	// Recv blocks until the next frame, ctx cancellation or close.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	// RemoteAddr identifies the other side. unique per open link.
	RemoteAddr() string
}

// Listener is the host side.
type Listener interface {
	Accept(ctx context.Context) (Link, error)
	Addr() string
	Close() error
}

// Dialer is the client side. token is the human-shareable session code.
type Dialer interface {
	Dial(ctx context.Context, token string) (Link, error)
}

// Directory maps session tokens to host addresses.
type Directory interface {
	Resolve(token string) (string, error)
}

type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{entries: make(map[string]string)}
}

func (d *StaticDirectory) Register(token, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[NormalizeToken(token)] = addr
}

func (d *StaticDirectory) Unregister(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, NormalizeToken(token))
}

func (d *StaticDirectory) Resolve(token string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.entries[NormalizeToken(token)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
	return addr, nil
}

const (
	TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	TokenLength   = 6
)

// NewToken returns a random session code.
func NewToken() string {
	b := make([]byte, TokenLength)
	max := big.NewInt(int64(len(TokenAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("could not read random: %v", err))
		}
		b[i] = TokenAlphabet[idx.Int64()]
	}
	return string(b)
}

// NormalizeToken upper-cases and trims what a human typed.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// ValidToken reports whether token has the right length and alphabet.
func ValidToken(token string) bool {
	token = NormalizeToken(token)
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if strings.IndexByte(TokenAlphabet, token[i]) < 0 {
			return false
		}
	}
	return true
}
