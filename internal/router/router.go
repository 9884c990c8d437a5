package router

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/blukai/dogfight/internal/debug"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/blukai/dogfight/internal/router"

type Role uint8

const (
	RoleHost Role = iota + 1
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Handler applies a message locally. sender is the identity of the endpoint
// the envelope arrived from.
type Handler func(sender string, env protocol.Envelope) error

// ErrDrop tells the router the message was consumed and must not be relayed.
// It is not logged as a failure.
var ErrDrop = errors.New("drop")

// Relay forwards envelopes to other endpoints. Only the host relays.
type Relay interface {
	// RelayExcept sends env to every endpoint except exclude. An empty
	// exclude sends to everyone.
	RelayExcept(env protocol.Envelope, exclude string) error
}

// Disposition says what Route did with an envelope.
type Disposition uint8

const (
	Delivered Disposition = iota
	Relayed
	IgnoredUnknown
	IgnoredViolation
	IgnoredNoHandler
	Dropped
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Relayed:
		return "relayed"
	case IgnoredUnknown:
		return "ignored-unknown"
	case IgnoredViolation:
		return "ignored-violation"
	case IgnoredNoHandler:
		return "ignored-no-handler"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

type Router struct {
	role     Role
	relay    Relay
	handlers [protocol.MsgMax]Handler

	logger *log.Logger

	routed  metric.Int64Counter
	dropped metric.Int64Counter
	relayed metric.Int64Counter
}

// New builds a router for role. relay may be nil on clients. Metrics go to
// the global OTel meter provider, a no-op unless one is installed.
func New(role Role, relay Relay, logger *log.Logger) (*Router, error) {
	debug.Assert(role == RoleHost || role == RoleClient)
	debug.Assert(role == RoleClient || relay != nil, "host router needs a relay")

	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	r := &Router{
		role:   role,
		relay:  relay,
		logger: logger,
	}

	m := otel.Meter(meterName)

	var err error
	r.routed, err = m.Int64Counter(
		"router.messages.routed",
		metric.WithDescription("Messages handed to a local handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating routed counter: %w", err)
	}
	r.dropped, err = m.Int64Counter(
		"router.messages.dropped",
		metric.WithDescription("Messages ignored as unknown, unauthorized or malformed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	r.relayed, err = m.Int64Counter(
		"router.messages.relayed",
		metric.WithDescription("Messages relayed by the host to other endpoints"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relayed counter: %w", err)
	}

	return r, nil
}

func (r *Router) Role() Role {
	return r.role
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t protocol.MessageType, h Handler) {
	debug.Assertf(t.Known(), "handler for unknown type %d", t)
	r.handlers[t] = h
}

// Route dispatches env from sender. Nothing here is fatal: unknown types
// and authority violations are ignored silently.
func (r *Router) Route(sender string, env protocol.Envelope) Disposition {
	ctx := context.Background()
	typeAttr := metric.WithAttributes(attribute.String("type", env.Type.String()))

	class := env.Type.Class()
	switch {
	case class == protocol.ClassUnknown:
		r.logger.Debug().
			Str("sender", sender).
			Stringer("type", env.Type).
			Msg("ignoring unknown message type")
		r.dropped.Add(ctx, 1, typeAttr)
		return IgnoredUnknown

	case r.role == RoleClient && class == protocol.ClassHostOnly,
		r.role == RoleHost && class == protocol.ClassHostEmitted:
		r.logger.Debug().
			Str("sender", sender).
			Stringer("type", env.Type).
			Stringer("role", r.role).
			Msg("ignoring message not meant for this role")
		r.dropped.Add(ctx, 1, typeAttr)
		return IgnoredViolation
	}

	disposition := Delivered
	if h := r.handlers[env.Type]; h != nil {
		err := h(sender, env)
		switch {
		case errors.Is(err, ErrDrop):
			r.dropped.Add(ctx, 1, typeAttr)
			return Dropped
		case err != nil:
			r.logger.Warn().
				Err(err).
				Str("sender", sender).
				Stringer("type", env.Type).
				Msg("could not handle message")
			r.dropped.Add(ctx, 1, typeAttr)
			return Failed
		}
		r.routed.Add(ctx, 1, typeAttr)
	} else {
		disposition = IgnoredNoHandler
	}

	if r.role != RoleHost {
		return disposition
	}

	exclude := ""
	switch class {
	case protocol.ClassBroadcastRelay:
		exclude = sender
	case protocol.ClassBroadcastEcho:
	default:
		return disposition
	}

	if err := r.relay.RelayExcept(env, exclude); err != nil {
		r.logger.Warn().
			Err(err).
			Str("sender", sender).
			Stringer("type", env.Type).
			Msg("could not relay message")
	}
	r.relayed.Add(ctx, 1, typeAttr)

	return Relayed
}
