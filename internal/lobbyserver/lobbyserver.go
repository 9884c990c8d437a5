package lobbyserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blukai/dogfight/internal/arbiter"
	"github.com/blukai/dogfight/internal/boss"
	"github.com/blukai/dogfight/internal/debug"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/router"
	"github.com/blukai/dogfight/internal/transport"
	"github.com/blukai/dogfight/internal/world"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// HostID is the host's own participant identity.
const HostID = "host"

var (
	ErrStopped     = errors.New("lobby server stopped")
	ErrPvpDisabled = errors.New("pvp damage is disabled")
	ErrUnknownPeer = errors.New("unknown participant")
)

// Notifier receives events meant for the host's own user. Defaults to a
// no-op.
type Notifier interface {
	PlayerJoined(id, name string)
	PlayerLeft(id string)
	Chat(msg protocol.ChatMessage)
	Hail(msg protocol.Hail)
	HailReply(msg protocol.HailReply)
}

type NopNotifier struct{}

func (NopNotifier) PlayerJoined(string, string)  {}
func (NopNotifier) PlayerLeft(string)            {}
func (NopNotifier) Chat(protocol.ChatMessage)    {}
func (NopNotifier) Hail(protocol.Hail)           {}
func (NopNotifier) HailReply(protocol.HailReply) {}

type Config struct {
	Name         string
	Version      int
	ScreenWidth  int
	ScreenHeight int
	// TickRate is simulation steps per second.
	TickRate int
	Rules    protocol.Rules

	HandshakeTimeout time.Duration
	HailTTL          time.Duration

	World   world.Config
	Arbiter arbiter.Config
	Boss    boss.Config

	Notifier Notifier
}

func DefaultConfig() Config {
	return Config{
		Name:             "Host",
		Version:          protocol.Version,
		ScreenWidth:      1280,
		ScreenHeight:     720,
		TickRate:         30,
		Rules:            protocol.Rules{HostileSpawn: true},
		HandshakeTimeout: 10 * time.Second,
		HailTTL:          30 * time.Second,
		Arbiter:          arbiter.DefaultConfig(),
		Boss:             boss.DefaultConfig(),
	}
}

func (cfg *Config) fill() {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == 0 {
		cfg.Version = def.Version
	}
	if cfg.ScreenWidth <= 0 {
		cfg.ScreenWidth = def.ScreenWidth
	}
	if cfg.ScreenHeight <= 0 {
		cfg.ScreenHeight = def.ScreenHeight
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HailTTL <= 0 {
		cfg.HailTTL = def.HailTTL
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
}

type linkKey uint64

func makeLinkKey(link transport.Link) linkKey {
	return linkKey(xxhash.Sum64String(link.RemoteAddr()))
}

// endpoint is one client link. Everything except link and key is owned by
// the loop goroutine.
type endpoint struct {
	key  linkKey
	link transport.Link

	id        string
	name      string
	joined    bool
	handshake float64 // seconds left to send ClientHello
	width     int
	height    int
}

type hailKey struct {
	from, to string
}

// Server is the host endpoint. A single loop goroutine owns the world; link
// readers and public methods hand it closures through the inbox.
type Server struct {
	ln     transport.Listener
	cfg    Config
	logger *log.Logger

	inbox chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	world   *world.World
	router  *router.Router
	arbiter *arbiter.Arbiter
	boss    *boss.Controller

	endpoints  map[linkKey]*endpoint
	byID       map[string]*endpoint
	nextClient int
	hails      map[hailKey]float64
	syncTimer  float64
}

func NewLobbyServer(ln transport.Listener, cfg Config, logger *log.Logger) (*Server, error) {
	debug.Assert(ln != nil, "lobby server needs a listener")

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	cfg.fill()

	s := &Server{
		ln:     ln,
		cfg:    cfg,
		logger: logger,

		inbox: make(chan func(), 256),
		done:  make(chan struct{}),

		endpoints: make(map[linkKey]*endpoint),
		byID:      make(map[string]*endpoint),
		hails:     make(map[hailKey]float64),
	}

	s.world = world.New(s, nil, cfg.World)
	s.world.Rules = cfg.Rules
	s.world.Width = cfg.ScreenWidth
	s.world.Height = cfg.ScreenHeight
	s.world.Players.Add(HostID, cfg.Name)

	s.boss = boss.New(s.world, s, cfg.Boss, logger)
	s.arbiter = arbiter.New(s.world, s, s.boss, cfg.Arbiter, logger)

	r, err := router.New(router.RoleHost, s, logger)
	if err != nil {
		return nil, fmt.Errorf("could not construct router: %w", err)
	}
	s.router = r
	s.registerHandlers()

	return s, nil
}

// Addr is the listener's address, useful with ":0" listeners.
func (s *Server) Addr() string {
	return s.ln.Addr()
}

func (s *Server) runAccept(ctx context.Context) {
	for {
		link, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error().
					Err(err).
					Msg("could not accept link")
			}
			return
		}

		ep := &endpoint{
			key:  makeLinkKey(link),
			link: link,
		}
		if !s.post(ctx, func() { s.attach(ep) }) {
			link.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runRecv(ctx, ep)
		}()
	}
}

func (s *Server) runRecv(ctx context.Context, ep *endpoint) {
	for {
		frame, err := ep.link.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug().
					Err(err).
					Str("addr", ep.link.RemoteAddr()).
					Msg("link closed")
			}
			s.post(ctx, func() { s.detach(ep) })
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("addr", ep.link.RemoteAddr()).
				Msg("could not decode frame")
			continue
		}

		if !s.post(ctx, func() { s.handle(ep, env) }) {
			return
		}
	}
}

func (s *Server) post(ctx context.Context, fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) runLoop(ctx context.Context) {
	dt := 1 / float64(s.cfg.TickRate)
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		case <-ticker.C:
			s.tick(dt)
		}
	}
}

func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAccept(ctx)
	}()

	s.runLoop(ctx)
	close(s.done)

	err := s.ln.Close()
	for _, ep := range s.endpoints {
		ep.link.Close()
	}
	s.wg.Wait()

	return err
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Server) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.inbox <- func() { errCh <- fn() }:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) attach(ep *endpoint) {
	if _, exists := s.endpoints[ep.key]; exists {
		s.logger.Warn().
			Str("addr", ep.link.RemoteAddr()).
			Msg("link key clash, refusing link")
		ep.link.Close()
		return
	}

	ep.handshake = s.cfg.HandshakeTimeout.Seconds()
	s.endpoints[ep.key] = ep

	s.logger.Debug().
		Str("addr", ep.link.RemoteAddr()).
		Msg("link opened")
}

// attached reports whether ep is the endpoint registered under its key.
func (s *Server) attached(ep *endpoint) bool {
	cur, ok := s.endpoints[ep.key]
	return ok && cur == ep
}

func (s *Server) detach(ep *endpoint) {
	if !s.attached(ep) {
		return
	}
	delete(s.endpoints, ep.key)
	ep.link.Close()

	if !ep.joined {
		return
	}
	delete(s.byID, ep.id)
	s.world.Players.Remove(ep.id)
	for k := range s.hails {
		if k.from == ep.id || k.to == ep.id {
			delete(s.hails, k)
		}
	}

	s.Broadcast(protocol.MsgPlayerLeft, protocol.PlayerLeft{ID: ep.id})
	s.cfg.Notifier.PlayerLeft(ep.id)

	s.logger.Info().
		Str("endpoint", ep.id).
		Str("name", ep.name).
		Msg("player left")

	if s.world.Phase == world.PhasePlaying {
		s.arbiter.CheckVictory()
	}
}

func (s *Server) handle(ep *endpoint, env protocol.Envelope) {
	if !s.attached(ep) {
		return
	}

	if !ep.joined {
		if env.Type != protocol.MsgClientHello {
			s.logger.Debug().
				Str("addr", ep.link.RemoteAddr()).
				Stringer("type", env.Type).
				Msg("ignoring message before handshake")
			return
		}
		s.handshake(ep, env)
		return
	}

	if env.Type.Class() == protocol.ClassHandshake {
		return
	}

	s.logger.Trace().
		Str("endpoint", ep.id).
		Stringer("type", env.Type).
		Msg("recv")

	s.router.Route(ep.id, env)
}

func (s *Server) tick(dt float64) {
	for _, ep := range s.endpoints {
		if ep.joined {
			continue
		}
		ep.handshake -= dt
		if ep.handshake <= 0 {
			s.logger.Warn().
				Str("addr", ep.link.RemoteAddr()).
				Msg("handshake timed out")
			s.detach(ep)
		}
	}

	for k, ttl := range s.hails {
		ttl -= dt
		if ttl <= 0 {
			delete(s.hails, k)
			s.logger.Debug().
				Str("from", k.from).
				Str("to", k.to).
				Msg("hail expired")
			continue
		}
		s.hails[k] = ttl
	}

	if s.world.Phase != world.PhasePlaying {
		return
	}

	s.world.Elapsed += dt

	if s.boss.Tick(dt) {
		s.endGame("boss defeated")
		return
	}
	s.world.Entities.Tick(dt)

	if s.arbiter.VictoryDeclared() {
		s.endGame("pvp victory")
		return
	}

	s.syncTimer += dt
	if s.syncTimer >= 1 {
		s.syncTimer -= 1
		s.Broadcast(protocol.MsgSyncTimer, protocol.SyncTimer{Elapsed: s.world.Elapsed})
	}
}

// Broadcast implements world.Broadcaster: encode once, send to every joined
// client. Failing links are closed and leave through their reader.
func (s *Server) Broadcast(t protocol.MessageType, payload any) {
	s.broadcastExcept(t, payload, "")
}

func (s *Server) broadcastExcept(t protocol.MessageType, payload any, exclude string) {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		s.logger.Error().
			Err(err).
			Stringer("type", t).
			Msg("could not encode broadcast")
		return
	}
	if err := s.RelayExcept(env, exclude); err != nil {
		s.logger.Warn().
			Err(err).
			Stringer("type", t).
			Msg("broadcast partially failed")
	}
}

// RelayExcept implements router.Relay.
func (s *Server) RelayExcept(env protocol.Envelope, exclude string) error {
	frame, err := env.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not marshal envelope: %w", err)
	}

	var errs error
	for _, ep := range s.byID {
		// don't send to the excluded endpoint
		if ep.id == exclude {
			continue
		}
		if err := ep.link.Send(frame); err != nil {
			ep.link.Close()
			errs = multierror.Append(errs, fmt.Errorf("could not send to %s: %w", ep.id, err))
		}
	}
	return errs
}

func (s *Server) sendTo(ep *endpoint, t protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", t, err)
	}
	if err := ep.link.Send(frame); err != nil {
		ep.link.Close()
		return fmt.Errorf("could not send %s: %w", t, err)
	}
	return nil
}
