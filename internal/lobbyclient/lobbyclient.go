package lobbyclient

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
	"github.com/phuslu/log"
)

var (
	ErrJoinTimeout      = errors.New("join timed out")
	ErrVersionMismatch  = errors.New("protocol version mismatch")
	ErrConnect          = errors.New("could not connect to host")
	ErrHostDisconnected = errors.New("host disconnected")
	ErrPvpDisabled      = errors.New("pvp is disabled")
)

// VersionMismatchError is returned by Join when the host speaks another
// protocol version. It matches ErrVersionMismatch with errors.Is.
type VersionMismatchError struct {
	HostVersion   int
	ClientVersion int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch (host %d; client %d)", e.HostVersion, e.ClientVersion)
}

func (e *VersionMismatchError) Unwrap() error {
	return ErrVersionMismatch
}

// Notifier receives session events meant for the player rather than the
// world mirror. Calls happen on the Run goroutine.
type Notifier interface {
	PlayerJoined(msg protocol.PlayerJoined)
	PlayerLeft(id string)
	GameFlow(t protocol.MessageType, msg protocol.GameFlow)
	GameOver(msg protocol.GameOver)
	PvpVictory(msg protocol.PvpVictory)
	Chat(msg protocol.ChatMessage)
	Hail(msg protocol.Hail)
	HailReply(msg protocol.HailReply)
	HostLost()
}

type NopNotifier struct{}

func (NopNotifier) PlayerJoined(protocol.PlayerJoined)               {}
func (NopNotifier) PlayerLeft(string)                                {}
func (NopNotifier) GameFlow(protocol.MessageType, protocol.GameFlow) {}
func (NopNotifier) GameOver(protocol.GameOver)                       {}
func (NopNotifier) PvpVictory(protocol.PvpVictory)                   {}
func (NopNotifier) Chat(protocol.ChatMessage)                        {}
func (NopNotifier) Hail(protocol.Hail)                               {}
func (NopNotifier) HailReply(protocol.HailReply)                     {}
func (NopNotifier) HostLost()                                        {}

type Config struct {
	Name         string
	Version      int
	ScreenWidth  int
	ScreenHeight int
	JoinTimeout  time.Duration

	Players  world.PlayerDefaults
	Effects  world.Effects
	Notifier Notifier
}

func DefaultConfig() Config {
	return Config{
		Name:         "Pilot",
		Version:      protocol.Version,
		ScreenWidth:  1280,
		ScreenHeight: 720,
		JoinTimeout:  10 * time.Second,
		Players:      world.DefaultPlayerDefaults,
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
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.Players.Hull <= 0 {
		cfg.Players = def.Players
	}
	if cfg.Effects == nil {
		cfg.Effects = world.NopEffects{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
}

type LobbyClient struct {
	link   transport.Link
	cfg    Config
	logger *log.Logger
	router *router.Router

	// NOTE: everything below is guarded by mu. Run holds it while applying a
	// message, intents and View take it too.
	mu     sync.Mutex
	mirror *world.Mirror
	boss   *boss.Mirror
	server protocol.ServerConfig
}

// Join dials the session behind token and completes the handshake. It fails
// with ErrJoinTimeout, ErrVersionMismatch or ErrConnect.
func Join(ctx context.Context, dialer transport.Dialer, token string, cfg Config, logger *log.Logger) (*LobbyClient, error) {
	debug.Assert(dialer != nil)
	cfg.fill()

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	joinCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()

	link, err := dialer.Dial(joinCtx, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrJoinTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	c := &LobbyClient{
		link:   link,
		cfg:    cfg,
		logger: logger,
		mirror: world.NewMirror(cfg.Effects, cfg.Players),
		boss:   boss.NewMirror(),
	}

	c.router, err = router.New(router.RoleClient, nil, logger)
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("could not create router: %w", err)
	}
	c.registerHandlers()

	if err := c.handshake(joinCtx); err != nil {
		link.Close()
		return nil, err
	}
	return c, nil
}

func (c *LobbyClient) handshake(ctx context.Context) error {
	hello := protocol.ClientHello{
		Name:         c.cfg.Name,
		ScreenWidth:  c.cfg.ScreenWidth,
		ScreenHeight: c.cfg.ScreenHeight,
		Version:      c.cfg.Version,
	}
	if err := c.send(protocol.MsgClientHello, hello); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	for {
		frame, err := c.link.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrJoinTimeout
			}
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("could not decode frame during join")
			continue
		}

		switch env.Type {
		case protocol.MsgVersionMismatch:
			msg, err := protocol.DecodePayload[protocol.VersionMismatch](env)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrConnect, err)
			}
			return &VersionMismatchError{HostVersion: msg.HostVersion, ClientVersion: c.cfg.Version}

		case protocol.MsgServerConfig:
			msg, err := protocol.DecodePayload[protocol.ServerConfig](env)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrConnect, err)
			}
			c.applyServerConfig(msg)
			c.logger.Info().
				Str("id", msg.YourID).
				Str("host", msg.HostName).
				Int("width", msg.GameWidth).
				Int("height", msg.GameHeight).
				Msg("joined session")
			return nil

		default:
			c.logger.Debug().
				Stringer("type", env.Type).
				Msg("ignoring message before server config")
		}
	}
}

func (c *LobbyClient) applyServerConfig(msg protocol.ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.server = msg

	m := c.mirror
	m.SelfID = msg.YourID
	m.Rules = msg.Rules
	m.Phase = world.ParsePhase(msg.Phase)
	m.Width, m.Height = msg.GameWidth, msg.GameHeight

	m.Players.AddColored(msg.HostID, msg.HostName, msg.HostColor)
	for _, info := range msg.ExistingPlayers {
		p := m.Players.AddColored(info.ID, info.Name, info.Color)
		p.X, p.Y = info.X, info.Y
	}
	m.Players.AddColored(msg.YourID, c.cfg.Name, msg.YourColor)
}

// Run applies host messages until ctx is done or the host goes away. Losing
// the host drops the mirror back to the menu and returns ErrHostDisconnected.
func (c *LobbyClient) Run(ctx context.Context) error {
	for {
		frame, err := c.link.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.link.Close()
			}
			c.hostLost()
			return fmt.Errorf("%w: %w", ErrHostDisconnected, err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("could not decode frame")
			continue
		}

		c.logger.Debug().
			Stringer("type", env.Type).
			Int("size", len(env.Data)).
			Msg("recv")

		c.mu.Lock()
		c.router.Route(c.server.HostID, env)
		c.mu.Unlock()
	}
}

func (c *LobbyClient) hostLost() {
	c.mu.Lock()
	c.mirror.Disconnect()
	c.boss.Reset()
	c.mu.Unlock()

	c.link.Close()
	c.cfg.Notifier.HostLost()
	c.logger.Warn().Msg("host disconnected")
}

// Close leaves the session.
func (c *LobbyClient) Close() error {
	return c.link.Close()
}

// ID is the identity the host assigned at join.
func (c *LobbyClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.YourID
}

// ServerConfig returns the handshake reply.
func (c *LobbyClient) ServerConfig() protocol.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// View runs fn with the mirrors locked. fn must not keep references past its
// return.
func (c *LobbyClient) View(fn func(m *world.Mirror, b *boss.Mirror)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.mirror, c.boss)
}

func (c *LobbyClient) send(t protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", t, err)
	}
	if err := c.link.Send(frame); err != nil {
		return fmt.Errorf("could not send %s: %w", t, err)
	}
	return nil
}

// SendMove updates the local avatar and reports it to the host. A dead
// avatar stays put.
func (c *LobbyClient) SendMove(msg protocol.ClientMove) error {
	c.mu.Lock()
	self, ok := c.mirror.Self()
	if !ok || self.Dead {
		c.mu.Unlock()
		return nil
	}
	self.X, self.Y = msg.X, msg.Y
	self.Heading = world.NormalizeDeg(msg.Heading)
	self.BounceVX, self.BounceVY, self.BounceTimer = msg.BounceVX, msg.BounceVY, msg.BounceTimer
	c.mu.Unlock()

	msg.Dead = false
	return c.send(protocol.MsgClientMove, msg)
}

// FireWeapon announces a shot. The host echoes it back to every endpoint,
// this one included.
func (c *LobbyClient) FireWeapon(msg protocol.WeaponFired) error {
	msg.OwnerID = c.ID()
	return c.send(protocol.MsgWeaponFired, msg)
}

// ReportCollision tells the host the local avatar touched an entity.
func (c *LobbyClient) ReportCollision(entityID, cause string) error {
	c.mu.Lock()
	self, ok := c.mirror.Self()
	if !ok || self.Dead {
		c.mu.Unlock()
		return nil
	}
	msg := protocol.CollisionEvent{EntityID: entityID, Cause: cause, X: self.X, Y: self.Y}
	c.mu.Unlock()

	return c.send(protocol.MsgCollisionEvent, msg)
}

func (c *LobbyClient) SendChat(text string) error {
	return c.send(protocol.MsgChatMessage, protocol.ChatMessage{From: c.ID(), Name: c.cfg.Name, Text: text})
}

// DealPvpDamage reports a hit on another participant. The target decides
// the outcome.
func (c *LobbyClient) DealPvpDamage(targetID string, damage float64) error {
	c.mu.Lock()
	if !c.mirror.Rules.PvpEnabled {
		c.mu.Unlock()
		return ErrPvpDisabled
	}
	self, ok := c.mirror.Self()
	if !ok || self.Dead {
		c.mu.Unlock()
		return nil
	}
	msg := protocol.PvpDamage{
		AttackerID: self.ID,
		TargetID:   targetID,
		Damage:     damage,
		X:          self.X,
		Y:          self.Y,
	}
	c.mu.Unlock()

	return c.send(protocol.MsgPvpDamage, msg)
}

func (c *LobbyClient) Hail(to, text string) error {
	return c.send(protocol.MsgHail, protocol.Hail{From: c.ID(), To: to, Text: text})
}

func (c *LobbyClient) ReplyHail(to string, accept bool) error {
	return c.send(protocol.MsgHailReply, protocol.HailReply{From: c.ID(), To: to, Accept: accept})
}

// hitSelf evaluates PvP damage aimed at the local avatar. Must be called
// with mu held.
func (c *LobbyClient) hitSelf(msg protocol.PvpDamage) {
	self, ok := c.mirror.Self()
	if !ok {
		return
	}
	res := arbiter.ApplyPvpDamage(self, msg)
	if !res.Applied {
		return
	}

	if err := c.send(protocol.MsgShieldState, protocol.ShieldState{
		ID:     self.ID,
		Shield: self.Shield,
		Hull:   self.Hull,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("could not report shield state")
	}

	if !res.Killed {
		return
	}
	c.cfg.Effects.PlayerDied(self)
	if err := c.send(protocol.MsgPlayerDeath, protocol.PlayerDeath{ID: self.ID, KillerID: msg.AttackerID}); err != nil {
		c.logger.Warn().Err(err).Msg("could not report death")
	}
	c.logger.Info().
		Str("killer", msg.AttackerID).
		Msg("shot down")
}
