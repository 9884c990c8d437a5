package lobbyclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blukai/dogfight/internal/boss"
	"github.com/blukai/dogfight/internal/lobbyclient"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/transport"
	"github.com/blukai/dogfight/internal/transport/memory"
	"github.com/blukai/dogfight/internal/transport/websocket"
	"github.com/blukai/dogfight/internal/world"
	"github.com/matryer/is"
)

const token = "QWE234"

// fakeHost plays the host side of a single link by hand.
type fakeHost struct {
	t    *testing.T
	link transport.Link
}

func (h *fakeHost) send(mt protocol.MessageType, payload any) {
	h.t.Helper()
	frame, err := protocol.Encode(mt, payload)
	if err != nil {
		h.t.Fatalf("could not encode %s: %v", mt, err)
	}
	if err := h.link.Send(frame); err != nil {
		h.t.Fatalf("could not send %s: %v", mt, err)
	}
}

func expect[T any](h *fakeHost, mt protocol.MessageType) T {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		frame, err := h.link.Recv(ctx)
		if err != nil {
			h.t.Fatalf("waiting for %s: %v", mt, err)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			h.t.Fatalf("could not decode: %v", err)
		}
		if env.Type != mt {
			continue
		}
		msg, err := protocol.DecodePayload[T](env)
		if err != nil {
			h.t.Fatalf("could not decode %s: %v", mt, err)
		}
		return msg
	}
}

func serverConfig() protocol.ServerConfig {
	return protocol.ServerConfig{
		YourID:     "client_1",
		YourColor:  1,
		GameWidth:  800,
		GameHeight: 600,
		HostID:     "host",
		HostName:   "Hosty",
		HostColor:  0,
		ExistingPlayers: []protocol.PlayerInfo{
			{ID: "client_7", Name: "Bob", X: 5, Y: 6, Color: 2},
		},
		Rules: protocol.Rules{PvpEnabled: true},
		Phase: "playing",
	}
}

// join connects a client to a fake host that answers the hello with cfg.
func join(t *testing.T, cfg lobbyclient.Config, reply protocol.ServerConfig) (*lobbyclient.LobbyClient, *fakeHost) {
	t.Helper()

	net := memory.NewNetwork()
	ln, err := net.Listen(token)
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	hostCh := make(chan *fakeHost, 1)
	go func() {
		link, err := ln.Accept(context.Background())
		if err != nil {
			close(hostCh)
			return
		}
		h := &fakeHost{t: t, link: link}
		expect[protocol.ClientHello](h, protocol.MsgClientHello)
		h.send(protocol.MsgServerConfig, reply)
		hostCh <- h
	}()

	c, err := lobbyclient.Join(context.Background(), net, token, cfg, nil)
	if err != nil {
		t.Fatalf("could not join: %v", err)
	}
	h, ok := <-hostCh
	if !ok {
		t.Fatal("fake host did not accept")
	}
	return c, h
}

func run(t *testing.T, c *lobbyclient.LobbyClient) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()
	t.Cleanup(cancel)
	return errCh
}

// eventually polls cond against the mirrors until it holds.
func eventually(t *testing.T, c *lobbyclient.LobbyClient, cond func(m *world.Mirror, b *boss.Mirror) bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		c.View(func(m *world.Mirror, b *boss.Mirror) {
			ok = cond(m, b)
		})
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

type countingEffects struct {
	mu           sync.Mutex
	entityDeaths int
	playerDeaths int
	shots        int
}

func (e *countingEffects) EntityDied(*world.Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entityDeaths++
}

func (e *countingEffects) PlayerDied(*world.Player) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playerDeaths++
}

func (e *countingEffects) Explosion(protocol.Explosion) {}

func (e *countingEffects) WeaponFired(protocol.WeaponFired) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shots++
}

func (e *countingEffects) counts() (int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entityDeaths, e.playerDeaths, e.shots
}

func TestJoinBuildsMirror(t *testing.T) {
	is := is.New(t)

	c, _ := join(t, lobbyclient.Config{Name: "Ace"}, serverConfig())
	is.Equal(c.ID(), "client_1")

	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		is.Equal(m.Phase, world.PhasePlaying)
		is.Equal(m.Width, 800)
		is.Equal(m.Height, 600)
		is.True(m.Rules.PvpEnabled)
		is.Equal(m.Players.Len(), 3)

		host, ok := m.Players.Get("host")
		is.True(ok)
		is.Equal(host.Name, "Hosty")

		bob, ok := m.Players.Get("client_7")
		is.True(ok)
		is.Equal(bob.X, 5.0)
		is.Equal(bob.Color, 2)

		self, ok := m.Self()
		is.True(ok)
		is.Equal(self.Name, "Ace")
		is.Equal(self.Color, 1)
	})
}

func TestJoinFailures(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		is := is.New(t)

		_, err := lobbyclient.Join(context.Background(), memory.NewNetwork(), "ZZZZZZ", lobbyclient.Config{}, nil)
		is.True(errors.Is(err, lobbyclient.ErrConnect))
	})

	t.Run("silent host", func(t *testing.T) {
		is := is.New(t)

		net := memory.NewNetwork()
		ln, err := net.Listen(token)
		is.NoErr(err)
		defer ln.Close()

		_, err = lobbyclient.Join(context.Background(), net, token, lobbyclient.Config{JoinTimeout: 50 * time.Millisecond}, nil)
		is.True(errors.Is(err, lobbyclient.ErrJoinTimeout))
	})

	t.Run("silent host over websocket", func(t *testing.T) {
		is := is.New(t)

		// nobody accepts, so the hello is never answered
		ln, err := websocket.Listen("tcp4", "127.0.0.1:0", token, websocket.Options{}, nil)
		is.NoErr(err)
		defer ln.Close()

		dir := transport.NewStaticDirectory()
		dir.Register(token, ln.Addr())

		start := time.Now()
		_, err = lobbyclient.Join(context.Background(), &websocket.Dialer{Directory: dir}, token, lobbyclient.Config{JoinTimeout: 200 * time.Millisecond}, nil)
		is.True(errors.Is(err, lobbyclient.ErrJoinTimeout))
		is.True(time.Since(start) < 2*time.Second)
	})

	t.Run("version mismatch", func(t *testing.T) {
		is := is.New(t)

		net := memory.NewNetwork()
		ln, err := net.Listen(token)
		is.NoErr(err)
		defer ln.Close()

		go func() {
			link, err := ln.Accept(context.Background())
			if err != nil {
				return
			}
			h := &fakeHost{t: t, link: link}
			expect[protocol.ClientHello](h, protocol.MsgClientHello)
			h.send(protocol.MsgVersionMismatch, protocol.VersionMismatch{HostVersion: 3})
			link.Close()
		}()

		_, err = lobbyclient.Join(context.Background(), net, token, lobbyclient.Config{Version: 2}, nil)
		is.True(errors.Is(err, lobbyclient.ErrVersionMismatch))

		var mismatch *lobbyclient.VersionMismatchError
		is.True(errors.As(err, &mismatch))
		is.Equal(mismatch.HostVersion, 3)
		is.Equal(mismatch.ClientVersion, 2)
	})
}

func TestEntityMirror(t *testing.T) {
	is := is.New(t)

	effects := &countingEffects{}
	c, h := join(t, lobbyclient.Config{Effects: effects}, serverConfig())
	run(t, c)

	h.send(protocol.MsgEntityCreate, protocol.EntityCreate{EntityID: "enemy_1", Kind: "enemy", X: 1, Y: 2, HP: 30})
	h.send(protocol.MsgEntityCreate, protocol.EntityCreate{EntityID: "enemy_1", Kind: "enemy", X: 99, Y: 99, HP: 30})
	h.send(protocol.MsgEntityMove, protocol.EntityMove{EntityID: "enemy_1", X: 10, Y: 20, HP: 30})
	h.send(protocol.MsgEntityMove, protocol.EntityMove{EntityID: "enemy_1", X: 11, Y: 21, Dead: true})
	h.send(protocol.MsgEntityMove, protocol.EntityMove{EntityID: "enemy_1", X: 50, Y: 50, Dead: true})
	h.send(protocol.MsgSyncTimer, protocol.SyncTimer{Elapsed: 3})

	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool { return m.Elapsed == 3 })

	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		e, ok := m.Entity("enemy_1")
		is.True(ok)
		is.True(e.Dead)
		is.Equal(e.X, 11.0)
		is.Equal(e.Y, 21.0)
	})
	deaths, _, _ := effects.counts()
	is.Equal(deaths, 1)

	h.send(protocol.MsgEntityDelete, protocol.EntityDelete{EntityID: "enemy_1"})
	h.send(protocol.MsgEntityDelete, protocol.EntityDelete{EntityID: "enemy_1"})
	h.send(protocol.MsgEntityMove, protocol.EntityMove{EntityID: "enemy_1", X: 1, Y: 1})
	h.send(protocol.MsgSyncTimer, protocol.SyncTimer{Elapsed: 4})

	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool { return m.Elapsed == 4 })
	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		is.Equal(m.EntityCount(), 0)
	})
}

func TestOwnMovementIsNotOverwritten(t *testing.T) {
	is := is.New(t)

	c, h := join(t, lobbyclient.Config{}, serverConfig())
	run(t, c)

	is.NoErr(c.SendMove(protocol.ClientMove{X: 40, Y: 50, Heading: 90}))
	move := expect[protocol.ClientMove](h, protocol.MsgClientMove)
	is.Equal(move.X, 40.0)

	h.send(protocol.MsgPlayerState, protocol.PlayerState{ID: "client_1", X: 0, Y: 0})
	h.send(protocol.MsgPlayerState, protocol.PlayerState{ID: "client_7", X: 70, Y: 80})

	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool {
		bob, _ := m.Players.Get("client_7")
		return bob.X == 70
	})
	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		self, _ := m.Self()
		is.Equal(self.X, 40.0)
		is.Equal(self.Y, 50.0)
	})
}

func TestPvpDamageAppliedByTarget(t *testing.T) {
	is := is.New(t)

	effects := &countingEffects{}
	c, h := join(t, lobbyclient.Config{Effects: effects}, serverConfig())
	run(t, c)

	// aimed at someone else
	h.send(protocol.MsgPvpDamage, protocol.PvpDamage{AttackerID: "host", TargetID: "client_7", Damage: 500})

	h.send(protocol.MsgPvpDamage, protocol.PvpDamage{AttackerID: "host", TargetID: "client_1", Damage: 10, X: 0, Y: -100})
	shield := expect[protocol.ShieldState](h, protocol.MsgShieldState)
	is.Equal(shield.ID, "client_1")
	is.Equal(shield.Hull, 100.0)

	h.send(protocol.MsgPvpDamage, protocol.PvpDamage{AttackerID: "host", TargetID: "client_1", Damage: 500, X: 0, Y: -100})
	death := expect[protocol.PlayerDeath](h, protocol.MsgPlayerDeath)
	is.Equal(death.ID, "client_1")
	is.Equal(death.KillerID, "host")

	// a dead victim discards further hits
	h.send(protocol.MsgPvpDamage, protocol.PvpDamage{AttackerID: "host", TargetID: "client_1", Damage: 500})
	h.send(protocol.MsgSyncTimer, protocol.SyncTimer{Elapsed: 1})
	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool { return m.Elapsed == 1 })

	_, playerDeaths, _ := effects.counts()
	is.Equal(playerDeaths, 1)

	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		bob, _ := m.Players.Get("client_7")
		is.Equal(bob.Hull, 100.0)
		self, _ := m.Self()
		is.True(self.Dead)
	})

	is.NoErr(c.SendMove(protocol.ClientMove{X: 1, Y: 1}))
}

func TestPvpDisabled(t *testing.T) {
	is := is.New(t)

	cfg := serverConfig()
	cfg.Rules.PvpEnabled = false
	c, _ := join(t, lobbyclient.Config{}, cfg)

	is.True(errors.Is(c.DealPvpDamage("client_7", 10), lobbyclient.ErrPvpDisabled))
}

func TestGameFlowAndBoss(t *testing.T) {
	is := is.New(t)

	c, h := join(t, lobbyclient.Config{}, serverConfig())
	run(t, c)

	h.send(protocol.MsgEntityCreate, protocol.EntityCreate{EntityID: "boss_1", Kind: "boss", HP: 1000, MaxHP: 1000})
	h.send(protocol.MsgBossSpawn, protocol.BossSpawn{EntityID: "boss_1", HP: 1000, MaxHP: 1000})
	state := boss.VariantChargeDash.String()
	h.send(protocol.MsgBossAttackState, protocol.BossAttackState{EntityID: "boss_1", AttackState: &state})

	eventually(t, c, func(_ *world.Mirror, b *boss.Mirror) bool {
		return b.Active() && b.State().Variant == boss.VariantChargeDash
	})

	h.send(protocol.MsgDamageEvent, protocol.DamageEvent{EntityID: "boss_1", HP: 400, Shield: protocol.Shields{}})
	eventually(t, c, func(_ *world.Mirror, b *boss.Mirror) bool { return b.State().HP == 400 })

	for range 2 {
		h.send(protocol.MsgReturnToLobby, protocol.GameFlow{Rules: protocol.Rules{HostileSpawn: true}})
	}
	eventually(t, c, func(m *world.Mirror, b *boss.Mirror) bool {
		return m.Phase == world.PhaseLobby && !b.Active()
	})
	c.View(func(m *world.Mirror, _ *boss.Mirror) {
		is.Equal(m.EntityCount(), 0)
		is.True(m.Rules.HostileSpawn)
		is.True(!m.Rules.PvpEnabled)
		is.Equal(m.Players.Len(), 3)
	})
}

func TestGameOverResetsRound(t *testing.T) {
	is := is.New(t)

	var (
		mu    sync.Mutex
		overs []protocol.GameOver
	)
	c, h := join(t, lobbyclient.Config{Notifier: gameOverNotifier{fn: func(msg protocol.GameOver) {
		mu.Lock()
		defer mu.Unlock()
		overs = append(overs, msg)
	}}}, serverConfig())
	run(t, c)

	h.send(protocol.MsgEntityCreate, protocol.EntityCreate{EntityID: "enemy_1", Kind: "enemy", HP: 30})
	h.send(protocol.MsgPlayerDeath, protocol.PlayerDeath{ID: "client_7", KillerID: "host"})
	h.send(protocol.MsgKillSync, protocol.KillSync{ID: "host", Kills: 1})
	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool {
		bob, _ := m.Players.Get("client_7")
		return m.EntityCount() == 1 && bob.Dead
	})

	h.send(protocol.MsgGameOver, protocol.GameOver{
		Reason: "pvp victory",
		Players: []protocol.PlayerSummary{
			{ID: "host", Name: "Hosty", Kills: 1},
			{ID: "client_7", Name: "Bob", Dead: true},
		},
	})
	eventually(t, c, func(m *world.Mirror, _ *boss.Mirror) bool { return m.Phase == world.PhaseGameOver })

	c.View(func(m *world.Mirror, b *boss.Mirror) {
		is.Equal(m.EntityCount(), 0)
		is.True(!b.Active())
		for _, p := range m.Players.All() {
			is.True(!p.Dead)
			is.Equal(p.Kills, 0)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	is.Equal(len(overs), 1)
	is.Equal(overs[0].Players[0].Kills, 1)
}

type gameOverNotifier struct {
	lobbyclient.NopNotifier
	fn func(msg protocol.GameOver)
}

func (n gameOverNotifier) GameOver(msg protocol.GameOver) { n.fn(msg) }

func TestRunStopsOnCancel(t *testing.T) {
	is := is.New(t)

	ln, err := websocket.Listen("tcp4", "127.0.0.1:0", token, websocket.Options{}, nil)
	is.NoErr(err)
	defer ln.Close()

	go func() {
		link, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		h := &fakeHost{t: t, link: link}
		expect[protocol.ClientHello](h, protocol.MsgClientHello)
		h.send(protocol.MsgServerConfig, serverConfig())
	}()

	dir := transport.NewStaticDirectory()
	dir.Register(token, ln.Addr())
	c, err := lobbyclient.Join(context.Background(), &websocket.Dialer{Directory: dir}, token, lobbyclient.Config{}, nil)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		is.NoErr(err)
	case <-time.After(2 * time.Second):
		t.Fatal("run ignored cancellation")
	}
}

func TestHostLost(t *testing.T) {
	is := is.New(t)

	c, h := join(t, lobbyclient.Config{}, serverConfig())
	errCh := run(t, c)

	h.link.Close()

	select {
	case err := <-errCh:
		is.True(errors.Is(err, lobbyclient.ErrHostDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}

	c.View(func(m *world.Mirror, b *boss.Mirror) {
		is.Equal(m.Phase, world.PhaseMenu)
		is.Equal(m.Players.Len(), 0)
		is.True(!b.Active())
	})
}
