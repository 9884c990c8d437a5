package lobbytest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blukai/dogfight/internal/boss"
	"github.com/blukai/dogfight/internal/lobbyclient"
	"github.com/blukai/dogfight/internal/lobbyserver"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/transport/memory"
	"github.com/blukai/dogfight/internal/world"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

const token = "PARTY2"

func testLogger(t *testing.T) *log.Logger {
	if !testing.Verbose() {
		return nil
	}

	logger := log.DefaultLogger
	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.DebugLevel
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	return &logger
}

type seen struct {
	victories    []protocol.PvpVictory
	chats        []protocol.ChatMessage
	gameOvers    []protocol.GameOver
	shots        []protocol.WeaponFired
	entityDeaths []string
}

// recorder implements both client capabilities and keeps what it saw.
type recorder struct {
	lobbyclient.NopNotifier
	world.NopEffects

	mu   sync.Mutex
	seen seen
}

func (r *recorder) PvpVictory(msg protocol.PvpVictory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.victories = append(r.seen.victories, msg)
}

func (r *recorder) Chat(msg protocol.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.chats = append(r.seen.chats, msg)
}

func (r *recorder) GameOver(msg protocol.GameOver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.gameOvers = append(r.seen.gameOvers, msg)
}

func (r *recorder) WeaponFired(msg protocol.WeaponFired) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.shots = append(r.seen.shots, msg)
}

func (r *recorder) EntityDied(e *world.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.entityDeaths = append(r.seen.entityDeaths, e.Key)
}

func (r *recorder) snapshot() seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seen{
		victories:    append([]protocol.PvpVictory(nil), r.seen.victories...),
		chats:        append([]protocol.ChatMessage(nil), r.seen.chats...),
		gameOvers:    append([]protocol.GameOver(nil), r.seen.gameOvers...),
		shots:        append([]protocol.WeaponFired(nil), r.seen.shots...),
		entityDeaths: append([]string(nil), r.seen.entityDeaths...),
	}
}

type session struct {
	t      *testing.T
	net    *memory.Network
	server *lobbyserver.Server
	stop   context.CancelFunc
	done   chan struct{}
}

func startSession(t *testing.T, cfg lobbyserver.Config) *session {
	t.Helper()

	net := memory.NewNetwork()
	ln, err := net.Listen(token)
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}

	server, err := lobbyserver.NewLobbyServer(ln, cfg, testLogger(t))
	if err != nil {
		t.Fatalf("could not construct lobby server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{t: t, net: net, server: server, stop: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-s.done
	})
	return s
}

type player struct {
	client *lobbyclient.LobbyClient
	rec    *recorder
	runErr chan error
}

func (s *session) joinSession(name string, cfg lobbyclient.Config) (*player, error) {
	rec := &recorder{}
	cfg.Name = name
	cfg.Effects = rec
	cfg.Notifier = rec

	c, err := lobbyclient.Join(context.Background(), s.net, token, cfg, testLogger(s.t))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &player{client: c, rec: rec, runErr: make(chan error, 1)}
	go func() {
		p.runErr <- c.Run(ctx)
	}()
	s.t.Cleanup(cancel)
	return p, nil
}

func (s *session) mustJoin(name string) *player {
	s.t.Helper()
	p, err := s.joinSession(name, lobbyclient.Config{ScreenWidth: 800, ScreenHeight: 600})
	if err != nil {
		s.t.Fatalf("could not join %s: %v", name, err)
	}
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func (p *player) mirror(fn func(m *world.Mirror)) {
	p.client.View(func(m *world.Mirror, _ *boss.Mirror) { fn(m) })
}

func TestHandshakeNegotiatesWorld(t *testing.T) {
	is := is.New(t)

	s := startSession(t, lobbyserver.Config{Name: "Hosty"})

	ace, err := s.joinSession("Ace", lobbyclient.Config{ScreenWidth: 800, ScreenHeight: 600, Version: 2})
	is.NoErr(err)

	cfg := ace.client.ServerConfig()
	is.Equal(cfg.YourID, "client_1")
	is.Equal(cfg.GameWidth, 800)
	is.Equal(cfg.GameHeight, 600)
	is.Equal(len(cfg.ExistingPlayers), 0)

	ace.mirror(func(m *world.Mirror) {
		host, ok := m.Players.Get(lobbyserver.HostID)
		is.True(ok)
		is.Equal(host.Name, "Hosty")
	})

	bob := s.mustJoin("Bob")
	is.Equal(bob.client.ID(), "client_2")
	is.Equal(len(bob.client.ServerConfig().ExistingPlayers), 1)

	eventually(t, func() bool {
		var ok bool
		ace.mirror(func(m *world.Mirror) {
			_, ok = m.Players.Get("client_2")
		})
		return ok
	})
}

func TestEnemyDeathReplicatesOnce(t *testing.T) {
	is := is.New(t)

	ctx := context.Background()
	s := startSession(t, lobbyserver.Config{})
	ace := s.mustJoin("Ace")
	bob := s.mustJoin("Bob")

	is.NoErr(s.server.StartGame(ctx))
	id, err := s.server.SpawnEnemy(ctx, 100, 100, 0, "fighter")
	is.NoErr(err)
	is.Equal(id, "enemy_1")

	eventually(t, func() bool {
		var ok bool
		bob.mirror(func(m *world.Mirror) {
			_, ok = m.Entity(id)
		})
		return ok
	})

	for range 5 {
		is.NoErr(ace.client.ReportCollision(id, "missile"))
	}

	eventually(t, func() bool {
		var gone bool
		bob.mirror(func(m *world.Mirror) {
			gone = m.EntityCount() == 0
		})
		return gone
	})

	// give stray reports time to be discarded
	time.Sleep(100 * time.Millisecond)

	is.Equal(bob.rec.snapshot().entityDeaths, []string{id})
	is.Equal(ace.rec.snapshot().entityDeaths, []string{id})

	var kills int
	is.NoErr(s.server.View(ctx, func(w *world.World) {
		p, _ := w.Players.Get(ace.client.ID())
		kills = p.Kills
	}))
	is.Equal(kills, 1)
}

func TestPvpVictory(t *testing.T) {
	is := is.New(t)

	ctx := context.Background()
	s := startSession(t, lobbyserver.Config{
		Rules: protocol.Rules{PvpEnabled: true, HostileSpawn: false},
	})
	ace := s.mustJoin("Ace")

	is.NoErr(s.server.StartGame(ctx))

	for range 3 {
		is.NoErr(ace.client.DealPvpDamage(lobbyserver.HostID, 500))
	}

	eventually(t, func() bool {
		return len(ace.rec.snapshot().gameOvers) == 1
	})
	time.Sleep(100 * time.Millisecond)

	rec := ace.rec.snapshot()
	is.Equal(len(rec.victories), 1)
	is.Equal(rec.victories[0].WinnerName, "Ace")
	is.Equal(rec.victories[0].WinnerID, "client_1")
	is.Equal(len(rec.gameOvers), 1)
	is.Equal(rec.gameOvers[0].Reason, "pvp victory")
}

func TestVersionMismatchKeepsSessionOpen(t *testing.T) {
	is := is.New(t)

	s := startSession(t, lobbyserver.Config{Version: 3})

	_, err := s.joinSession("Old", lobbyclient.Config{Version: 2})
	is.True(errors.Is(err, lobbyclient.ErrVersionMismatch))

	var mismatch *lobbyclient.VersionMismatchError
	is.True(errors.As(err, &mismatch))
	is.Equal(mismatch.HostVersion, 3)

	p, err := s.joinSession("New", lobbyclient.Config{Version: 3})
	is.NoErr(err)
	is.Equal(p.client.ID(), "client_1")
}

func TestRelay(t *testing.T) {
	is := is.New(t)

	s := startSession(t, lobbyserver.Config{})
	ace := s.mustJoin("Ace")
	bob := s.mustJoin("Bob")

	is.NoErr(ace.client.SendChat("o7"))
	is.NoErr(ace.client.FireWeapon(protocol.WeaponFired{Weapon: "laser", X: 1, Y: 2, Heading: 45}))

	eventually(t, func() bool {
		return len(bob.rec.snapshot().chats) == 1 && len(bob.rec.snapshot().shots) == 1
	})
	// the shot echoes back to the shooter, the chat does not
	eventually(t, func() bool {
		return len(ace.rec.snapshot().shots) == 1
	})
	time.Sleep(50 * time.Millisecond)

	is.Equal(len(ace.rec.snapshot().chats), 0)
	is.Equal(bob.rec.snapshot().chats[0].Text, "o7")
	is.Equal(bob.rec.snapshot().shots[0].OwnerID, ace.client.ID())
}

func TestMovementReachesOthers(t *testing.T) {
	is := is.New(t)

	s := startSession(t, lobbyserver.Config{})
	ace := s.mustJoin("Ace")
	bob := s.mustJoin("Bob")

	is.NoErr(ace.client.SendMove(protocol.ClientMove{X: 300, Y: 200, Heading: 180}))

	eventually(t, func() bool {
		var x float64
		bob.mirror(func(m *world.Mirror) {
			if p, ok := m.Players.Get(ace.client.ID()); ok {
				x = p.X
			}
		})
		return x == 300
	})

	ace.mirror(func(m *world.Mirror) {
		self, _ := m.Self()
		is.Equal(self.X, 300.0)
	})
}

func TestHostLossReturnsToMenu(t *testing.T) {
	is := is.New(t)

	s := startSession(t, lobbyserver.Config{})
	ace := s.mustJoin("Ace")

	s.stop()
	<-s.done

	select {
	case err := <-ace.runErr:
		is.True(errors.Is(err, lobbyclient.ErrHostDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the host going away")
	}

	ace.mirror(func(m *world.Mirror) {
		is.Equal(m.Phase, world.PhaseMenu)
		is.Equal(m.Players.Len(), 0)
	})
}
