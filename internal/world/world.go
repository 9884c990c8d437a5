package world

import (
	"github.com/blukai/dogfight/internal/protocol"
)

// Broadcaster sends a message to every connected client. Sends are
// fire-and-forget; failures are the transport layer's business.
type Broadcaster interface {
	Broadcast(t protocol.MessageType, payload any)
}

type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(protocol.MessageType, any) {}

// Sent is one recorded broadcast.
type Sent struct {
	Type    protocol.MessageType
	Payload any
}

// Recorder keeps every broadcast in order.
type Recorder struct {
	Sent []Sent
}

func (r *Recorder) Broadcast(t protocol.MessageType, payload any) {
	r.Sent = append(r.Sent, Sent{Type: t, Payload: payload})
}

// Of returns the payloads of type t.
func (r *Recorder) Of(t protocol.MessageType) []any {
	var out []any
	for _, s := range r.Sent {
		if s.Type == t {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (r *Recorder) Count(t protocol.MessageType) int {
	return len(r.Of(t))
}

func (r *Recorder) Reset() {
	r.Sent = r.Sent[:0]
}

// Mover advances an entity's position for one tick. The real physics of
// ships and projectiles plugs in here.
type Mover interface {
	Move(e *Entity, dt float64)
}

// LinearMover integrates velocity, knockback and lifetime.
type LinearMover struct{}

func (LinearMover) Move(e *Entity, dt float64) {
	e.Advance(dt)
}

// Effects receives purely visual events on a client.
type Effects interface {
	EntityDied(e *Entity)
	PlayerDied(p *Player)
	Explosion(msg protocol.Explosion)
	WeaponFired(msg protocol.WeaponFired)
}

type NopEffects struct{}

func (NopEffects) EntityDied(*Entity)               {}
func (NopEffects) PlayerDied(*Player)               {}
func (NopEffects) Explosion(protocol.Explosion)     {}
func (NopEffects) WeaponFired(protocol.WeaponFired) {}

type Phase uint8

const (
	// PhaseMenu is the pre-session state.
	PhaseMenu Phase = iota
	PhaseLobby
	PhasePlaying
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseMenu:
		return "menu"
	case PhaseLobby:
		return "lobby"
	case PhasePlaying:
		return "playing"
	case PhaseGameOver:
		return "gameover"
	default:
		return "unknown"
	}
}

func ParsePhase(s string) Phase {
	for p := PhaseMenu; p <= PhaseGameOver; p++ {
		if p.String() == s {
			return p
		}
	}
	return PhaseMenu
}

type Config struct {
	Table   TableConfig
	Players PlayerDefaults
	Width   int
	Height  int
}

// World is the host's simulation context. It is owned by the simulation loop
// and handed to the router, arbiter and boss machine.
type World struct {
	Entities *Table
	Players  *Players
	Rules    protocol.Rules
	Phase    Phase
	Elapsed  float64
	Width    int
	Height   int
}

func New(bcast Broadcaster, mover Mover, cfg Config) *World {
	return &World{
		Entities: NewTable(bcast, mover, cfg.Table),
		Players:  NewPlayers(cfg.Players),
		Phase:    PhaseLobby,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}
}

// Reset clears entities, revives every player and enters phase.
func (w *World) Reset(phase Phase) {
	w.Entities.Clear()
	w.Players.ResetAll()
	w.Elapsed = 0
	w.Phase = phase
}

// Nearest returns the closest living player to (x, y).
func (w *World) Nearest(x, y float64) (*Player, bool) {
	var best *Player
	bestDist := 0.0
	for _, p := range w.Players.All() {
		if p.Dead {
			continue
		}
		d := Distance(x, y, p.X, p.Y)
		if best == nil || d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, best != nil
}
