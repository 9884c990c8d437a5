package world

import (
	"sort"

	"github.com/blukai/dogfight/internal/protocol"
)

// Mirror is a client's read-mostly copy of host state. Only the viewer's own
// avatar position and heading are written locally; everything else comes in
// through the Apply methods. Every Apply reports whether it changed anything.
type Mirror struct {
	SelfID  string
	Players *Players
	Rules   protocol.Rules
	Phase   Phase
	Elapsed float64
	Width   int
	Height  int

	effects  Effects
	entities map[string]*Entity
}

func NewMirror(effects Effects, defaults PlayerDefaults) *Mirror {
	if effects == nil {
		effects = NopEffects{}
	}
	return &Mirror{
		Players:  NewPlayers(defaults),
		Phase:    PhaseMenu,
		effects:  effects,
		entities: make(map[string]*Entity),
	}
}

// ApplyCreate instantiates a mirror. A duplicate create is ignored.
func (m *Mirror) ApplyCreate(msg protocol.EntityCreate) bool {
	if _, ok := m.entities[msg.EntityID]; ok {
		return false
	}

	e := &Entity{
		Key:     msg.EntityID,
		Kind:    ParseKind(msg.Kind),
		Variant: msg.Variant,
		Owner:   msg.Owner,
		X:       msg.X,
		Y:       msg.Y,
		Heading: msg.Heading,
		VX:      msg.VX,
		VY:      msg.VY,
		HP:      msg.HP,
		MaxHP:   msg.MaxHP,
		Shield:  msg.Shield,
	}
	if id, err := ParseEntityID(msg.EntityID); err == nil {
		e.ID = id
	}
	m.entities[msg.EntityID] = e
	return true
}

// ApplyMove overwrites the replicated fields. Moves for unknown or already
// dead entities are discarded so a stale packet cannot resurrect anything.
func (m *Mirror) ApplyMove(msg protocol.EntityMove) bool {
	e, ok := m.entities[msg.EntityID]
	if !ok || e.Dead {
		return false
	}

	e.X, e.Y = msg.X, msg.Y
	e.Heading = msg.Heading
	e.HP = msg.HP
	e.Shield = msg.Shield
	e.Charging = msg.Charging
	e.AimAngle = msg.AimAngle
	e.ChargeTime = msg.ChargeTime
	e.BounceTimer = msg.BounceTimer

	if msg.Dead && e.MarkDead() {
		m.effects.EntityDied(e)
	}
	return true
}

// ApplyDelete is idempotent.
func (m *Mirror) ApplyDelete(msg protocol.EntityDelete) bool {
	if _, ok := m.entities[msg.EntityID]; !ok {
		return false
	}
	delete(m.entities, msg.EntityID)
	return true
}

func (m *Mirror) ApplyDamage(msg protocol.DamageEvent) bool {
	e, ok := m.entities[msg.EntityID]
	if !ok || e.Dead {
		return false
	}

	e.HP = msg.HP
	e.Shield = msg.Shield
	if msg.Dead && e.MarkDead() {
		m.effects.EntityDied(e)
	}
	return true
}

// ApplyPlayerState updates another participant's avatar. The viewer's own
// avatar is never overwritten by the echo of its own movement.
func (m *Mirror) ApplyPlayerState(msg protocol.PlayerState) bool {
	if msg.ID == m.SelfID {
		return false
	}
	p, ok := m.Players.Get(msg.ID)
	if !ok || p.Dead {
		return false
	}

	p.X, p.Y = msg.X, msg.Y
	p.Heading = msg.Heading
	p.Hull = msg.Hull
	if msg.MaxHull > 0 {
		p.MaxHull = msg.MaxHull
	}
	p.Shield = msg.Shield
	p.BounceVX, p.BounceVY, p.BounceTimer = msg.BounceVX, msg.BounceVY, msg.BounceTimer

	if msg.Dead {
		p.Dead = true
		m.effects.PlayerDied(p)
	}
	return true
}

func (m *Mirror) ApplyShieldState(msg protocol.ShieldState) bool {
	if msg.ID == m.SelfID {
		return false
	}
	p, ok := m.Players.Get(msg.ID)
	if !ok || p.Dead {
		return false
	}
	p.Shield = msg.Shield
	p.Hull = msg.Hull
	return true
}

func (m *Mirror) ApplyPlayerDeath(msg protocol.PlayerDeath) bool {
	p, ok := m.Players.Get(msg.ID)
	if !ok || p.Dead {
		return false
	}
	p.Dead = true
	p.Hull = 0
	m.effects.PlayerDied(p)
	return true
}

func (m *Mirror) ApplyKillSync(msg protocol.KillSync) bool {
	p, ok := m.Players.Get(msg.ID)
	if !ok {
		return false
	}
	p.Kills = msg.Kills
	return true
}

// Reset clears all entity mirrors and revives every player. Applying it
// twice has the same effect as once.
func (m *Mirror) Reset(phase Phase) {
	clear(m.entities)
	m.Players.ResetAll()
	m.Elapsed = 0
	m.Phase = phase
}

// Disconnect drops everything learned from the host and returns to the menu.
func (m *Mirror) Disconnect() {
	clear(m.entities)
	m.Players.Clear()
	m.SelfID = ""
	m.Elapsed = 0
	m.Phase = PhaseMenu
}

func (m *Mirror) Self() (*Player, bool) {
	if m.SelfID == "" {
		return nil, false
	}
	return m.Players.Get(m.SelfID)
}

// Entity returns a copy of the mirrored entity.
func (m *Mirror) Entity(id string) (Entity, bool) {
	e, ok := m.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns copies sorted by id.
func (m *Mirror) Entities() []Entity {
	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *Mirror) EntityCount() int {
	return len(m.entities)
}
