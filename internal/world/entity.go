package world

import (
	"github.com/blukai/dogfight/internal/protocol"
)

// Entity is a replicated non-avatar world object.
type Entity struct {
	ID      EntityID
	Key     string // ID.String(), or the raw wire id on client mirrors
	Kind    Kind
	Variant string
	Owner   string

	X, Y    float64
	Heading float64
	VX, VY  float64

	HP, MaxHP float64
	Shield    protocol.Shields
	MaxShield float64

	// TTL counts down to an automatic death when positive.
	TTL float64

	Dead          bool
	deathNotified bool

	// charged beam
	Charging   bool
	AimAngle   float64
	ChargeTime float64

	// knockback
	BounceVX, BounceVY float64
	BounceTimer        float64
}

// MarkDead flags e dead. It reports whether this call caused the transition.
func (e *Entity) MarkDead() bool {
	if e.Dead {
		return false
	}
	e.Dead = true
	e.HP = 0
	e.Charging = false
	return true
}

// DeathNotified reports whether the EntityDelete for e went out.
func (e *Entity) DeathNotified() bool {
	return e.deathNotified
}

// Advance moves e by its own velocity and decays knockback.
func (e *Entity) Advance(dt float64) {
	e.X += e.VX * dt
	e.Y += e.VY * dt

	if e.BounceTimer > 0 {
		e.X += e.BounceVX * dt
		e.Y += e.BounceVY * dt
		e.BounceTimer -= dt
		if e.BounceTimer <= 0 {
			e.BounceTimer = 0
			e.BounceVX, e.BounceVY = 0, 0
		}
	}

	if e.TTL > 0 {
		e.TTL -= dt
		if e.TTL <= 0 {
			e.TTL = 0
			e.MarkDead()
		}
	}
}

func (e *Entity) CreateMsg() protocol.EntityCreate {
	return protocol.EntityCreate{
		EntityID: e.Key,
		Kind:     e.Kind.String(),
		Variant:  e.Variant,
		Owner:    e.Owner,
		X:        e.X,
		Y:        e.Y,
		Heading:  NormalizeDeg(e.Heading),
		VX:       e.VX,
		VY:       e.VY,
		HP:       e.HP,
		MaxHP:    e.MaxHP,
		Shield:   e.Shield,
	}
}

func (e *Entity) MoveMsg() protocol.EntityMove {
	msg := protocol.EntityMove{
		EntityID:    e.Key,
		X:           e.X,
		Y:           e.Y,
		Heading:     NormalizeDeg(e.Heading),
		HP:          e.HP,
		Shield:      e.Shield,
		Dead:        e.Dead,
		BounceTimer: e.BounceTimer,
	}
	if e.Charging {
		msg.Charging = true
		msg.AimAngle = NormalizeDeg(e.AimAngle)
		msg.ChargeTime = e.ChargeTime
	}
	return msg
}

// KindStats are the spawn defaults of a kind.
type KindStats struct {
	HP     float64
	Shield float64 // per sector
	TTL    float64
}

var DefaultKindStats = map[Kind]KindStats{
	KindEnemy:      {HP: 30, Shield: 10},
	KindBoss:       {HP: 1000, Shield: 50},
	KindProjectile: {HP: 1, TTL: 4},
	KindPickup:     {HP: 1, TTL: 20},
}
