package boss

import (
	"slices"

	"github.com/blukai/dogfight/internal/protocol"
)

// State is a client's best-effort view of the boss, used for warning cues
// and animation only.
type State struct {
	EntityID         string
	HP, MaxHP        float64
	Variant          Variant
	IsAttacking      bool
	Invulnerable     bool
	Phase            int
	Telegraph        float64
	Step             string
	Round            int
	AimAngles        []float64
	ChargeProgress   float64
	TeleportProgress float64
	DashTargetX      float64
	DashTargetY      float64
	SprayAngle       float64
}

// Mirror applies replicated boss records. It never decides damage or death;
// those arrive through entity replication.
type Mirror struct {
	state  State
	active bool
}

func NewMirror() *Mirror {
	return &Mirror{}
}

func (m *Mirror) ApplySpawn(msg protocol.BossSpawn) {
	m.state = State{
		EntityID: msg.EntityID,
		HP:       msg.HP,
		MaxHP:    msg.MaxHP,
		Variant:  VariantIdle,
		Phase:    PhaseFor(msg.HP, msg.MaxHP),
	}
	m.active = true
}

func (m *Mirror) ApplyPhase(msg protocol.BossPhase) bool {
	if !m.active || msg.EntityID != m.state.EntityID {
		return false
	}
	m.state.Phase = msg.Phase
	return true
}

// ApplyAttackState copies every field present in msg. Absent fields keep
// their mirrored value.
func (m *Mirror) ApplyAttackState(msg protocol.BossAttackState) bool {
	if !m.active || msg.EntityID != m.state.EntityID {
		return false
	}

	s := &m.state
	if msg.AttackState != nil {
		if v, ok := ParseVariant(*msg.AttackState); ok {
			s.Variant = v
		}
	}
	if msg.IsAttacking != nil {
		s.IsAttacking = *msg.IsAttacking
	}
	if msg.Invulnerable != nil {
		s.Invulnerable = *msg.Invulnerable
	}
	if msg.Phase != nil {
		s.Phase = *msg.Phase
	}
	if msg.Telegraph != nil {
		s.Telegraph = *msg.Telegraph
	}
	if msg.Step != nil {
		s.Step = *msg.Step
	}
	if msg.Round != nil {
		s.Round = *msg.Round
	}
	if msg.AimAngles != nil {
		s.AimAngles = slices.Clone(msg.AimAngles)
	}
	if msg.ChargeProgress != nil {
		s.ChargeProgress = *msg.ChargeProgress
	}
	if msg.TeleportProgress != nil {
		s.TeleportProgress = *msg.TeleportProgress
	}
	if msg.DashTargetX != nil {
		s.DashTargetX = *msg.DashTargetX
	}
	if msg.DashTargetY != nil {
		s.DashTargetY = *msg.DashTargetY
	}
	if msg.SprayAngle != nil {
		s.SprayAngle = *msg.SprayAngle
	}
	return true
}

// ApplyDamage tracks the boss hit points from authoritative damage events.
func (m *Mirror) ApplyDamage(msg protocol.DamageEvent) bool {
	if !m.active || msg.EntityID != m.state.EntityID {
		return false
	}
	m.state.HP = msg.HP
	return true
}

// Forget drops the mirror when the boss entity is deleted.
func (m *Mirror) Forget(entityID string) bool {
	if !m.active || entityID != m.state.EntityID {
		return false
	}
	m.Reset()
	return true
}

func (m *Mirror) Reset() {
	m.state = State{}
	m.active = false
}

func (m *Mirror) Active() bool {
	return m.active
}

// State returns a copy of the mirrored record.
func (m *Mirror) State() State {
	s := m.state
	s.AimAngles = slices.Clone(s.AimAngles)
	return s
}
