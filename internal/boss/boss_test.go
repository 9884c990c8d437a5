package boss_test

import (
	"errors"
	"math"
	"testing"

	"github.com/blukai/dogfight/internal/arbiter"
	"github.com/blukai/dogfight/internal/boss"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/ptr"
	"github.com/blukai/dogfight/internal/world"
	"github.com/matryer/is"
)

const dt = 0.05

func newController(t *testing.T, cfg boss.Config) (*boss.Controller, *world.World, *world.Recorder) {
	t.Helper()

	rec := &world.Recorder{}
	w := world.New(rec, nil, world.Config{Width: 800, Height: 600})
	p := w.Players.Add("client_1", "Ace")
	p.X, p.Y = 400, 500

	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return boss.New(w, rec, cfg, nil), w, rec
}

func projectiles(rec *world.Recorder, variant string) int {
	n := 0
	for _, p := range rec.Of(protocol.MsgEntityCreate) {
		msg := p.(protocol.EntityCreate)
		if msg.Kind == world.KindProjectile.String() && msg.Variant == variant {
			n++
		}
	}
	return n
}

func TestPhaseFor(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		hp, max float64
		want    int
	}{
		{1000, 1000, 1},
		{501, 1000, 1},
		{500, 1000, 2},
		{251, 1000, 2},
		{250, 1000, 3},
		{0, 1000, 3},
		{10, 0, 1},
	}
	for _, tc := range testCases {
		is.Equal(boss.PhaseFor(tc.hp, tc.max), tc.want)
	}
}

func TestVariantNames(t *testing.T) {
	is := is.New(t)

	for _, v := range append([]boss.Variant{boss.VariantIdle}, boss.Attacks...) {
		got, ok := boss.ParseVariant(v.String())
		is.True(ok)
		is.Equal(got, v)
	}
	_, ok := boss.ParseVariant("DANCE")
	is.True(!ok)
}

func TestSpawn(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{})

	e, err := c.Spawn(400, 100)
	is.NoErr(err)
	is.Equal(e.Key, "boss_1")
	is.True(c.Active())
	is.Equal(c.State(), boss.VariantIdle)
	is.Equal(c.Phase(), 1)
	is.True(c.Countdown() >= 4 && c.Countdown() <= 7)

	is.Equal(rec.Count(protocol.MsgEntityCreate), 1)
	is.Equal(rec.Count(protocol.MsgBossSpawn), 1)
	states := rec.Of(protocol.MsgBossAttackState)
	is.Equal(len(states), 1)
	first := states[0].(protocol.BossAttackState)
	is.Equal(*first.AttackState, "IDLE")
	is.Equal(*first.IsAttacking, false)
	is.Equal(*first.Phase, 1)

	_, err = c.Spawn(0, 0)
	is.True(errors.Is(err, boss.ErrActive))
}

func TestEveryAttackReturnsToIdle(t *testing.T) {
	for _, v := range boss.Attacks {
		t.Run(v.String(), func(t *testing.T) {
			is := is.New(t)

			c, w, rec := newController(t, boss.Config{Variants: []boss.Variant{v}})
			_, err := c.Spawn(400, 100)
			is.NoErr(err)

			entered := false
			for range int(10 / dt) {
				c.Tick(dt)
				w.Entities.Tick(dt)
				if c.State() != boss.VariantIdle {
					entered = true
					break
				}
			}
			is.True(entered)
			is.Equal(c.State(), v)
			is.True(c.Attacking())

			finished := false
			for range int(20 / dt) {
				c.Tick(dt)
				w.Entities.Tick(dt)
				if c.State() == boss.VariantIdle {
					finished = true
					break
				}
			}
			is.True(finished)
			is.True(!c.Attacking())
			is.True(c.Countdown() >= 4 && c.Countdown() <= 7)

			last := rec.Of(protocol.MsgBossAttackState)
			final := last[len(last)-1].(protocol.BossAttackState)
			is.Equal(*final.AttackState, "IDLE")
		})
	}
}

func TestTelegraphIsReplicated(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{
		Variants:       []boss.Variant{boss.VariantRadialBurst},
		NormalCooldown: [3]float64{100, 100, 100},
	})
	_, err := c.Spawn(400, 100)
	is.NoErr(err)

	for c.State() == boss.VariantIdle {
		c.Tick(dt)
	}

	states := rec.Of(protocol.MsgBossAttackState)
	entered := states[len(states)-1].(protocol.BossAttackState)
	is.Equal(*entered.AttackState, "RADIAL_BURST")
	is.Equal(*entered.Step, "telegraph")
	is.True(*entered.Telegraph > 0)
	is.Equal(projectiles(rec, "bullet"), 0) // nothing fires during the warning
}

func TestTeleportIsInvulnerable(t *testing.T) {
	is := is.New(t)

	c, w, rec := newController(t, boss.Config{Variants: []boss.Variant{boss.VariantMultiBeamTeleport}})
	e, err := c.Spawn(400, 100)
	is.NoErr(err)

	a := arbiter.New(w, rec, c, arbiter.Config{}, nil)

	for range int(10 / dt) {
		c.Tick(dt)
		if c.Step() == "teleport" {
			break
		}
	}
	is.Equal(c.Step(), "teleport")
	is.True(c.Invulnerable(e))
	is.Equal(projectiles(rec, "beam"), 3)

	hp := e.HP
	out := a.ResolveCollision("client_1", protocol.CollisionEvent{EntityID: e.Key, Cause: "ram", X: e.X + 10, Y: e.Y})
	is.True(!out.Resolved)
	is.Equal(e.HP, hp)

	for c.Step() == "teleport" {
		c.Tick(dt)
	}
	is.True(!c.Invulnerable(e))

	out = a.ResolveCollision("client_1", protocol.CollisionEvent{EntityID: e.Key, Cause: "ram", X: e.X + 10, Y: e.Y})
	is.True(out.Resolved)
	is.True(out.ShieldDmg+out.HullDmg > 0)
}

func TestNormalAttackFiresBullet(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{})
	_, err := c.Spawn(400, 100)
	is.NoErr(err)

	// phase 1 cadence is 2s and the first special attack is at least 4s away
	for range 45 {
		c.Tick(dt)
	}
	is.Equal(c.State(), boss.VariantIdle)
	is.Equal(projectiles(rec, "bullet"), 1)

	bullet := rec.Of(protocol.MsgEntityCreate)[1].(protocol.EntityCreate)
	is.Equal(bullet.Owner, "boss_1")
	is.True(math.Abs(bullet.Heading-90) < 1e-9) // straight down at the player
}

func TestChargingBeamSuppressesNextRoll(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{BeamChance: 1, BeamCharge: 1.2})
	e, err := c.Spawn(400, 100)
	is.NoErr(err)

	for range 45 {
		c.Tick(dt)
	}
	is.True(e.Charging)
	is.True(math.Abs(e.AimAngle-90) < 1e-9)
	is.Equal(projectiles(rec, "beam"), 0)

	last := rec.Of(protocol.MsgBossAttackState)
	rec0 := last[len(last)-1].(protocol.BossAttackState)
	is.True(rec0.ChargeProgress != nil)

	// 1.2s of charge, no second roll in between
	for range 25 {
		c.Tick(dt)
	}
	is.True(!e.Charging)
	is.Equal(projectiles(rec, "beam"), 1)
	is.Equal(projectiles(rec, "bullet"), 0)
}

func TestPhaseChangesAndCountdownShrinks(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{Variants: []boss.Variant{boss.VariantMinionSummon}})
	e, err := c.Spawn(400, 100)
	is.NoErr(err)

	e.HP = 400
	c.Tick(dt)
	is.Equal(c.Phase(), 2)
	phases := rec.Of(protocol.MsgBossPhase)
	is.Equal(len(phases), 1)
	is.Equal(phases[0].(protocol.BossPhase).Phase, 2)

	c.Tick(dt)
	is.Equal(rec.Count(protocol.MsgBossPhase), 1)

	e.HP = 100
	for c.State() == boss.VariantIdle {
		c.Tick(dt)
	}
	is.Equal(c.Phase(), 3)
	for c.State() != boss.VariantIdle {
		c.Tick(dt)
	}
	is.True(c.Countdown() >= 2 && c.Countdown() <= 3.5)

	// phase 3 summons four minions
	minions := 0
	for _, p := range rec.Of(protocol.MsgEntityCreate) {
		if p.(protocol.EntityCreate).Variant == "minion" {
			minions++
		}
	}
	is.Equal(minions, 4)
}

func TestDefeat(t *testing.T) {
	is := is.New(t)

	c, _, _ := newController(t, boss.Config{})
	e, err := c.Spawn(400, 100)
	is.NoErr(err)

	e.MarkDead()
	is.True(c.Tick(dt))
	is.True(!c.Tick(dt))
	is.True(!c.Active())

	next, err := c.Spawn(400, 100)
	is.NoErr(err)
	is.Equal(next.Key, "boss_2")
}

func TestMirrorAppliesPartialRecords(t *testing.T) {
	is := is.New(t)

	m := boss.NewMirror()
	is.True(!m.ApplyAttackState(protocol.BossAttackState{EntityID: "boss_1", Step: ptr.To("aim")}))

	m.ApplySpawn(protocol.BossSpawn{EntityID: "boss_1", HP: 1000, MaxHP: 1000})
	is.True(m.Active())
	is.Equal(m.State().Phase, 1)

	is.True(m.ApplyAttackState(protocol.BossAttackState{
		EntityID:    "boss_1",
		AttackState: ptr.To("MULTI_BEAM_TELEPORT"),
		IsAttacking: ptr.To(true),
		Step:        ptr.To("aim"),
		AimAngles:   []float64{70, 90, 110},
	}))

	// partial record over the wire: only invulnerable and progress
	frame, err := protocol.Encode(protocol.MsgBossAttackState, protocol.BossAttackState{
		EntityID:         "boss_1",
		Invulnerable:     ptr.To(true),
		TeleportProgress: ptr.To(0.5),
	})
	is.NoErr(err)
	env, err := protocol.Decode(frame)
	is.NoErr(err)
	partial, err := protocol.DecodePayload[protocol.BossAttackState](env)
	is.NoErr(err)
	is.True(m.ApplyAttackState(partial))

	s := m.State()
	is.Equal(s.Variant, boss.VariantMultiBeamTeleport)
	is.True(s.IsAttacking)
	is.True(s.Invulnerable)
	is.Equal(s.Step, "aim")
	is.Equal(s.AimAngles, []float64{70, 90, 110})
	is.Equal(s.TeleportProgress, 0.5)

	// records for another boss are ignored
	is.True(!m.ApplyAttackState(protocol.BossAttackState{EntityID: "boss_2", IsAttacking: ptr.To(false)}))
	is.True(m.State().IsAttacking)

	is.True(m.ApplyPhase(protocol.BossPhase{EntityID: "boss_1", Phase: 2}))
	is.Equal(m.State().Phase, 2)

	is.True(!m.Forget("boss_2"))
	is.True(m.Forget("boss_1"))
	is.True(!m.Active())
}

func TestMirrorFollowsController(t *testing.T) {
	is := is.New(t)

	c, _, rec := newController(t, boss.Config{Variants: []boss.Variant{boss.VariantChargeDash}})
	_, err := c.Spawn(400, 100)
	is.NoErr(err)

	m := boss.NewMirror()
	apply := func() {
		for _, s := range rec.Sent {
			switch msg := s.Payload.(type) {
			case protocol.BossSpawn:
				m.ApplySpawn(msg)
			case protocol.BossPhase:
				m.ApplyPhase(msg)
			case protocol.BossAttackState:
				m.ApplyAttackState(msg)
			}
		}
		rec.Reset()
	}

	for c.State() == boss.VariantIdle {
		c.Tick(dt)
	}
	apply()

	s := m.State()
	is.Equal(s.Variant, boss.VariantChargeDash)
	is.Equal(s.DashTargetX, 400.0)
	is.Equal(s.DashTargetY, 500.0)

	for c.State() != boss.VariantIdle {
		c.Tick(dt)
	}
	apply()
	is.Equal(m.State().Variant, boss.VariantIdle)
	is.True(!m.State().IsAttacking)
}
