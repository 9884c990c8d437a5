package boss

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/blukai/dogfight/internal/debug"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/ptr"
	"github.com/blukai/dogfight/internal/world"
	"github.com/phuslu/log"
)

var ErrActive = errors.New("a boss is already active")

const (
	stepTelegraph = "telegraph"
	stepAim       = "aim"
	stepDash      = "dash"
	stepRecover   = "recover"
	stepFire      = "fire"
	stepTeleport  = "teleport"
	stepSpray     = "spray"
)

type Config struct {
	HP float64

	// SpecialCooldown is the [min, max] special attack countdown per phase.
	SpecialCooldown [3][2]float64
	// NormalCooldown is the normal attack cadence per phase.
	NormalCooldown [3]float64

	Telegraph        float64
	BulletSpeed      float64
	BeamSpeed        float64
	BeamChance       float64
	BeamCharge       float64
	DashSpeed        float64
	DashDuration     float64
	RecoverDuration  float64
	TeleportDuration float64
	BeamRounds       int
	SprayDuration    float64
	SprayInterval    float64
	SpraySpin        float64 // degrees per second

	// Variants is the pool special attacks are drawn from.
	Variants []Variant

	// Seed of the attack rng. Zero picks a random seed.
	Seed uint64
}

func DefaultConfig() Config {
	return Config{
		HP: 1000,
		SpecialCooldown: [3][2]float64{
			{4, 7},
			{3, 5},
			{2, 3.5},
		},
		NormalCooldown:   [3]float64{2, 1.5, 1},
		Telegraph:        0.75,
		BulletSpeed:      260,
		BeamSpeed:        520,
		BeamChance:       0.3,
		BeamCharge:       1.2,
		DashSpeed:        480,
		DashDuration:     0.6,
		RecoverDuration:  0.5,
		TeleportDuration: 0.8,
		BeamRounds:       3,
		SprayDuration:    3,
		SprayInterval:    0.1,
		SpraySpin:        120,
		Variants:         Attacks,
	}
}

func (cfg *Config) fill() {
	def := DefaultConfig()
	if cfg.HP <= 0 {
		cfg.HP = def.HP
	}
	if cfg.SpecialCooldown == [3][2]float64{} {
		cfg.SpecialCooldown = def.SpecialCooldown
	}
	if cfg.NormalCooldown == [3]float64{} {
		cfg.NormalCooldown = def.NormalCooldown
	}
	if cfg.Telegraph <= 0 {
		cfg.Telegraph = def.Telegraph
	}
	if cfg.BulletSpeed <= 0 {
		cfg.BulletSpeed = def.BulletSpeed
	}
	if cfg.BeamSpeed <= 0 {
		cfg.BeamSpeed = def.BeamSpeed
	}
	if cfg.BeamChance < 0 {
		cfg.BeamChance = 0
	}
	if cfg.BeamCharge <= 0 {
		cfg.BeamCharge = def.BeamCharge
	}
	if cfg.DashSpeed <= 0 {
		cfg.DashSpeed = def.DashSpeed
	}
	if cfg.DashDuration <= 0 {
		cfg.DashDuration = def.DashDuration
	}
	if cfg.RecoverDuration <= 0 {
		cfg.RecoverDuration = def.RecoverDuration
	}
	if cfg.TeleportDuration <= 0 {
		cfg.TeleportDuration = def.TeleportDuration
	}
	if cfg.BeamRounds <= 0 {
		cfg.BeamRounds = def.BeamRounds
	}
	if cfg.SprayDuration <= 0 {
		cfg.SprayDuration = def.SprayDuration
	}
	if cfg.SprayInterval <= 0 {
		cfg.SprayInterval = def.SprayInterval
	}
	if cfg.SpraySpin == 0 {
		cfg.SpraySpin = def.SpraySpin
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = def.Variants
	}
}

// Controller is the host's boss encounter state machine. At most one boss is
// active at a time. All timers are countdowns advanced by Tick.
type Controller struct {
	world  *world.World
	bcast  world.Broadcaster
	rng    *rand.Rand
	logger *log.Logger
	cfg    Config

	boss *world.Entity

	state        Variant
	attacking    bool
	invulnerable bool
	phase        int

	special float64
	normal  float64

	step     string
	timer    float64
	round    int
	interval float64

	aimAngles        []float64
	teleportProgress float64
	dashX, dashY     float64
	sprayAngle       float64

	dirty bool
}

func New(w *world.World, bcast world.Broadcaster, cfg Config, logger *log.Logger) *Controller {
	debug.Assert(w != nil, "boss controller needs a world")

	if bcast == nil {
		bcast = world.NopBroadcaster{}
	}
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	cfg.fill()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Controller{
		world:  w,
		bcast:  bcast,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger,
		cfg:    cfg,
	}
}

// Spawn creates the boss entity at (x, y) and announces it.
func (c *Controller) Spawn(x, y float64) (*world.Entity, error) {
	if c.Active() {
		return nil, ErrActive
	}

	e, err := c.world.Entities.Spawn(world.Spawn{
		Kind:    world.KindBoss,
		X:       x,
		Y:       y,
		Heading: 90,
		HP:      c.cfg.HP,
	})
	if err != nil {
		return nil, fmt.Errorf("could not spawn boss: %w", err)
	}

	c.clear()
	c.boss = e
	c.phase = PhaseFor(e.HP, e.MaxHP)
	c.special = c.rollSpecial()
	c.normal = c.cfg.NormalCooldown[c.phase-1]

	c.bcast.Broadcast(protocol.MsgBossSpawn, c.spawnMsg())
	c.bcast.Broadcast(protocol.MsgBossAttackState, c.Record())

	c.logger.Info().
		Str("entity", e.Key).
		Float64("hp", e.HP).
		Msg("boss spawned")

	return e, nil
}

// Active reports whether a living boss is being driven.
func (c *Controller) Active() bool {
	return c.boss != nil && !c.boss.Dead
}

func (c *Controller) Boss() (*world.Entity, bool) {
	return c.boss, c.boss != nil
}

func (c *Controller) State() Variant     { return c.state }
func (c *Controller) Step() string       { return c.step }
func (c *Controller) Phase() int         { return c.phase }
func (c *Controller) Attacking() bool    { return c.attacking }
func (c *Controller) Countdown() float64 { return c.special }

// Invulnerable implements arbiter.Guard. The boss cannot be hurt while it
// teleports.
func (c *Controller) Invulnerable(e *world.Entity) bool {
	return c.boss != nil && e == c.boss && c.invulnerable
}

// Reset forgets the boss without broadcasting. Used when the world is
// cleared by a lifecycle transition.
func (c *Controller) Reset() {
	c.clear()
}

func (c *Controller) clear() {
	c.boss = nil
	c.state = VariantIdle
	c.attacking = false
	c.invulnerable = false
	c.phase = 0
	c.special = 0
	c.normal = 0
	c.step = ""
	c.timer = 0
	c.round = 0
	c.interval = 0
	c.aimAngles = nil
	c.teleportProgress = 0
	c.dashX, c.dashY = 0, 0
	c.sprayAngle = 0
	c.dirty = false
}

// Tick advances both attack timers by dt. It reports true exactly once, on
// the tick that observes the boss dead, after which the controller is idle.
func (c *Controller) Tick(dt float64) bool {
	b := c.boss
	if b == nil {
		return false
	}
	if b.Dead {
		c.logger.Info().
			Str("entity", b.Key).
			Msg("boss defeated")
		c.clear()
		return true
	}

	if p := PhaseFor(b.HP, b.MaxHP); p != c.phase {
		c.phase = p
		c.bcast.Broadcast(protocol.MsgBossPhase, protocol.BossPhase{EntityID: b.Key, Phase: p})
		c.dirty = true

		c.logger.Info().
			Str("entity", b.Key).
			Int("phase", p).
			Msg("boss phase changed")
	}

	if c.state == VariantIdle {
		c.special -= dt
		if c.special <= 0 {
			c.enter(c.pick())
		}
	} else {
		c.advance(dt)
	}

	c.normalAttack(dt)

	if c.dirty {
		c.dirty = false
		c.bcast.Broadcast(protocol.MsgBossAttackState, c.Record())
	}
	return false
}

// Sync returns the messages a late joiner needs to see the active boss.
func (c *Controller) Sync() (protocol.BossSpawn, protocol.BossAttackState, bool) {
	if !c.Active() {
		return protocol.BossSpawn{}, protocol.BossAttackState{}, false
	}
	return c.spawnMsg(), c.Record(), true
}

func (c *Controller) spawnMsg() protocol.BossSpawn {
	return protocol.BossSpawn{
		EntityID: c.boss.Key,
		X:        c.boss.X,
		Y:        c.boss.Y,
		HP:       c.boss.HP,
		MaxHP:    c.boss.MaxHP,
	}
}

// Record is the full attack-state record. Variant specific fields are only
// set while the variant that owns them runs.
func (c *Controller) Record() protocol.BossAttackState {
	debug.Assert(c.boss != nil)
	b := c.boss

	telegraph := 0.0
	if c.step == stepTelegraph || c.step == stepAim {
		telegraph = max(c.timer, 0)
	}

	rec := protocol.BossAttackState{
		EntityID:     b.Key,
		AttackState:  ptr.To(c.state.String()),
		IsAttacking:  ptr.To(c.attacking),
		Invulnerable: ptr.To(c.invulnerable),
		Phase:        ptr.To(c.phase),
		Telegraph:    ptr.To(telegraph),
		Step:         ptr.To(c.step),
		Round:        ptr.To(c.round),
	}
	if len(c.aimAngles) > 0 {
		rec.AimAngles = slices.Clone(c.aimAngles)
	}
	if b.Charging {
		rec.ChargeProgress = ptr.To(1 - b.ChargeTime/c.cfg.BeamCharge)
	}
	switch c.state {
	case VariantChargeDash:
		rec.DashTargetX = ptr.To(c.dashX)
		rec.DashTargetY = ptr.To(c.dashY)
	case VariantMultiBeamTeleport:
		rec.TeleportProgress = ptr.To(c.teleportProgress)
	case VariantRotatingSpray:
		rec.SprayAngle = ptr.To(c.sprayAngle)
	}
	return rec
}

func (c *Controller) pick() Variant {
	return c.cfg.Variants[c.rng.IntN(len(c.cfg.Variants))]
}

func (c *Controller) rollSpecial() float64 {
	r := c.cfg.SpecialCooldown[c.phase-1]
	return r[0] + c.rng.Float64()*(r[1]-r[0])
}

func (c *Controller) setStep(step string, d float64) {
	c.step = step
	c.timer = d
	c.dirty = true
}

func (c *Controller) enter(v Variant) {
	debug.Assertf(v != VariantIdle && v < variantMax, "cannot enter attack %d", v)

	b := c.boss
	c.state = v
	c.attacking = true
	c.round = 0
	c.aimAngles = nil
	c.teleportProgress = 0

	switch v {
	case VariantChargeDash:
		c.dashX, c.dashY = b.X, b.Y
		if p, ok := c.world.Nearest(b.X, b.Y); ok {
			c.dashX, c.dashY = p.X, p.Y
		}
		c.setStep(stepTelegraph, c.cfg.Telegraph)
	case VariantMultiBeamTeleport:
		c.aim()
		c.setStep(stepAim, c.cfg.Telegraph)
	case VariantRotatingSpray:
		c.sprayAngle = b.Heading
		c.setStep(stepTelegraph, c.cfg.Telegraph)
	default:
		c.setStep(stepTelegraph, c.cfg.Telegraph)
	}

	c.logger.Debug().
		Str("entity", b.Key).
		Stringer("attack", v).
		Int("phase", c.phase).
		Msg("boss attack")
}

func (c *Controller) finish() {
	c.state = VariantIdle
	c.attacking = false
	c.invulnerable = false
	c.step = ""
	c.timer = 0
	c.round = 0
	c.aimAngles = nil
	c.teleportProgress = 0
	c.boss.VX, c.boss.VY = 0, 0
	c.special = c.rollSpecial()
	c.dirty = true
}

func (c *Controller) advance(dt float64) {
	c.timer -= dt
	b := c.boss

	switch c.state {
	case VariantChargeDash:
		switch c.step {
		case stepTelegraph:
			if c.timer <= 0 {
				angle := world.AngleTo(b.X, b.Y, c.dashX, c.dashY)
				b.Heading = angle
				b.VX, b.VY = world.Vector(angle, c.cfg.DashSpeed)
				c.setStep(stepDash, c.cfg.DashDuration)
			}
		case stepDash:
			if c.timer <= 0 {
				b.VX, b.VY = 0, 0
				c.setStep(stepRecover, c.cfg.RecoverDuration)
			}
		case stepRecover:
			if c.timer <= 0 {
				c.finish()
			}
		}

	case VariantRadialBurst:
		if c.timer > 0 {
			return
		}
		if c.round >= c.phase {
			c.finish()
			return
		}
		const bullets = 12
		offset := float64(c.round) * 15
		for i := range bullets {
			c.fire(offset+float64(i)*360/bullets, c.cfg.BulletSpeed, "bullet")
		}
		c.round++
		c.setStep(stepFire, 0.4)

	case VariantMultiBeamTeleport:
		switch c.step {
		case stepAim:
			if c.timer <= 0 {
				for _, a := range c.aimAngles {
					c.fire(a, c.cfg.BeamSpeed, "beam")
				}
				c.invulnerable = true
				c.teleportProgress = 0
				c.setStep(stepTeleport, c.cfg.TeleportDuration)
			}
		case stepTeleport:
			c.teleportProgress = min(1, 1-c.timer/c.cfg.TeleportDuration)
			if c.timer > 0 {
				return
			}
			w, h := c.bounds()
			b.X = w * (0.15 + 0.7*c.rng.Float64())
			b.Y = h * (0.15 + 0.35*c.rng.Float64())
			c.invulnerable = false
			c.teleportProgress = 1
			c.round++
			if c.round >= c.cfg.BeamRounds {
				c.finish()
				return
			}
			c.aim()
			c.setStep(stepAim, c.cfg.Telegraph)
		}

	case VariantMinionSummon:
		switch c.step {
		case stepTelegraph:
			if c.timer <= 0 {
				n := 1 + c.phase
				for i := range n {
					a := float64(i) * 360 / float64(n)
					dx, dy := world.Vector(a, 60)
					_, err := c.world.Entities.Spawn(world.Spawn{
						Kind:    world.KindEnemy,
						X:       b.X + dx,
						Y:       b.Y + dy,
						Heading: a,
						Variant: "minion",
						Owner:   b.Key,
					})
					if err != nil {
						c.logger.Warn().Err(err).Msg("could not summon minion")
					}
				}
				c.setStep(stepRecover, c.cfg.RecoverDuration)
			}
		case stepRecover:
			if c.timer <= 0 {
				c.finish()
			}
		}

	case VariantAreaBombardment:
		if c.timer > 0 {
			return
		}
		if c.round >= 3 {
			c.finish()
			return
		}
		for _, p := range c.world.Players.Alive() {
			c.bomb(p.X, p.Y)
		}
		c.round++
		c.setStep(stepFire, 0.8)

	case VariantRotatingSpray:
		switch c.step {
		case stepTelegraph:
			if c.timer <= 0 {
				c.interval = 0
				c.setStep(stepSpray, c.cfg.SprayDuration)
			}
		case stepSpray:
			c.sprayAngle = world.NormalizeDeg(c.sprayAngle + c.cfg.SpraySpin*dt)
			c.interval -= dt
			if c.interval <= 0 {
				c.interval = c.cfg.SprayInterval
				c.fire(c.sprayAngle, c.cfg.BulletSpeed, "bullet")
				c.fire(c.sprayAngle+180, c.cfg.BulletSpeed, "bullet")
			}
			if c.timer <= 0 {
				c.finish()
			}
		}

	case VariantScatterBombardment:
		if c.timer > 0 {
			return
		}
		if c.round >= 2 {
			c.finish()
			return
		}
		w, h := c.bounds()
		for range 6 + 2*c.phase {
			c.bomb(w*c.rng.Float64(), h*c.rng.Float64())
		}
		c.round++
		c.setStep(stepFire, 0.8)

	default:
		debug.Assertf(false, "unhandled boss attack %s", c.state)
	}
}

// aim points three beams at the nearest player, fanned 20 degrees apart.
func (c *Controller) aim() {
	b := c.boss
	base := b.Heading
	if p, ok := c.world.Nearest(b.X, b.Y); ok {
		base = world.AngleTo(b.X, b.Y, p.X, p.Y)
	}
	c.aimAngles = []float64{
		world.NormalizeDeg(base - 20),
		world.NormalizeDeg(base),
		world.NormalizeDeg(base + 20),
	}
}

// normalAttack runs independently of the special attack timer. A charging
// beam holds the countdown until it fires.
func (c *Controller) normalAttack(dt float64) {
	b := c.boss

	if b.Charging {
		b.ChargeTime -= dt
		if b.ChargeTime > 0 {
			return
		}
		b.Charging = false
		b.ChargeTime = 0
		c.fire(b.AimAngle, c.cfg.BeamSpeed, "beam")
		c.normal = c.cfg.NormalCooldown[c.phase-1]
		c.dirty = true
		return
	}

	c.normal -= dt
	if c.normal > 0 {
		return
	}
	c.normal = c.cfg.NormalCooldown[c.phase-1]

	target, ok := c.world.Nearest(b.X, b.Y)
	if !ok {
		return
	}
	angle := world.AngleTo(b.X, b.Y, target.X, target.Y)

	if c.rng.Float64() < c.cfg.BeamChance {
		b.Charging = true
		b.AimAngle = angle
		b.ChargeTime = c.cfg.BeamCharge
		c.dirty = true
		return
	}
	c.fire(angle, c.cfg.BulletSpeed, "bullet")
}

func (c *Controller) fire(angle, speed float64, variant string) {
	b := c.boss
	vx, vy := world.Vector(angle, speed)
	_, err := c.world.Entities.Spawn(world.Spawn{
		Kind:    world.KindProjectile,
		X:       b.X,
		Y:       b.Y,
		Heading: angle,
		VX:      vx,
		VY:      vy,
		Variant: variant,
		Owner:   b.Key,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("could not fire boss projectile")
	}
}

func (c *Controller) bomb(x, y float64) {
	_, err := c.world.Entities.Spawn(world.Spawn{
		Kind:    world.KindProjectile,
		X:       x,
		Y:       y,
		Variant: "bomb",
		Owner:   c.boss.Key,
		TTL:     1.5,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("could not drop boss bomb")
	}
}

func (c *Controller) bounds() (float64, float64) {
	w, h := float64(c.world.Width), float64(c.world.Height)
	if w <= 0 {
		w = 800
	}
	if h <= 0 {
		h = 600
	}
	return w, h
}
