package arbiter

import (
	"io"

	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/world"
	"github.com/phuslu/log"
)

// Guard lets other systems veto damage, e.g. a teleporting boss.
type Guard interface {
	Invulnerable(e *world.Entity) bool
}

type noGuard struct{}

func (noGuard) Invulnerable(*world.Entity) bool { return false }

type Config struct {
	// Damage per collision cause. Unknown causes deal DefaultDamage.
	Damage         map[string]float64
	DefaultDamage  float64
	BounceSpeed    float64
	BounceDuration float64 // seconds
	ExplosionSize  float64
}

func DefaultConfig() Config {
	return Config{
		Damage: map[string]float64{
			"ram":     10,
			"laser":   5,
			"missile": 20,
			"beam":    15,
		},
		DefaultDamage:  10,
		BounceSpeed:    240,
		BounceDuration: 0.25,
		ExplosionSize:  1,
	}
}

// Arbiter owns damage, collision and death resolution on the host.
type Arbiter struct {
	world  *world.World
	bcast  world.Broadcaster
	guard  Guard
	logger *log.Logger
	cfg    Config

	victoryDeclared bool
}

func New(w *world.World, bcast world.Broadcaster, guard Guard, cfg Config, logger *log.Logger) *Arbiter {
	if bcast == nil {
		bcast = world.NopBroadcaster{}
	}
	if guard == nil {
		guard = noGuard{}
	}
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	def := DefaultConfig()
	if cfg.Damage == nil {
		cfg.Damage = def.Damage
	}
	if cfg.DefaultDamage <= 0 {
		cfg.DefaultDamage = def.DefaultDamage
	}
	if cfg.BounceSpeed <= 0 {
		cfg.BounceSpeed = def.BounceSpeed
	}
	if cfg.BounceDuration <= 0 {
		cfg.BounceDuration = def.BounceDuration
	}
	if cfg.ExplosionSize <= 0 {
		cfg.ExplosionSize = def.ExplosionSize
	}

	return &Arbiter{
		world:  w,
		bcast:  bcast,
		guard:  guard,
		logger: logger,
		cfg:    cfg,
	}
}

// SetGuard replaces the damage veto.
func (a *Arbiter) SetGuard(g Guard) {
	if g == nil {
		g = noGuard{}
	}
	a.guard = g
}

// Outcome describes what a collision report resolved to.
type Outcome struct {
	Resolved  bool
	Entity    *world.Entity
	Sector    Sector
	ShieldDmg float64
	HullDmg   float64
	Killed    bool
}

func (a *Arbiter) damageFor(cause string) float64 {
	if d, ok := a.cfg.Damage[cause]; ok {
		return d
	}
	return a.cfg.DefaultDamage
}

// ResolveCollision applies a client's contact report. Reports against
// missing or dead entities, and from dead reporters, are no-ops.
func (a *Arbiter) ResolveCollision(reporterID string, msg protocol.CollisionEvent) Outcome {
	e, ok := a.world.Entities.Lookup(msg.EntityID)
	if !ok {
		a.logger.Debug().
			Str("reporter", reporterID).
			Str("entity", msg.EntityID).
			Msg("collision with unknown entity")
		return Outcome{}
	}
	if e.Dead {
		return Outcome{}
	}
	if reporter, ok := a.world.Players.Get(reporterID); ok && reporter.Dead {
		return Outcome{}
	}
	if a.guard.Invulnerable(e) {
		return Outcome{Entity: e}
	}

	sector := HitSector(e.X, e.Y, e.Heading, msg.X, msg.Y)
	sd, hd := ApplyDamage(&e.Shield, &e.HP, sector, a.damageFor(msg.Cause))

	e.BounceVX, e.BounceVY = Knockback(msg.X, msg.Y, e.X, e.Y, a.cfg.BounceSpeed)
	e.BounceTimer = a.cfg.BounceDuration

	out := Outcome{
		Resolved:  true,
		Entity:    e,
		Sector:    sector,
		ShieldDmg: sd,
		HullDmg:   hd,
	}
	if e.HP <= 0 {
		out.Killed = e.MarkDead()
	}

	a.bcast.Broadcast(protocol.MsgDamageEvent, protocol.DamageEvent{
		EntityID:   e.Key,
		AttackerID: reporterID,
		Sector:     int(sector),
		ShieldDmg:  sd,
		HullDmg:    hd,
		HP:         e.HP,
		Shield:     e.Shield,
		Dead:       e.Dead,
	})

	if out.Killed {
		a.bcast.Broadcast(protocol.MsgExplosion, protocol.Explosion{
			EntityID: e.Key,
			X:        e.X,
			Y:        e.Y,
			Size:     a.cfg.ExplosionSize,
		})
		a.world.Entities.FlushDeaths()
		a.creditKill(reporterID)

		a.logger.Debug().
			Str("entity", e.Key).
			Str("killer", reporterID).
			Msg("entity destroyed")
	}

	return out
}

func (a *Arbiter) creditKill(killerID string) {
	killer, ok := a.world.Players.Get(killerID)
	if !ok {
		return
	}
	killer.Kills++
	a.bcast.Broadcast(protocol.MsgKillSync, protocol.KillSync{ID: killer.ID, Kills: killer.Kills})
}

// PlayerDied records a participant's death and runs the victory check. It
// reports false when the player was unknown or already dead.
func (a *Arbiter) PlayerDied(victimID, killerID string) bool {
	victim, ok := a.world.Players.Get(victimID)
	if !ok || victim.Dead {
		return false
	}
	victim.Dead = true
	victim.Hull = 0
	a.recordDeath(victim, killerID)
	return true
}

// ApplyLocalPvp evaluates PvP damage against an avatar this endpoint is
// authoritative for and records the death if the hit was fatal.
func (a *Arbiter) ApplyLocalPvp(victimID string, msg protocol.PvpDamage) PvpResult {
	victim, ok := a.world.Players.Get(victimID)
	if !ok {
		return PvpResult{}
	}
	res := ApplyPvpDamage(victim, msg)
	if res.Killed {
		a.recordDeath(victim, msg.AttackerID)
	}
	return res
}

func (a *Arbiter) recordDeath(victim *world.Player, killerID string) {
	if killerID != "" && killerID != victim.ID {
		a.creditKill(killerID)
	}
	a.logger.Info().
		Str("victim", victim.ID).
		Str("killer", killerID).
		Msg("player died")
	a.CheckVictory()
}

// CheckVictory declares a PvP winner when damage is on, hostile spawns are
// off and exactly one participant is alive. It fires at most once per round.
func (a *Arbiter) CheckVictory() (*world.Player, bool) {
	if a.victoryDeclared {
		return nil, false
	}
	rules := a.world.Rules
	if !rules.PvpEnabled || rules.HostileSpawn {
		return nil, false
	}

	alive := a.world.Players.Alive()
	if len(alive) != 1 {
		return nil, false
	}

	winner := alive[0]
	a.victoryDeclared = true
	a.bcast.Broadcast(protocol.MsgPvpVictory, protocol.PvpVictory{
		WinnerID:   winner.ID,
		WinnerName: winner.Name,
	})

	a.logger.Info().
		Str("winner", winner.Name).
		Msg("pvp victory")

	return winner, true
}

func (a *Arbiter) VictoryDeclared() bool {
	return a.victoryDeclared
}

// ResetRound re-arms the victory check.
func (a *Arbiter) ResetRound() {
	a.victoryDeclared = false
}
