package arbiter

import (
	"math"

	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/world"
)

// Sector indexes protocol.Shields.
type Sector int

const (
	SectorFront Sector = iota
	SectorRight
	SectorRear
	SectorLeft
)

func (s Sector) String() string {
	switch s {
	case SectorFront:
		return "front"
	case SectorRight:
		return "right"
	case SectorRear:
		return "rear"
	case SectorLeft:
		return "left"
	default:
		return "invalid"
	}
}

// SectorFor maps a hit angle relative to the target's heading to a sector.
// Boundaries are half-open: front [-45, 45), right [45, 135),
// left [-135, -45), rear is everything else.
func SectorFor(relative float64) Sector {
	a := world.NormalizeDeg(relative)
	switch {
	case a >= -45 && a < 45:
		return SectorFront
	case a >= 45 && a < 135:
		return SectorRight
	case a >= -135 && a < -45:
		return SectorLeft
	default:
		return SectorRear
	}
}

// HitSector picks the sector of a target at (tx, ty) facing heading that is
// struck from (fromX, fromY).
func HitSector(tx, ty, heading, fromX, fromY float64) Sector {
	return SectorFor(world.AngleTo(tx, ty, fromX, fromY) - heading)
}

// ApplyDamage drains the struck sector's shield first and carries the rest
// into hull. Shields never go negative.
func ApplyDamage(shield *protocol.Shields, hull *float64, s Sector, dmg float64) (shieldDmg, hullDmg float64) {
	if dmg <= 0 {
		return 0, 0
	}

	available := math.Max(shield[s], 0)
	shieldDmg = math.Min(dmg, available)
	shield[s] = available - shieldDmg

	hullDmg = math.Max(0, dmg-available)
	*hull -= hullDmg

	return shieldDmg, hullDmg
}

// Knockback returns a velocity pushing a target at (toX, toY) away from
// (fromX, fromY), snapped to one of eight compass directions.
func Knockback(fromX, fromY, toX, toY, speed float64) (float64, float64) {
	dir := 0.0
	if fromX != toX || fromY != toY {
		dir = world.AngleTo(fromX, fromY, toX, toY)
	}
	return world.Vector(Quantize8(dir), speed)
}

// Quantize8 snaps a heading to the nearest multiple of 45 degrees.
func Quantize8(deg float64) float64 {
	return world.NormalizeDeg(math.Round(world.NormalizeDeg(deg)/45) * 45)
}

// PvpResult is the outcome of PvP damage at the victim's own endpoint.
type PvpResult struct {
	Applied   bool
	Sector    Sector
	ShieldDmg float64
	HullDmg   float64
	Killed    bool
}

// ApplyPvpDamage evaluates a PvP hit against the local avatar. A victim that
// is already dead discards the event.
func ApplyPvpDamage(victim *world.Player, msg protocol.PvpDamage) PvpResult {
	if victim == nil || victim.Dead || msg.TargetID != victim.ID || msg.Damage <= 0 {
		return PvpResult{}
	}

	sector := HitSector(victim.X, victim.Y, victim.Heading, msg.X, msg.Y)
	sd, hd := ApplyDamage(&victim.Shield, &victim.Hull, sector, msg.Damage)

	res := PvpResult{Applied: true, Sector: sector, ShieldDmg: sd, HullDmg: hd}
	if victim.Hull <= 0 {
		victim.Hull = 0
		victim.Dead = true
		res.Killed = true
	}
	return res
}
