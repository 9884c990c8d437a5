package boss

import "strings"

// Variant is the boss attack state. VariantIdle means no special attack is
// running.
type Variant uint8

const (
	VariantIdle Variant = iota
	VariantChargeDash
	VariantRadialBurst
	VariantMultiBeamTeleport
	VariantMinionSummon
	VariantAreaBombardment
	VariantRotatingSpray
	VariantScatterBombardment

	variantMax
)

var variantNames = [variantMax]string{
	VariantIdle:               "IDLE",
	VariantChargeDash:         "CHARGE_DASH",
	VariantRadialBurst:        "RADIAL_BURST",
	VariantMultiBeamTeleport:  "MULTI_BEAM_TELEPORT",
	VariantMinionSummon:       "MINION_SUMMON",
	VariantAreaBombardment:    "AREA_BOMBARDMENT",
	VariantRotatingSpray:      "ROTATING_SPRAY",
	VariantScatterBombardment: "SCATTER_BOMBARDMENT",
}

// Attacks lists every special attack.
var Attacks = []Variant{
	VariantChargeDash,
	VariantRadialBurst,
	VariantMultiBeamTeleport,
	VariantMinionSummon,
	VariantAreaBombardment,
	VariantRotatingSpray,
	VariantScatterBombardment,
}

func (v Variant) String() string {
	if v >= variantMax {
		return "UNKNOWN"
	}
	return variantNames[v]
}

func ParseVariant(s string) (Variant, bool) {
	for v := VariantIdle; v < variantMax; v++ {
		if strings.EqualFold(variantNames[v], s) {
			return v, true
		}
	}
	return VariantIdle, false
}

// PhaseFor derives the boss phase from its hit points. Phase 2 starts below
// half health, phase 3 below a quarter.
func PhaseFor(hp, maxHP float64) int {
	if maxHP <= 0 {
		return 1
	}
	frac := hp / maxHP
	switch {
	case frac > 0.5:
		return 1
	case frac > 0.25:
		return 2
	default:
		return 3
	}
}
