package world

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindEnemy
	KindBoss
	KindProjectile
	KindPickup
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindEnemy:      "enemy",
	KindBoss:       "boss",
	KindProjectile: "projectile",
	KindPickup:     "pickup",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind is case-insensitive. Unrecognized names yield KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(s)
	for k := KindEnemy; int(k) < len(kindNames); k++ {
		if kindNames[k] == s {
			return k
		}
	}
	return KindUnknown
}

var ErrMalformedID = errors.New("malformed entity id")

// EntityID is the structured entity identifier. Its wire form is
// "<kind>_<seq>". Seq is per kind, starts at 1 and is never reused.
type EntityID struct {
	Kind Kind
	Seq  uint32
}

func (id EntityID) String() string {
	return id.Kind.String() + "_" + strconv.FormatUint(uint64(id.Seq), 10)
}

// ParseEntityID accepts only the canonical wire form.
func ParseEntityID(s string) (EntityID, error) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return EntityID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	kind := ParseKind(s[:i])
	if kind == KindUnknown || s[:i] != kind.String() {
		return EntityID{}, fmt.Errorf("%w: unknown kind in %q", ErrMalformedID, s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || seq == 0 {
		return EntityID{}, fmt.Errorf("%w: bad sequence in %q", ErrMalformedID, s)
	}
	return EntityID{Kind: kind, Seq: uint32(seq)}, nil
}

// parseLoose recovers kind and sequence from ids that drifted from the
// canonical form ("Enemy-3", "enemy3", "3"). kind is KindUnknown when no
// recognizable prefix is present.
func parseLoose(s string) (Kind, uint32, bool) {
	s = strings.TrimSpace(s)
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return KindUnknown, 0, false
	}
	seq, err := strconv.ParseUint(s[start:end], 10, 32)
	if err != nil || seq == 0 {
		return KindUnknown, 0, false
	}
	prefix := strings.TrimRight(s[:start], "_-: #")
	return ParseKind(prefix), uint32(seq), true
}
