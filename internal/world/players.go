package world

import (
	"github.com/blukai/dogfight/internal/protocol"
)

// Palette is cycled through in join order.
var Palette = [...]string{
	"#4fc3f7", "#ef5350", "#66bb6a", "#ffca28",
	"#ab47bc", "#ff7043", "#26a69a", "#ec407a",
}

type PlayerDefaults struct {
	Hull   float64
	Shield float64 // per sector
}

var DefaultPlayerDefaults = PlayerDefaults{Hull: 100, Shield: 25}

// Player is a participant's avatar.
type Player struct {
	ID    string
	Name  string
	Color int

	X, Y    float64
	Heading float64

	Hull, MaxHull float64
	Shield        protocol.Shields
	MaxShield     float64

	Dead  bool
	Kills int

	BounceVX, BounceVY float64
	BounceTimer        float64
}

// Reset brings the player back alive with full hull and shields and a
// fresh kill count.
func (p *Player) Reset() {
	p.Hull = p.MaxHull
	p.Kills = 0
	for i := range p.Shield {
		p.Shield[i] = p.MaxShield
	}
	p.Dead = false
	p.BounceVX, p.BounceVY, p.BounceTimer = 0, 0, 0
}

func (p *Player) Info() protocol.PlayerInfo {
	return protocol.PlayerInfo{ID: p.ID, Name: p.Name, X: p.X, Y: p.Y, Color: p.Color}
}

func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{
		ID:          p.ID,
		X:           p.X,
		Y:           p.Y,
		Heading:     NormalizeDeg(p.Heading),
		Hull:        p.Hull,
		MaxHull:     p.MaxHull,
		Shield:      p.Shield,
		Dead:        p.Dead,
		BounceVX:    p.BounceVX,
		BounceVY:    p.BounceVY,
		BounceTimer: p.BounceTimer,
	}
}

func (p *Player) Summary() protocol.PlayerSummary {
	return protocol.PlayerSummary{ID: p.ID, Name: p.Name, Kills: p.Kills, Dead: p.Dead}
}

// Players is the RemotePlayer registry, kept in join order.
type Players struct {
	defaults  PlayerDefaults
	byID      map[string]*Player
	order     []string
	nextColor int
}

func NewPlayers(defaults PlayerDefaults) *Players {
	if defaults.Hull <= 0 {
		defaults.Hull = DefaultPlayerDefaults.Hull
	}
	if defaults.Shield < 0 {
		defaults.Shield = 0
	}
	return &Players{
		defaults: defaults,
		byID:     make(map[string]*Player),
	}
}

// Add registers a player with the next palette color. Adding an existing id
// returns the existing record.
func (ps *Players) Add(id, name string) *Player {
	if p, ok := ps.byID[id]; ok {
		return p
	}
	color := ps.nextColor % len(Palette)
	ps.nextColor++
	return ps.insert(id, name, color)
}

// AddColored registers a player whose color was assigned elsewhere.
func (ps *Players) AddColored(id, name string, color int) *Player {
	if p, ok := ps.byID[id]; ok {
		p.Name = name
		p.Color = color
		return p
	}
	return ps.insert(id, name, color)
}

func (ps *Players) insert(id, name string, color int) *Player {
	p := &Player{
		ID:        id,
		Name:      name,
		Color:     color,
		MaxHull:   ps.defaults.Hull,
		MaxShield: ps.defaults.Shield,
	}
	p.Reset()
	ps.byID[id] = p
	ps.order = append(ps.order, id)
	return p
}

func (ps *Players) Remove(id string) bool {
	if _, ok := ps.byID[id]; !ok {
		return false
	}
	delete(ps.byID, id)
	for i, oid := range ps.order {
		if oid == id {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}
	return true
}

func (ps *Players) Get(id string) (*Player, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

// All returns players in join order.
func (ps *Players) All() []*Player {
	out := make([]*Player, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.byID[id])
	}
	return out
}

func (ps *Players) Alive() []*Player {
	out := make([]*Player, 0, len(ps.order))
	for _, id := range ps.order {
		if p := ps.byID[id]; !p.Dead {
			out = append(out, p)
		}
	}
	return out
}

func (ps *Players) ResetAll() {
	for _, p := range ps.byID {
		p.Reset()
	}
}

func (ps *Players) Len() int {
	return len(ps.order)
}

func (ps *Players) Clear() {
	clear(ps.byID)
	ps.order = ps.order[:0]
}
