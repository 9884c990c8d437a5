package world

import (
	"fmt"

	"github.com/blukai/dogfight/internal/debug"
	"github.com/blukai/dogfight/internal/protocol"
)

// Spawn describes an entity to create.
type Spawn struct {
	Kind    Kind
	X, Y    float64
	Heading float64
	Variant string
	Owner   string
	VX, VY  float64

	// zero values fall back to the kind's stats
	HP     float64
	Shield float64
	TTL    float64
}

type TableConfig struct {
	// MoveEvery sends EntityMove every n ticks. values below 1 mean every tick.
	MoveEvery int
	Stats     map[Kind]KindStats
}

// Table is the host's authoritative entity map.
type Table struct {
	cfg   TableConfig
	bcast Broadcaster
	mover Mover

	entities map[string]*Entity
	order    []string
	seq      map[Kind]uint32
	ticks    uint64
}

func NewTable(bcast Broadcaster, mover Mover, cfg TableConfig) *Table {
	if bcast == nil {
		bcast = NopBroadcaster{}
	}
	if mover == nil {
		mover = LinearMover{}
	}
	if cfg.MoveEvery < 1 {
		cfg.MoveEvery = 1
	}
	if cfg.Stats == nil {
		cfg.Stats = DefaultKindStats
	}
	return &Table{
		cfg:      cfg,
		bcast:    bcast,
		mover:    mover,
		entities: make(map[string]*Entity),
		seq:      make(map[Kind]uint32),
	}
}

// Create records a new entity and broadcasts EntityCreate.
func (t *Table) Create(kind Kind, x, y, heading float64, variant string) (string, error) {
	e, err := t.Spawn(Spawn{Kind: kind, X: x, Y: y, Heading: heading, Variant: variant})
	if err != nil {
		return "", err
	}
	return e.Key, nil
}

func (t *Table) Spawn(s Spawn) (*Entity, error) {
	if s.Kind == KindUnknown || int(s.Kind) >= len(kindNames) {
		return nil, fmt.Errorf("could not spawn: unknown kind %d", s.Kind)
	}

	stats := t.cfg.Stats[s.Kind]
	if s.HP <= 0 {
		s.HP = stats.HP
	}
	if s.Shield <= 0 {
		s.Shield = stats.Shield
	}
	if s.TTL <= 0 {
		s.TTL = stats.TTL
	}

	t.seq[s.Kind]++
	id := EntityID{Kind: s.Kind, Seq: t.seq[s.Kind]}

	e := &Entity{
		ID:        id,
		Key:       id.String(),
		Kind:      s.Kind,
		Variant:   s.Variant,
		Owner:     s.Owner,
		X:         s.X,
		Y:         s.Y,
		Heading:   NormalizeDeg(s.Heading),
		VX:        s.VX,
		VY:        s.VY,
		HP:        s.HP,
		MaxHP:     s.HP,
		MaxShield: s.Shield,
		TTL:       s.TTL,
	}
	for i := range e.Shield {
		e.Shield[i] = s.Shield
	}

	_, exists := t.entities[e.Key]
	debug.Assertf(!exists, "entity id %s reused", e.Key)

	t.entities[e.Key] = e
	t.order = append(t.order, e.Key)

	t.bcast.Broadcast(protocol.MsgEntityCreate, e.CreateMsg())

	return e, nil
}

// Get is an exact lookup.
func (t *Table) Get(id string) (*Entity, bool) {
	e, ok := t.entities[id]
	return e, ok
}

// Lookup tries the exact id first, then falls back to the numeric suffix.
// A bare number only resolves when a single entity carries that sequence.
func (t *Table) Lookup(id string) (*Entity, bool) {
	if e, ok := t.entities[id]; ok {
		return e, true
	}

	kind, seq, ok := parseLoose(id)
	if !ok {
		return nil, false
	}
	if kind != KindUnknown {
		e, ok := t.entities[EntityID{Kind: kind, Seq: seq}.String()]
		return e, ok
	}

	var found *Entity
	for _, e := range t.entities {
		if e.ID.Seq != seq {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = e
	}
	return found, found != nil
}

// Kill marks the entity dead. The EntityDelete goes out on the next Tick.
func (t *Table) Kill(id string) bool {
	e, ok := t.Lookup(id)
	if !ok {
		return false
	}
	return e.MarkDead()
}

// Tick advances every entity and pushes its full state. Entities that died
// get exactly one EntityDelete and leave the table.
func (t *Table) Tick(dt float64) {
	t.ticks++
	sendMoves := t.ticks%uint64(t.cfg.MoveEvery) == 0

	live := t.order[:0]
	for _, key := range t.order {
		e, ok := t.entities[key]
		if !ok {
			continue
		}

		if !e.Dead {
			t.mover.Move(e, dt)
		}

		if e.Dead {
			t.notifyDeath(e)
			delete(t.entities, key)
			continue
		}

		live = append(live, key)
		if sendMoves {
			t.bcast.Broadcast(protocol.MsgEntityMove, e.MoveMsg())
		}
	}
	for i := len(live); i < len(t.order); i++ {
		t.order[i] = ""
	}
	t.order = live
}

// FlushDeaths sends pending deletes without advancing anything.
func (t *Table) FlushDeaths() {
	live := t.order[:0]
	for _, key := range t.order {
		e, ok := t.entities[key]
		if !ok {
			continue
		}
		if e.Dead {
			t.notifyDeath(e)
			delete(t.entities, key)
			continue
		}
		live = append(live, key)
	}
	for i := len(live); i < len(t.order); i++ {
		t.order[i] = ""
	}
	t.order = live
}

func (t *Table) notifyDeath(e *Entity) {
	if e.deathNotified {
		return
	}
	e.deathNotified = true
	t.bcast.Broadcast(protocol.MsgEntityDelete, protocol.EntityDelete{EntityID: e.Key})
}

// Clear drops every entity without broadcasting. Sequence counters keep
// counting so ids stay unique for the session.
func (t *Table) Clear() {
	clear(t.entities)
	t.order = t.order[:0]
}

// Each visits live entities in creation order.
func (t *Table) Each(fn func(e *Entity) bool) {
	for _, key := range t.order {
		e, ok := t.entities[key]
		if !ok || e.Dead {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// Snapshot returns EntityCreate messages for every live entity, used to
// bring a late joiner up to date.
func (t *Table) Snapshot() []protocol.EntityCreate {
	out := make([]protocol.EntityCreate, 0, len(t.order))
	t.Each(func(e *Entity) bool {
		out = append(out, e.CreateMsg())
		return true
	})
	return out
}

func (t *Table) Len() int {
	n := 0
	t.Each(func(*Entity) bool {
		n++
		return true
	})
	return n
}
