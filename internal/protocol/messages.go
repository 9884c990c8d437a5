package protocol

// Payload types. Field names on the wire follow the msgpack tags.

// Version is the protocol version spoken by this build.
const Version = 2

// SectorCount is the number of directional shield sectors.
const SectorCount = 4

// Shields holds per-sector shield values: front, right, rear, left.
type Shields [SectorCount]float64

type ClientHello struct {
	Name         string `msgpack:"name"`
	ScreenWidth  int    `msgpack:"screenWidth"`
	ScreenHeight int    `msgpack:"screenHeight"`
	Version      int    `msgpack:"version"`
}

type PlayerInfo struct {
	ID    string  `msgpack:"id"`
	Name  string  `msgpack:"name"`
	X     float64 `msgpack:"x"`
	Y     float64 `msgpack:"y"`
	Color int     `msgpack:"color"`
}

type Rules struct {
	PvpEnabled   bool `msgpack:"pvpEnabled"`
	HostileSpawn bool `msgpack:"hostileSpawn"`
}

type ServerConfig struct {
	YourID          string       `msgpack:"yourId"`
	YourColor       int          `msgpack:"yourColor"`
	GameWidth       int          `msgpack:"gameWidth"`
	GameHeight      int          `msgpack:"gameHeight"`
	HostID          string       `msgpack:"hostId"`
	HostName        string       `msgpack:"hostName"`
	HostColor       int          `msgpack:"hostColor"`
	ExistingPlayers []PlayerInfo `msgpack:"existingPlayers"`
	Rules           Rules        `msgpack:"rules"`
	Phase           string       `msgpack:"phase"`
}

type VersionMismatch struct {
	HostVersion int `msgpack:"hostVersion"`
}

type PlayerJoined struct {
	ID    string `msgpack:"id"`
	Name  string `msgpack:"name"`
	Color int    `msgpack:"color"`
}

type PlayerLeft struct {
	ID string `msgpack:"id"`
}

// GameFlow is the payload of GameStart, GameRestart and ReturnToLobby.
type GameFlow struct {
	Rules Rules `msgpack:"rules"`
}

type PlayerSummary struct {
	ID    string `msgpack:"id"`
	Name  string `msgpack:"name"`
	Kills int    `msgpack:"kills"`
	Dead  bool   `msgpack:"dead"`
}

type GameOver struct {
	Reason  string          `msgpack:"reason"`
	Elapsed float64         `msgpack:"elapsed"`
	Players []PlayerSummary `msgpack:"players"`
}

type EntityCreate struct {
	EntityID string  `msgpack:"entityId"`
	Kind     string  `msgpack:"kind"`
	Variant  string  `msgpack:"variant,omitempty"`
	Owner    string  `msgpack:"owner,omitempty"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	Heading  float64 `msgpack:"heading"`
	VX       float64 `msgpack:"vx,omitempty"`
	VY       float64 `msgpack:"vy,omitempty"`
	HP       float64 `msgpack:"hp"`
	MaxHP    float64 `msgpack:"maxHp"`
	Shield   Shields `msgpack:"shield"`
}

// EntityMove is a full-state push for one entity. Heading is in degrees,
// normalized to [-180, 180).
type EntityMove struct {
	EntityID    string  `msgpack:"entityId"`
	X           float64 `msgpack:"x"`
	Y           float64 `msgpack:"y"`
	Heading     float64 `msgpack:"heading"`
	HP          float64 `msgpack:"hp"`
	Shield      Shields `msgpack:"shield"`
	Dead        bool    `msgpack:"dead"`
	Charging    bool    `msgpack:"charging,omitempty"`
	AimAngle    float64 `msgpack:"aimAngle,omitempty"`
	ChargeTime  float64 `msgpack:"chargeTime,omitempty"`
	BounceTimer float64 `msgpack:"bounceTimer,omitempty"`
}

type EntityDelete struct {
	EntityID string `msgpack:"entityId"`
}

// ClientMove is a client's own avatar state, sent to the host every tick.
type ClientMove struct {
	X           float64 `msgpack:"x"`
	Y           float64 `msgpack:"y"`
	Heading     float64 `msgpack:"heading"`
	BounceVX    float64 `msgpack:"bounceVx,omitempty"`
	BounceVY    float64 `msgpack:"bounceVy,omitempty"`
	BounceTimer float64 `msgpack:"bounceTimer,omitempty"`
	Dead        bool    `msgpack:"dead,omitempty"`
}

// PlayerState is the host's rebroadcast of an avatar.
type PlayerState struct {
	ID          string  `msgpack:"id"`
	X           float64 `msgpack:"x"`
	Y           float64 `msgpack:"y"`
	Heading     float64 `msgpack:"heading"`
	Hull        float64 `msgpack:"hull"`
	MaxHull     float64 `msgpack:"maxHull"`
	Shield      Shields `msgpack:"shield"`
	Dead        bool    `msgpack:"dead"`
	BounceVX    float64 `msgpack:"bounceVx,omitempty"`
	BounceVY    float64 `msgpack:"bounceVy,omitempty"`
	BounceTimer float64 `msgpack:"bounceTimer,omitempty"`
}

type WeaponFired struct {
	OwnerID string  `msgpack:"ownerId"`
	Weapon  string  `msgpack:"weapon"`
	X       float64 `msgpack:"x"`
	Y       float64 `msgpack:"y"`
	Heading float64 `msgpack:"heading"`
	Speed   float64 `msgpack:"speed,omitempty"`
}

// DamageEvent reports the authoritative result of a hit.
type DamageEvent struct {
	EntityID   string  `msgpack:"entityId"`
	AttackerID string  `msgpack:"attackerId,omitempty"`
	Sector     int     `msgpack:"sector"`
	ShieldDmg  float64 `msgpack:"shieldDmg"`
	HullDmg    float64 `msgpack:"hullDmg"`
	HP         float64 `msgpack:"hp"`
	Shield     Shields `msgpack:"shield"`
	Dead       bool    `msgpack:"dead"`
}

// PvpDamage is relayed to every endpoint, only the target applies it.
type PvpDamage struct {
	AttackerID string  `msgpack:"attackerId"`
	TargetID   string  `msgpack:"targetId"`
	Damage     float64 `msgpack:"damage"`
	// X, Y is where the shot came from, used to pick the struck sector.
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
}

// CollisionEvent is a client's report of contact with an entity. X, Y is the
// reporter's position at contact time.
type CollisionEvent struct {
	EntityID string  `msgpack:"entityId"`
	Cause    string  `msgpack:"cause,omitempty"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
}

type BossSpawn struct {
	EntityID string  `msgpack:"entityId"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	HP       float64 `msgpack:"hp"`
	MaxHP    float64 `msgpack:"maxHp"`
}

type BossPhase struct {
	EntityID string `msgpack:"entityId"`
	Phase    int    `msgpack:"phase"`
}

// BossAttackState is a possibly partial boss record. Absent fields keep
// their previous mirrored value.
type BossAttackState struct {
	EntityID         string    `msgpack:"entityId"`
	AttackState      *string   `msgpack:"attackState,omitempty"`
	IsAttacking      *bool     `msgpack:"isAttacking,omitempty"`
	Invulnerable     *bool     `msgpack:"invulnerable,omitempty"`
	Phase            *int      `msgpack:"phase,omitempty"`
	Telegraph        *float64  `msgpack:"telegraph,omitempty"`
	Step             *string   `msgpack:"step,omitempty"`
	Round            *int      `msgpack:"round,omitempty"`
	AimAngles        []float64 `msgpack:"aimAngles,omitempty"`
	ChargeProgress   *float64  `msgpack:"chargeProgress,omitempty"`
	TeleportProgress *float64  `msgpack:"teleportProgress,omitempty"`
	DashTargetX      *float64  `msgpack:"dashTargetX,omitempty"`
	DashTargetY      *float64  `msgpack:"dashTargetY,omitempty"`
	SprayAngle       *float64  `msgpack:"sprayAngle,omitempty"`
}

type ShieldState struct {
	ID     string  `msgpack:"id"`
	Shield Shields `msgpack:"shield"`
	Hull   float64 `msgpack:"hull"`
}

type PlayerDeath struct {
	ID       string `msgpack:"id"`
	KillerID string `msgpack:"killerId,omitempty"`
}

type KillSync struct {
	ID    string `msgpack:"id"`
	Kills int    `msgpack:"kills"`
}

type SyncTimer struct {
	Elapsed float64 `msgpack:"elapsed"`
}

type Explosion struct {
	EntityID string  `msgpack:"entityId,omitempty"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	Size     float64 `msgpack:"size"`
}

type PvpVictory struct {
	WinnerID   string `msgpack:"winnerId"`
	WinnerName string `msgpack:"winnerName"`
}

type ChatMessage struct {
	From string `msgpack:"from"`
	Name string `msgpack:"name"`
	Text string `msgpack:"text"`
}

type Hail struct {
	From string `msgpack:"from"`
	To   string `msgpack:"to"`
	Text string `msgpack:"text,omitempty"`
}

type HailReply struct {
	From   string `msgpack:"from"`
	To     string `msgpack:"to"`
	Accept bool   `msgpack:"accept"`
}
