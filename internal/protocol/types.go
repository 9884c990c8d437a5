package protocol

import "strconv"

// MessageType is the envelope type tag. On the wire it is the uint16 in the
// frame header; String returns the short tag used in logs.
type MessageType uint16

const (
	_ MessageType = iota

	// handshake
	MsgClientHello
	MsgServerConfig
	MsgVersionMismatch

	// lifecycle
	MsgPlayerJoined
	MsgPlayerLeft
	MsgGameStart
	MsgGameRestart
	MsgGameOver
	MsgReturnToLobby

	// entity replication
	MsgEntityCreate
	MsgEntityMove
	MsgEntityDelete
	MsgClientMove

	// combat
	MsgWeaponFired
	MsgDamageEvent
	MsgPvpDamage
	MsgCollisionEvent

	// boss
	MsgBossSpawn
	MsgBossPhase
	MsgBossAttackState

	// state sync
	MsgShieldState
	MsgPlayerState
	MsgPlayerDeath
	MsgKillSync
	MsgSyncTimer

	// effects
	MsgExplosion
	MsgPvpVictory

	MsgChatMessage

	MsgHail
	MsgHailReply

	MsgMax
)

// Class tells the router who may originate a message and where it goes next.
type Class uint8

const (
	// ClassUnknown marks type numbers this build does not know.
	ClassUnknown Class = iota
	// ClassHandshake is consumed by the session lifecycle before routing.
	ClassHandshake
	// ClassHostOnly are client intents. only the host handles them.
	ClassHostOnly
	// ClassHostEmitted may only originate at the host.
	ClassHostEmitted
	// ClassBroadcastRelay is applied locally, then relayed to everyone
	// except the sender.
	ClassBroadcastRelay
	// ClassBroadcastEcho is relayed to everyone including the sender.
	ClassBroadcastEcho
	// ClassTargeted is relayed to a single named recipient.
	ClassTargeted
)

func (c Class) String() string {
	switch c {
	case ClassHandshake:
		return "handshake"
	case ClassHostOnly:
		return "host-only"
	case ClassHostEmitted:
		return "host-emitted"
	case ClassBroadcastRelay:
		return "broadcast-relay"
	case ClassBroadcastEcho:
		return "broadcast-echo"
	case ClassTargeted:
		return "targeted"
	default:
		return "unknown"
	}
}

type catalogEntry struct {
	tag   string
	class Class
}

// catalog is indexed by MessageType. protocol_test checks that every type
// below MsgMax has an entry.
var catalog = [MsgMax]catalogEntry{
	MsgClientHello:     {"ClientHello", ClassHandshake},
	MsgServerConfig:    {"ServerConfig", ClassHandshake},
	MsgVersionMismatch: {"VersionMismatch", ClassHandshake},

	MsgPlayerJoined:  {"PlayerJoined", ClassHostEmitted},
	MsgPlayerLeft:    {"PlayerLeft", ClassHostEmitted},
	MsgGameStart:     {"GameStart", ClassHostEmitted},
	MsgGameRestart:   {"GameRestart", ClassHostEmitted},
	MsgGameOver:      {"GameOver", ClassHostEmitted},
	MsgReturnToLobby: {"ReturnToLobby", ClassHostEmitted},

	MsgEntityCreate: {"EntityCreate", ClassHostEmitted},
	MsgEntityMove:   {"EntityMove", ClassHostEmitted},
	MsgEntityDelete: {"EntityDelete", ClassHostEmitted},
	MsgClientMove:   {"ClientMove", ClassHostOnly},

	MsgWeaponFired:    {"WeaponFired", ClassBroadcastEcho},
	MsgDamageEvent:    {"DamageEvent", ClassHostEmitted},
	MsgPvpDamage:      {"PvpDamage", ClassBroadcastRelay},
	MsgCollisionEvent: {"CollisionEvent", ClassHostOnly},

	MsgBossSpawn:       {"BossSpawn", ClassHostEmitted},
	MsgBossPhase:       {"BossPhase", ClassHostEmitted},
	MsgBossAttackState: {"BossAttackState", ClassHostEmitted},

	MsgShieldState: {"ShieldState", ClassBroadcastRelay},
	MsgPlayerState: {"PlayerState", ClassHostEmitted},
	MsgPlayerDeath: {"PlayerDeath", ClassBroadcastRelay},
	MsgKillSync:    {"KillSync", ClassHostEmitted},
	MsgSyncTimer:   {"SyncTimer", ClassHostEmitted},

	MsgExplosion:  {"Explosion", ClassBroadcastRelay},
	MsgPvpVictory: {"PvpVictory", ClassHostEmitted},

	MsgChatMessage: {"ChatMessage", ClassBroadcastRelay},

	MsgHail:      {"Hail", ClassTargeted},
	MsgHailReply: {"HailReply", ClassTargeted},
}

// Known reports whether t is part of this build's catalog.
func (t MessageType) Known() bool {
	return t > 0 && t < MsgMax && catalog[t].class != ClassUnknown
}

// Class returns the routing class of t, ClassUnknown for unknown types.
func (t MessageType) Class() Class {
	if !t.Known() {
		return ClassUnknown
	}
	return catalog[t].class
}

func (t MessageType) String() string {
	if !t.Known() {
		return "Unknown(" + strconv.Itoa(int(t)) + ")"
	}
	return catalog[t].tag
}

// ParseMessageType is the inverse of String for known types.
func ParseMessageType(tag string) (MessageType, bool) {
	for t := MessageType(1); t < MsgMax; t++ {
		if catalog[t].tag == tag {
			return t, true
		}
	}
	return 0, false
}
