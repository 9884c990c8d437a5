package lobbyclient

import (
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/router"
	"github.com/blukai/dogfight/internal/world"
)

// handler adapts a typed apply function to the router. A false result means
// the message changed nothing and is counted as dropped.
func handler[T any](apply func(msg T) bool) router.Handler {
	return func(_ string, env protocol.Envelope) error {
		msg, err := protocol.DecodePayload[T](env)
		if err != nil {
			return err
		}
		if !apply(msg) {
			return router.ErrDrop
		}
		return nil
	}
}

func (c *LobbyClient) registerHandlers() {
	r := c.router

	r.Handle(protocol.MsgPlayerJoined, handler(func(msg protocol.PlayerJoined) bool {
		c.mirror.Players.AddColored(msg.ID, msg.Name, msg.Color)
		c.cfg.Notifier.PlayerJoined(msg)
		return true
	}))
	r.Handle(protocol.MsgPlayerLeft, handler(func(msg protocol.PlayerLeft) bool {
		if !c.mirror.Players.Remove(msg.ID) {
			return false
		}
		c.cfg.Notifier.PlayerLeft(msg.ID)
		return true
	}))

	r.Handle(protocol.MsgGameStart, c.gameFlow(protocol.MsgGameStart, world.PhasePlaying))
	r.Handle(protocol.MsgGameRestart, c.gameFlow(protocol.MsgGameRestart, world.PhasePlaying))
	r.Handle(protocol.MsgReturnToLobby, c.gameFlow(protocol.MsgReturnToLobby, world.PhaseLobby))
	// the host resets its round before announcing the summary; the summary
	// itself carries the final kills
	r.Handle(protocol.MsgGameOver, handler(func(msg protocol.GameOver) bool {
		c.mirror.Reset(world.PhaseGameOver)
		c.boss.Reset()
		c.cfg.Notifier.GameOver(msg)
		return true
	}))

	r.Handle(protocol.MsgEntityCreate, handler(c.mirror.ApplyCreate))
	r.Handle(protocol.MsgEntityMove, handler(c.mirror.ApplyMove))
	r.Handle(protocol.MsgEntityDelete, handler(func(msg protocol.EntityDelete) bool {
		c.boss.Forget(msg.EntityID)
		return c.mirror.ApplyDelete(msg)
	}))
	r.Handle(protocol.MsgDamageEvent, handler(func(msg protocol.DamageEvent) bool {
		c.boss.ApplyDamage(msg)
		return c.mirror.ApplyDamage(msg)
	}))

	r.Handle(protocol.MsgWeaponFired, handler(func(msg protocol.WeaponFired) bool {
		c.cfg.Effects.WeaponFired(msg)
		return true
	}))
	r.Handle(protocol.MsgPvpDamage, handler(func(msg protocol.PvpDamage) bool {
		if msg.TargetID != c.mirror.SelfID {
			return false
		}
		c.hitSelf(msg)
		return true
	}))
	r.Handle(protocol.MsgExplosion, handler(func(msg protocol.Explosion) bool {
		c.cfg.Effects.Explosion(msg)
		return true
	}))

	r.Handle(protocol.MsgBossSpawn, handler(func(msg protocol.BossSpawn) bool {
		c.boss.ApplySpawn(msg)
		return true
	}))
	r.Handle(protocol.MsgBossPhase, handler(c.boss.ApplyPhase))
	r.Handle(protocol.MsgBossAttackState, handler(c.boss.ApplyAttackState))

	r.Handle(protocol.MsgPlayerState, handler(c.mirror.ApplyPlayerState))
	r.Handle(protocol.MsgShieldState, handler(c.mirror.ApplyShieldState))
	r.Handle(protocol.MsgPlayerDeath, handler(c.mirror.ApplyPlayerDeath))
	r.Handle(protocol.MsgKillSync, handler(c.mirror.ApplyKillSync))
	r.Handle(protocol.MsgSyncTimer, handler(func(msg protocol.SyncTimer) bool {
		c.mirror.Elapsed = msg.Elapsed
		return true
	}))
	r.Handle(protocol.MsgPvpVictory, handler(func(msg protocol.PvpVictory) bool {
		c.cfg.Notifier.PvpVictory(msg)
		return true
	}))

	r.Handle(protocol.MsgChatMessage, handler(func(msg protocol.ChatMessage) bool {
		c.cfg.Notifier.Chat(msg)
		return true
	}))
	r.Handle(protocol.MsgHail, handler(func(msg protocol.Hail) bool {
		c.cfg.Notifier.Hail(msg)
		return true
	}))
	r.Handle(protocol.MsgHailReply, handler(func(msg protocol.HailReply) bool {
		c.cfg.Notifier.HailReply(msg)
		return true
	}))
}

// gameFlow applies a host lifecycle command verbatim. Applying the same one
// twice leaves the mirror as applying it once.
func (c *LobbyClient) gameFlow(t protocol.MessageType, phase world.Phase) router.Handler {
	return handler(func(msg protocol.GameFlow) bool {
		c.mirror.Rules = msg.Rules
		c.mirror.Reset(phase)
		c.boss.Reset()
		c.cfg.Notifier.GameFlow(t, msg)
		return true
	})
}
