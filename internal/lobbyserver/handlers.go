package lobbyserver

import (
	"fmt"
	"math"

	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/router"
	"github.com/blukai/dogfight/internal/world"
)

func (s *Server) registerHandlers() {
	s.router.Handle(protocol.MsgClientMove, s.handleClientMove)
	s.router.Handle(protocol.MsgCollisionEvent, s.handleCollision)
	s.router.Handle(protocol.MsgWeaponFired, s.handleWeaponFired)
	s.router.Handle(protocol.MsgPvpDamage, s.handlePvpDamage)
	s.router.Handle(protocol.MsgPlayerDeath, s.handlePlayerDeath)
	s.router.Handle(protocol.MsgShieldState, s.handleShieldState)
	s.router.Handle(protocol.MsgChatMessage, s.handleChat)
	s.router.Handle(protocol.MsgHail, s.handleHail)
	s.router.Handle(protocol.MsgHailReply, s.handleHailReply)
}

// finite reports whether none of vs is NaN or infinite. Client-supplied
// numbers go through it before they touch the world.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// handleClientMove takes a client's own avatar state and forwards it to
// everyone else. Death is only recorded through PlayerDeath.
func (s *Server) handleClientMove(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.ClientMove](env)
	if err != nil {
		return err
	}
	if !finite(msg.X, msg.Y, msg.Heading, msg.BounceVX, msg.BounceVY, msg.BounceTimer) {
		return router.ErrDrop
	}
	p, ok := s.world.Players.Get(sender)
	if !ok || p.Dead {
		return router.ErrDrop
	}

	p.X, p.Y = msg.X, msg.Y
	p.Heading = world.NormalizeDeg(msg.Heading)
	p.BounceVX, p.BounceVY, p.BounceTimer = msg.BounceVX, msg.BounceVY, msg.BounceTimer

	s.broadcastExcept(protocol.MsgPlayerState, p.State(), sender)
	return nil
}

func (s *Server) handleCollision(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.CollisionEvent](env)
	if err != nil {
		return err
	}
	if s.world.Phase != world.PhasePlaying || !finite(msg.X, msg.Y) {
		return router.ErrDrop
	}
	s.arbiter.ResolveCollision(sender, msg)
	return nil
}

// handleWeaponFired lets the shot through only when the sender fired it.
func (s *Server) handleWeaponFired(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.WeaponFired](env)
	if err != nil {
		return err
	}
	if msg.OwnerID != sender {
		return router.ErrDrop
	}
	return nil
}

// handlePvpDamage applies hits on the host's avatar here. Hits on clients
// are relayed and evaluated by the target itself.
func (s *Server) handlePvpDamage(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.PvpDamage](env)
	if err != nil {
		return err
	}
	if s.world.Phase != world.PhasePlaying || !s.world.Rules.PvpEnabled {
		return router.ErrDrop
	}
	if msg.AttackerID != sender || msg.TargetID == sender {
		return router.ErrDrop
	}
	if !finite(msg.Damage, msg.X, msg.Y) {
		return router.ErrDrop
	}
	if msg.TargetID != HostID {
		if _, ok := s.byID[msg.TargetID]; !ok {
			return router.ErrDrop
		}
		return nil
	}

	s.hitHost(msg)
	return router.ErrDrop
}

func (s *Server) hitHost(msg protocol.PvpDamage) {
	host, _ := s.world.Players.Get(HostID)
	res := s.arbiter.ApplyLocalPvp(HostID, msg)
	if !res.Applied {
		return
	}

	s.Broadcast(protocol.MsgShieldState, protocol.ShieldState{
		ID:     HostID,
		Shield: host.Shield,
		Hull:   host.Hull,
	})
	if res.Killed {
		s.Broadcast(protocol.MsgPlayerDeath, protocol.PlayerDeath{ID: HostID, KillerID: msg.AttackerID})
	}
}

// handlePlayerDeath accepts a client's report of its own death only.
func (s *Server) handlePlayerDeath(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.PlayerDeath](env)
	if err != nil {
		return err
	}
	if msg.ID != sender {
		return router.ErrDrop
	}
	if !s.arbiter.PlayerDied(sender, msg.KillerID) {
		return router.ErrDrop
	}
	return nil
}

func (s *Server) handleShieldState(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.ShieldState](env)
	if err != nil {
		return err
	}
	if msg.ID != sender {
		return router.ErrDrop
	}
	p, ok := s.world.Players.Get(sender)
	if !ok || p.Dead {
		return router.ErrDrop
	}
	p.Shield = msg.Shield
	p.Hull = msg.Hull
	return nil
}

func (s *Server) handleChat(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.ChatMessage](env)
	if err != nil {
		return err
	}
	if msg.From != sender {
		return router.ErrDrop
	}
	s.cfg.Notifier.Chat(msg)
	return nil
}

func (s *Server) handleHail(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.Hail](env)
	if err != nil {
		return err
	}
	if msg.From != sender || msg.To == sender {
		return router.ErrDrop
	}
	if err := s.deliverHail(msg); err != nil {
		s.logger.Debug().
			Err(err).
			Str("from", msg.From).
			Str("to", msg.To).
			Msg("could not deliver hail")
		return router.ErrDrop
	}
	return nil
}

func (s *Server) handleHailReply(sender string, env protocol.Envelope) error {
	msg, err := protocol.DecodePayload[protocol.HailReply](env)
	if err != nil {
		return err
	}
	if msg.From != sender {
		return router.ErrDrop
	}
	if err := s.deliverHailReply(msg); err != nil {
		s.logger.Debug().
			Err(err).
			Str("from", msg.From).
			Str("to", msg.To).
			Msg("could not deliver hail reply")
		return router.ErrDrop
	}
	return nil
}

// deliverHail records a pending hail and hands it to its recipient.
func (s *Server) deliverHail(msg protocol.Hail) error {
	if msg.To == HostID {
		s.hails[hailKey{from: msg.From, to: msg.To}] = s.cfg.HailTTL.Seconds()
		s.cfg.Notifier.Hail(msg)
		return nil
	}

	ep, ok := s.byID[msg.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.To)
	}
	if err := s.sendTo(ep, protocol.MsgHail, msg); err != nil {
		return err
	}
	s.hails[hailKey{from: msg.From, to: msg.To}] = s.cfg.HailTTL.Seconds()
	return nil
}

// deliverHailReply forwards a reply while the hail it answers is pending.
// Expired or unknown hails turn the reply into a no-op.
func (s *Server) deliverHailReply(msg protocol.HailReply) error {
	key := hailKey{from: msg.To, to: msg.From}
	if _, ok := s.hails[key]; !ok {
		return fmt.Errorf("no pending hail from %s to %s", msg.To, msg.From)
	}
	delete(s.hails, key)

	if msg.To == HostID {
		s.cfg.Notifier.HailReply(msg)
		return nil
	}
	ep, ok := s.byID[msg.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.To)
	}
	return s.sendTo(ep, protocol.MsgHailReply, msg)
}
