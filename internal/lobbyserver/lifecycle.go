package lobbyserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/world"
)

var ErrNotPlaying = errors.New("no round in progress")

// StartGame resets the world and starts a round.
func (s *Server) StartGame(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.resetRound(world.PhasePlaying)
		s.Broadcast(protocol.MsgGameStart, protocol.GameFlow{Rules: s.world.Rules})
		s.logger.Info().Msg("game started")
		return nil
	})
}

func (s *Server) RestartGame(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.resetRound(world.PhasePlaying)
		s.Broadcast(protocol.MsgGameRestart, protocol.GameFlow{Rules: s.world.Rules})
		s.logger.Info().Msg("game restarted")
		return nil
	})
}

// ReturnToLobby clears the round. Calling it twice leaves the same state as
// calling it once.
func (s *Server) ReturnToLobby(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.resetRound(world.PhaseLobby)
		s.Broadcast(protocol.MsgReturnToLobby, protocol.GameFlow{Rules: s.world.Rules})
		s.logger.Info().Msg("returned to lobby")
		return nil
	})
}

// EndGame finishes the running round with a summary.
func (s *Server) EndGame(ctx context.Context, reason string) error {
	return s.do(ctx, func() error {
		if !s.endGame(reason) {
			return ErrNotPlaying
		}
		return nil
	})
}

// SetRules changes PvP and hostile spawn settings. They reach clients with
// the next game flow message.
func (s *Server) SetRules(ctx context.Context, rules protocol.Rules) error {
	return s.do(ctx, func() error {
		s.world.Rules = rules
		return nil
	})
}

func (s *Server) resetRound(phase world.Phase) {
	s.world.Reset(phase)
	s.boss.Reset()
	s.arbiter.ResetRound()
	s.syncTimer = 0
}

func (s *Server) endGame(reason string) bool {
	if s.world.Phase != world.PhasePlaying {
		return false
	}

	summary := protocol.GameOver{
		Reason:  reason,
		Elapsed: s.world.Elapsed,
	}
	for _, p := range s.world.Players.All() {
		summary.Players = append(summary.Players, p.Summary())
	}

	s.resetRound(world.PhaseGameOver)
	s.Broadcast(protocol.MsgGameOver, summary)

	s.logger.Info().
		Str("reason", reason).
		Float64("elapsed", summary.Elapsed).
		Msg("game over")
	return true
}

// SpawnEnemy creates a hostile entity and returns its id.
func (s *Server) SpawnEnemy(ctx context.Context, x, y, heading float64, variant string) (string, error) {
	var id string
	err := s.do(ctx, func() error {
		if s.world.Phase != world.PhasePlaying {
			return ErrNotPlaying
		}
		var err error
		id, err = s.world.Entities.Create(world.KindEnemy, x, y, heading, variant)
		return err
	})
	return id, err
}

func (s *Server) SpawnBoss(ctx context.Context, x, y float64) (string, error) {
	var id string
	err := s.do(ctx, func() error {
		if s.world.Phase != world.PhasePlaying {
			return ErrNotPlaying
		}
		e, err := s.boss.Spawn(x, y)
		if err != nil {
			return err
		}
		id = e.Key
		return nil
	})
	return id, err
}

// MoveLocal updates the host's own avatar and pushes it to every client.
func (s *Server) MoveLocal(ctx context.Context, msg protocol.ClientMove) error {
	return s.do(ctx, func() error {
		p, _ := s.world.Players.Get(HostID)
		if p.Dead {
			return nil
		}
		p.X, p.Y = msg.X, msg.Y
		p.Heading = world.NormalizeDeg(msg.Heading)
		p.BounceVX, p.BounceVY, p.BounceTimer = msg.BounceVX, msg.BounceVY, msg.BounceTimer
		s.Broadcast(protocol.MsgPlayerState, p.State())
		return nil
	})
}

func (s *Server) FireWeapon(ctx context.Context, msg protocol.WeaponFired) error {
	return s.do(ctx, func() error {
		msg.OwnerID = HostID
		s.Broadcast(protocol.MsgWeaponFired, msg)
		return nil
	})
}

// Collide resolves a contact between the host's avatar and an entity.
func (s *Server) Collide(ctx context.Context, msg protocol.CollisionEvent) error {
	return s.do(ctx, func() error {
		if s.world.Phase != world.PhasePlaying {
			return ErrNotPlaying
		}
		s.arbiter.ResolveCollision(HostID, msg)
		return nil
	})
}

// DealPvpDamage sends a hit from the host to a client, which evaluates it.
func (s *Server) DealPvpDamage(ctx context.Context, targetID string, damage, x, y float64) error {
	return s.do(ctx, func() error {
		if s.world.Phase != world.PhasePlaying {
			return ErrNotPlaying
		}
		if !s.world.Rules.PvpEnabled {
			return ErrPvpDisabled
		}
		if _, ok := s.byID[targetID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, targetID)
		}
		s.Broadcast(protocol.MsgPvpDamage, protocol.PvpDamage{
			AttackerID: HostID,
			TargetID:   targetID,
			Damage:     damage,
			X:          x,
			Y:          y,
		})
		return nil
	})
}

func (s *Server) SendChat(ctx context.Context, text string) error {
	return s.do(ctx, func() error {
		host, _ := s.world.Players.Get(HostID)
		s.Broadcast(protocol.MsgChatMessage, protocol.ChatMessage{From: HostID, Name: host.Name, Text: text})
		return nil
	})
}

func (s *Server) Hail(ctx context.Context, to, text string) error {
	return s.do(ctx, func() error {
		return s.deliverHail(protocol.Hail{From: HostID, To: to, Text: text})
	})
}

func (s *Server) ReplyHail(ctx context.Context, to string, accept bool) error {
	return s.do(ctx, func() error {
		return s.deliverHailReply(protocol.HailReply{From: HostID, To: to, Accept: accept})
	})
}

// View runs fn against the world on the loop goroutine. fn must not keep
// references past its return.
func (s *Server) View(ctx context.Context, fn func(w *world.World)) error {
	return s.do(ctx, func() error {
		fn(s.world)
		return nil
	})
}
