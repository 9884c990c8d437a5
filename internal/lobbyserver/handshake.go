package lobbyserver

import (
	"fmt"

	"github.com/blukai/dogfight/internal/protocol"
	"github.com/hashicorp/go-multierror"
)

// handshake answers a ClientHello. A version mismatch is fatal for that link
// only; the session keeps accepting.
func (s *Server) handshake(ep *endpoint, env protocol.Envelope) {
	hello, err := protocol.DecodePayload[protocol.ClientHello](env)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("addr", ep.link.RemoteAddr()).
			Msg("could not decode client hello")
		return
	}

	if hello.Version != s.cfg.Version {
		s.logger.Warn().
			Str("addr", ep.link.RemoteAddr()).
			Str("name", hello.Name).
			Int("client_version", hello.Version).
			Int("host_version", s.cfg.Version).
			Msg("protocol version mismatch")

		if err := s.sendTo(ep, protocol.MsgVersionMismatch, protocol.VersionMismatch{HostVersion: s.cfg.Version}); err != nil {
			s.logger.Warn().Err(err).Msg("could not send version mismatch")
		}
		s.detach(ep)
		return
	}

	s.nextClient++
	ep.id = fmt.Sprintf("client_%d", s.nextClient)
	ep.name = hello.Name
	ep.width = hello.ScreenWidth
	ep.height = hello.ScreenHeight

	s.negotiateSize(ep)

	player := s.world.Players.Add(ep.id, ep.name)
	host, _ := s.world.Players.Get(HostID)

	existing := make([]protocol.PlayerInfo, 0, s.world.Players.Len())
	for _, p := range s.world.Players.All() {
		if p.ID == HostID || p.ID == ep.id {
			continue
		}
		existing = append(existing, p.Info())
	}

	cfg := protocol.ServerConfig{
		YourID:          ep.id,
		YourColor:       player.Color,
		GameWidth:       s.world.Width,
		GameHeight:      s.world.Height,
		HostID:          HostID,
		HostName:        host.Name,
		HostColor:       host.Color,
		ExistingPlayers: existing,
		Rules:           s.world.Rules,
		Phase:           s.world.Phase.String(),
	}
	if err := s.sendTo(ep, protocol.MsgServerConfig, cfg); err != nil {
		s.logger.Warn().Err(err).Str("endpoint", ep.id).Msg("could not send server config")
		s.world.Players.Remove(ep.id)
		return
	}

	ep.joined = true
	s.byID[ep.id] = ep

	s.catchUp(ep)

	s.broadcastExcept(protocol.MsgPlayerJoined, protocol.PlayerJoined{
		ID:    ep.id,
		Name:  ep.name,
		Color: player.Color,
	}, ep.id)
	s.cfg.Notifier.PlayerJoined(ep.id, ep.name)

	s.logger.Info().
		Str("endpoint", ep.id).
		Str("name", ep.name).
		Str("addr", ep.link.RemoteAddr()).
		Msg("player joined")
}

// negotiateSize shrinks the shared world to the smallest known viewport.
func (s *Server) negotiateSize(joiner *endpoint) {
	w, h := s.cfg.ScreenWidth, s.cfg.ScreenHeight
	shrink := func(ew, eh int) {
		if ew > 0 && ew < w {
			w = ew
		}
		if eh > 0 && eh < h {
			h = eh
		}
	}
	for _, ep := range s.byID {
		shrink(ep.width, ep.height)
	}
	shrink(joiner.width, joiner.height)

	s.world.Width, s.world.Height = w, h
}

// catchUp brings a late joiner up to date with the running round.
func (s *Server) catchUp(ep *endpoint) {
	var errs error

	for _, p := range s.world.Players.All() {
		if p.ID == ep.id {
			continue
		}
		if err := s.sendTo(ep, protocol.MsgPlayerState, p.State()); err != nil {
			errs = multierror.Append(errs, err)
		}
		if p.Kills > 0 {
			if err := s.sendTo(ep, protocol.MsgKillSync, protocol.KillSync{ID: p.ID, Kills: p.Kills}); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	for _, create := range s.world.Entities.Snapshot() {
		if err := s.sendTo(ep, protocol.MsgEntityCreate, create); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if spawn, rec, ok := s.boss.Sync(); ok {
		if err := s.sendTo(ep, protocol.MsgBossSpawn, spawn); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := s.sendTo(ep, protocol.MsgBossAttackState, rec); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if errs != nil {
		s.logger.Warn().
			Err(errs).
			Str("endpoint", ep.id).
			Msg("could not send catch-up state")
	}
}
