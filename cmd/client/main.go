package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/dogfight/internal/lobbyclient"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/transport"
	"github.com/blukai/dogfight/internal/transport/websocket"
	"github.com/blukai/dogfight/internal/world"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	HostAddr     string `envconfig:"DOGFIGHT_HOST_ADDR" required:"true" default:"127.0.0.1:5000"`
	Token        string `envconfig:"DOGFIGHT_TOKEN" required:"true"`
	Name         string `envconfig:"DOGFIGHT_NAME" default:"Pilot"`
	Version      int    `envconfig:"DOGFIGHT_PROTOCOL_VERSION" default:"2"`
	ScreenWidth  int    `envconfig:"DOGFIGHT_SCREEN_WIDTH" default:"1280"`
	ScreenHeight int    `envconfig:"DOGFIGHT_SCREEN_HEIGHT" default:"720"`
	TickRate     int    `envconfig:"DOGFIGHT_TICK_RATE" default:"30"`
	LogLevel     string `envconfig:"DOGFIGHT_LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	if !transport.ValidToken(config.Token) {
		return nil, fmt.Errorf("invalid session token %q", config.Token)
	}
	if config.TickRate <= 0 {
		return nil, fmt.Errorf("invalid tick rate %d", config.TickRate)
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

// notifier prints session events in place of a UI.
type notifier struct {
	lobbyclient.NopNotifier
	logger *log.Logger
}

func (n notifier) PlayerJoined(msg protocol.PlayerJoined) {
	n.logger.Info().Str("id", msg.ID).Msgf("%s joined", msg.Name)
}

func (n notifier) PlayerLeft(id string) {
	n.logger.Info().Str("id", id).Msg("player left")
}

func (n notifier) GameFlow(t protocol.MessageType, _ protocol.GameFlow) {
	n.logger.Info().Stringer("type", t).Msg("game flow")
}

func (n notifier) GameOver(msg protocol.GameOver) {
	for _, p := range msg.Players {
		n.logger.Info().
			Str("id", p.ID).
			Int("kills", p.Kills).
			Bool("dead", p.Dead).
			Msg(p.Name)
	}
	n.logger.Info().Str("reason", msg.Reason).Msg("game over")
}

func (n notifier) PvpVictory(msg protocol.PvpVictory) {
	n.logger.Info().Msgf("%s wins", msg.WinnerName)
}

func (n notifier) Chat(msg protocol.ChatMessage) {
	n.logger.Info().Str("from", msg.Name).Msg(msg.Text)
}

func (n notifier) Hail(msg protocol.Hail) {
	n.logger.Info().Str("from", msg.From).Msgf("hailed: %s", msg.Text)
}

// fly circles the middle of the shared world, reporting the avatar every
// tick. A real client drives this from input.
func fly(ctx context.Context, lc *lobbyclient.LobbyClient, config *Config, logger *log.Logger) {
	cfg := lc.ServerConfig()
	cx, cy := float64(cfg.GameWidth)/2, float64(cfg.GameHeight)/2
	radius := math.Min(cx, cy) / 2

	dt := time.Second / time.Duration(config.TickRate)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	angle := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			angle = world.NormalizeDeg(angle + 90*dt.Seconds())
			dx, dy := world.Vector(angle, radius)
			err := lc.SendMove(protocol.ClientMove{
				X:       cx + dx,
				Y:       cy + dy,
				Heading: angle + 90,
			})
			if err != nil {
				logger.Error().Err(err).Msg("could not send move")
				return
			}
		}
	}
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	dir := transport.NewStaticDirectory()
	dir.Register(config.Token, config.HostAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc, err := lobbyclient.Join(ctx, &websocket.Dialer{Directory: dir}, config.Token, lobbyclient.Config{
		Name:         config.Name,
		Version:      config.Version,
		ScreenWidth:  config.ScreenWidth,
		ScreenHeight: config.ScreenHeight,
		Notifier:     notifier{logger: logger},
	}, logger)
	if err != nil {
		var mismatch *lobbyclient.VersionMismatchError
		if errors.As(err, &mismatch) {
			return fmt.Errorf("host speaks protocol %d, update to join: %w", mismatch.HostVersion, err)
		}
		return fmt.Errorf("could not join session: %w", err)
	}

	wg := new(sync.WaitGroup)

	runErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErrCh <- lc.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		fly(ctx, lc, config, logger)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-signalChan:
		logger.Info().Msgf("received %+v signal", sig)
	case runErr = <-runErrCh:
	}

	cancel()
	wg.Wait()
	if runErr != nil {
		return fmt.Errorf("lobby client run failed: %w", runErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
