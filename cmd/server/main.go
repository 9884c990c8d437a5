package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/dogfight/internal/lobbyserver"
	"github.com/blukai/dogfight/internal/protocol"
	"github.com/blukai/dogfight/internal/transport"
	"github.com/blukai/dogfight/internal/transport/websocket"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	ListenAddr   string `envconfig:"DOGFIGHT_LISTEN_ADDR" required:"true" default:"0.0.0.0:5000"`
	Token        string `envconfig:"DOGFIGHT_TOKEN"`
	HostName     string `envconfig:"DOGFIGHT_HOST_NAME" default:"Host"`
	Version      int    `envconfig:"DOGFIGHT_PROTOCOL_VERSION" default:"2"`
	ScreenWidth  int    `envconfig:"DOGFIGHT_SCREEN_WIDTH" default:"1280"`
	ScreenHeight int    `envconfig:"DOGFIGHT_SCREEN_HEIGHT" default:"720"`
	TickRate     int    `envconfig:"DOGFIGHT_TICK_RATE" default:"30"`
	PvpEnabled   bool   `envconfig:"DOGFIGHT_PVP" default:"false"`
	HostileSpawn bool   `envconfig:"DOGFIGHT_HOSTILE_SPAWN" default:"true"`
	// AutoStart starts a round right away. Enemies are spawned every
	// SpawnInterval while it runs, a boss after BossAfter.
	AutoStart     bool          `envconfig:"DOGFIGHT_AUTOSTART" default:"false"`
	SpawnInterval time.Duration `envconfig:"DOGFIGHT_SPAWN_INTERVAL" default:"5s"`
	BossAfter     time.Duration `envconfig:"DOGFIGHT_BOSS_AFTER" default:"60s"`
	LogLevel      string        `envconfig:"DOGFIGHT_LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	if config.Token == "" {
		config.Token = transport.NewToken()
	}
	if !transport.ValidToken(config.Token) {
		return nil, fmt.Errorf("invalid session token %q", config.Token)
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

// runDirector feeds a running round with hostiles. It stands in for the
// game's own spawning rules.
func runDirector(ctx context.Context, server *lobbyserver.Server, config *Config, logger *log.Logger) {
	ticker := time.NewTicker(config.SpawnInterval)
	defer ticker.Stop()

	bossAt := time.Now().Add(config.BossAfter)
	w, h := float64(config.ScreenWidth), float64(config.ScreenHeight)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !config.HostileSpawn {
				continue
			}

			x, y := rand.Float64()*w, rand.Float64()*h*0.25
			id, err := server.SpawnEnemy(ctx, x, y, 90, "")
			switch {
			case errors.Is(err, lobbyserver.ErrNotPlaying), errors.Is(err, lobbyserver.ErrStopped):
				continue
			case err != nil:
				logger.Warn().Err(err).Msg("could not spawn enemy")
				continue
			}
			logger.Debug().Str("entity", id).Msg("spawned enemy")

			if now.After(bossAt) {
				bossAt = now.Add(config.BossAfter)
				if _, err := server.SpawnBoss(ctx, w/2, h/5); err != nil {
					logger.Debug().Err(err).Msg("no boss this time")
				}
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

	ln, err := websocket.Listen("tcp", config.ListenAddr, config.Token, websocket.DefaultOptions, logger)
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}

	lobbyServer, err := lobbyserver.NewLobbyServer(ln, lobbyserver.Config{
		Name:         config.HostName,
		Version:      config.Version,
		ScreenWidth:  config.ScreenWidth,
		ScreenHeight: config.ScreenHeight,
		TickRate:     config.TickRate,
		Rules: protocol.Rules{
			PvpEnabled:   config.PvpEnabled,
			HostileSpawn: config.HostileSpawn,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct lobby server: %w", err)
	}
	logger.Info().
		Str("token", config.Token).
		Msgf("started lobby server on %s", lobbyServer.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var lobbyServerRunErr error
	go func() {
		defer wg.Done()
		lobbyServerRunErr = lobbyServer.Run(ctx)
	}()

	if config.AutoStart {
		if err := lobbyServer.StartGame(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("could not start game: %w", err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDirector(ctx, lobbyServer, config, logger)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if lobbyServerRunErr != nil {
		return fmt.Errorf("lobby server run failed: %w", lobbyServerRunErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
