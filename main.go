package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cepro/metersim/config"
	"github.com/cepro/metersim/consumption"
	dataplatform "github.com/cepro/metersim/data_platform"
	"github.com/cepro/metersim/meter"
	"github.com/cepro/metersim/modbus"
	"github.com/cepro/metersim/repository"
	"github.com/cepro/metersim/server"
	"github.com/cepro/metersim/session"
	"github.com/cepro/metersim/supabase"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file, the environment is used alone if empty")
	pollHost := flag.String("poll", "", "poll the Modbus registers of a simulator running at host:port instead of simulating")
	flag.Parse()

	// a .env file is optional
	envErr := godotenv.Load()

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("Failed to read config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Debug("No .env file loaded", "error", envErr)
	}

	if *pollHost != "" {
		err = poll(cfg, *pollHost)
	} else {
		err = run(cfg)
	}
	if err != nil {
		slog.Error("Exiting with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Exiting")
}

func run(cfg config.Config) error {

	slog.Info("Starting meter simulator...", "meters", cfg.MeterIDs())

	location, err := cfg.Location()
	if err != nil {
		return err
	}
	// check the consumption settings once so that sessions can rely on them
	_, err = consumption.New(cfg.Simulation.BaseRate, cfg.Simulation.MaxNoise, consumption.DefaultBands(location), nil)
	if err != nil {
		return fmt.Errorf("consumption model: %w", err)
	}

	repo, err := repository.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	// every subscriber gets its own simulation, sharing only the repository
	newSession := func(subscriberID string, channel session.Channel, transport string) *session.Session {
		model, err := consumption.New(cfg.Simulation.BaseRate, cfg.Simulation.MaxNoise, consumption.DefaultBands(location), nil)
		if err != nil {
			slog.Error("Failed to create consumption model, using defaults", "error", err)
			model = consumption.NewDefault(location, nil)
		}
		return session.New(subscriberID, session.Config{
			MeterIDs:        cfg.MeterIDs(),
			Baselines:       cfg.Baselines(),
			EmitInterval:    cfg.EmitInterval(),
			PersistInterval: cfg.PersistInterval(),
			Transport:       transport,
		}, meter.NewGenerator(model), repo, channel)
	}

	httpServer := server.New(repo, func(subscriberID string, channel session.Channel) *session.Session {
		return newSession(subscriberID, channel, "websocket")
	}, server.Config{
		AllowedOrigins: cfg.Listen.AllowedOrigins,
		SendBuffer:     server.DefaultConfig.SendBuffer,
		InboundRate:    server.DefaultConfig.InboundRate,
		InboundBurst:   server.DefaultConfig.InboundBurst,
	})
	group.Go(func() error {
		return httpServer.Run(ctx, cfg.Listen.Host)
	})

	// stops whatever the group already runs before giving up
	abort := func(err error) error {
		stop()
		group.Wait()
		return err
	}

	if cfg.Modbus.Host != "" {
		modbusServer, err := modbus.NewServer(cfg.Modbus.Host, cfg.MeterIDs())
		if err != nil {
			return abort(fmt.Errorf("create modbus server: %w", err))
		}
		group.Go(func() error {
			return modbusServer.Run(ctx)
		})
		err = newSession("modbus", modbusServer, "modbus").Start(ctx)
		if err != nil {
			return abort(fmt.Errorf("start modbus session: %w", err))
		}
	}

	if cfg.DataPlatformEnabled() {
		supabaseConfig := cfg.DataPlatform.Supabase
		supabaseClient, err := supabase.New(supabaseConfig.Url, supabaseConfig.Key, supabaseConfig.UserKey, supabaseConfig.Schema)
		if err != nil {
			return abort(fmt.Errorf("create supabase client: %w", err))
		}
		dataPlatform := dataplatform.New(repo, supabaseClient, supabaseConfig.Table)
		group.Go(func() error {
			uploadTicker := time.NewTicker(cfg.UploadInterval())
			defer uploadTicker.Stop()
			dataPlatform.Run(ctx, uploadTicker.C)
			return nil
		})
	} else {
		slog.Info("Supabase is not configured, readings are only stored locally")
	}

	return group.Wait()
}

// poll reads the meter registers of a simulator serving Modbus at host on every emit interval.
func poll(cfg config.Config, host string) error {
	slog.Info("Polling meter simulator...", "modbus_host", host, "meters", cfg.MeterIDs())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.EmitInterval())
	defer ticker.Stop()

	return modbus.NewPoller(host, cfg.MeterIDs()).Run(ctx, ticker.C)
}
