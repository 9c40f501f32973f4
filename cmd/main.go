package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/account"
	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/coordinator"
	"github.com/amirphl/cross-trader/internal/db"
	"github.com/amirphl/cross-trader/internal/hedge"
	"github.com/amirphl/cross-trader/internal/logging"
	"github.com/amirphl/cross-trader/internal/notifier"
	"github.com/amirphl/cross-trader/internal/runtime"
	"github.com/amirphl/cross-trader/internal/venue"
)

var defaultWallexMakerFee = decimal.RequireFromString("0.001")
var defaultWallexTakerFee = decimal.RequireFromString("0.002")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: true,
	})
	log := logrus.WithField("component", "main")
	log.Infof("starting cross-trader in %s mode", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	// Storage: postgres when configured, in-memory otherwise (paper runs).
	var storage db.Storage
	if cfg.DBConnStr != "" {
		if err := applySchema(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle); err != nil {
			log.Fatalf("failed to apply schema: %v", err)
		}
		pg, err := db.New(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pg.GetDB().Close()
		storage = pg
		log.Info("connected to postgres")
	} else {
		storage = db.NewMemory()
		log.Warn("no database configured, state will not survive restarts")
	}

	// Venue adapters per configured account. Paper mode swaps every venue
	// for the simulator.
	registry := account.NewRegistry(cfg.QueueSize)
	for _, ac := range cfg.Accounts {
		adapter, err := buildAdapter(cfg.Mode, ac)
		if err != nil {
			log.Fatalf("account %s: %v", ac.Name, err)
		}
		if err := registry.Register(adapter); err != nil {
			log.Fatalf("account %s: %v", ac.Name, err)
		}
	}
	if err := registry.StartAll(ctx); err != nil {
		log.Warnf("some accounts failed to start: %v", err)
	}
	defer registry.StopAll()

	restrictions := hedge.NewRestrictions(storage)
	if err := restrictions.Load(ctx); err != nil {
		log.Warnf("failed to load persisted restrictions: %v", err)
	}

	var alerts notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" {
		alerts = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	}

	pool := runtime.NewPool(1024, 8)
	pool.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := pool.Stop(stopCtx); err != nil {
			log.Warn(err)
		}
	}()

	coord := coordinator.New(registry, restrictions, storage, alerts, coordinator.Options{
		TickPeriod:  time.Second,
		TrackPeriod: cfg.TrackPeriod,
		Executor:    pool,
	})
	coord.Run(ctx)
	defer coord.Shutdown()

	started := 0
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		if err := coord.StartStrategy(ctx, sc); err != nil {
			log.Errorf("strategy %s failed to start: %v", sc.Name, err)
			continue
		}
		started++
	}
	if started == 0 {
		log.Fatal("no strategies started, check your configuration")
	}
	log.Infof("%d strategies running", started)

	job := hedge.NewJob(registry, restrictions, storage, hedgeConfig(cfg))
	go job.Run(ctx)

	<-ctx.Done()
	log.Info("shutting down")
}

// buildAdapter maps an account config to its venue implementation.
func buildAdapter(mode string, ac config.AccountConfig) (venue.Adapter, error) {
	if mode == "paper" {
		return venue.NewSim(ac.Name), nil
	}
	switch ac.Venue {
	case "wallex":
		return venue.NewWallex(ac.Name, ac.APIKey, defaultWallexMakerFee, defaultWallexTakerFee), nil
	case "sim":
		return venue.NewSim(ac.Name), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", ac.Venue)
	}
}

// hedgeConfig derives the rebalance job's tuning from the strategy configs:
// the first stat_delta found wins, and every symbol inherits its strategy's
// position limit.
func hedgeConfig(cfg config.Config) hedge.JobConfig {
	jc := hedge.JobConfig{MaxPosition: make(map[string]decimal.Decimal)}
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		if !jc.Delta.IsPositive() {
			if delta, err := sc.Props.StatDelta(); err == nil {
				jc.Delta = delta
			}
		}
		limit, err := sc.Props.MaxPositionQuantity()
		if err != nil || !limit.IsPositive() {
			continue
		}
		for _, symbol := range sc.Symbols {
			jc.MaxPosition[symbol] = limit
		}
	}
	return jc
}

// applySchema runs scripts/schema.sql against the configured database. The
// schema is idempotent, so this doubles as a lightweight migration step.
func applySchema(connStr string, maxOpen, maxIdle int) error {
	pg, err := db.New(connStr, maxOpen, maxIdle)
	if err != nil {
		return err
	}
	defer pg.GetDB().Close()

	data, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	for _, stmt := range strings.Split(string(data), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pg.GetDB().Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
