package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sentinel-policy/internal/analytics"
	"sentinel-policy/internal/bot"
	"sentinel-policy/internal/config"
	"sentinel-policy/internal/cooldown"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/playbook"
	"sentinel-policy/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sasha-s/go-deadlock"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := cli.App{
		Name:   "sentinel",
		Usage:  "guild automation and moderation bot",
		Action: runBot,
	}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "connect to the gateway and enforce guild policies",
			Action: runBot,
		},
		{
			Name:   "migrate",
			Usage:  "apply database migrations and exit",
			Action: runMigrate,
		},
		{
			Name:      "premium",
			Usage:     "grant or revoke premium for a guild",
			ArgsUsage: "<guild-id>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "revoke", Usage: "remove premium instead of granting it"},
			},
			Action: runPremium,
		},
		{
			Name:      "premium-module",
			Usage:     "require premium for a module in a guild",
			ArgsUsage: "<guild-id> <module>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "off", Usage: "stop requiring premium for the module"},
			},
			Action: runPremiumModule,
		},
	}
	app.RunAndExitOnError()
}

func setup() (config.Config, *zap.Logger, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("storage init: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return config.Config{}, nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, logger, store, nil
}

func runMigrate(cctx *cli.Context) error {
	_, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("migrations applied")
	_ = logger.Sync()
	return nil
}

func runPremium(cctx *cli.Context) error {
	guildID := cctx.Args().First()
	if guildID == "" {
		return errors.New("need a guild id")
	}
	_, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()
	premium := !cctx.Bool("revoke")
	if err := store.SetPremium(cctx.Context, guildID, premium); err != nil {
		return err
	}
	logger.Info("premium updated", zap.String("guild_id", guildID), zap.Bool("premium", premium))
	return nil
}

func runPremiumModule(cctx *cli.Context) error {
	guildID, module := cctx.Args().Get(0), cctx.Args().Get(1)
	if guildID == "" || module == "" {
		return errors.New("need a guild id and a module")
	}
	_, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()
	required := !cctx.Bool("off")
	if err := guildcfg.NewResolver(store, logger).SetPremiumRequired(cctx.Context, guildID, module, required); err != nil {
		return err
	}
	logger.Info("module premium gate updated",
		zap.String("guild_id", guildID),
		zap.String("module", module),
		zap.Bool("premium_required", required),
	)
	return nil
}

func runBot(cctx *cli.Context) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	defer store.Close()

	deadlock.Opts.DeadlockTimeout = time.Duration(cfg.Debug.DeadlockTimeoutSeconds) * time.Second
	deadlock.Opts.OnPotentialDeadlock = func() {
		logger.Error("potential deadlock detected")
	}

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cooldowns, closeCooldowns, err := newCooldownTable(ctx, cfg.Cooldown)
	if err != nil {
		return err
	}
	defer closeCooldowns()

	auditLogger := audit.NewLogger(store, logger)
	playbookEngine := playbook.New(playbook.Config{ResponseMinutes: cfg.Raid.ResponseMinutes}, auditLogger, logger)
	analyticsEngine := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, cooldowns, auditLogger, playbookEngine, analyticsEngine)
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}
	if err := botSvc.Start(); err != nil {
		return fmt.Errorf("bot start: %w", err)
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}

func newCooldownTable(ctx context.Context, cfg config.CooldownConfig) (cooldown.Table, func(), error) {
	if cfg.Backend == "redis" {
		table, err := cooldown.NewRedisTable(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cooldown redis: %w", err)
		}
		return table, func() { _ = table.Close() }, nil
	}
	return cooldown.NewMemTable(cfg.Capacity), func() {}, nil
}
