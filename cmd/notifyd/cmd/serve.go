package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/agrovault/notify/internal/broker"
	natsbroker "github.com/agrovault/notify/internal/broker/nats"
	"github.com/agrovault/notify/internal/channel"
	"github.com/agrovault/notify/internal/config"
	"github.com/agrovault/notify/internal/dispatch"
	"github.com/agrovault/notify/internal/events"
	"github.com/agrovault/notify/internal/httpclient"
	"github.com/agrovault/notify/internal/logging"
	"github.com/agrovault/notify/internal/ratelimit"
	"github.com/agrovault/notify/internal/retry"
	"github.com/agrovault/notify/internal/schedule"
	"github.com/agrovault/notify/internal/server"
	"github.com/agrovault/notify/internal/store/postgres"
	"github.com/agrovault/notify/internal/template"
	"github.com/agrovault/notify/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification engine and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogFile)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	scheduler := schedule.New(ctx)
	defer scheduler.Stop()

	// Counter store: redis when configured, in-process otherwise.
	var counters ratelimit.CounterStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		counters = ratelimit.NewRedisStore(client)
		slog.Info("rate limiting backed by redis", slog.String("code", "RL_REDIS"))
	} else {
		counters = ratelimit.NewMemoryStore()
	}

	policies := make(map[string]ratelimit.Policy, len(cfg.RatePolicies))
	for name, p := range cfg.RatePolicies {
		policies[name] = ratelimit.Policy{Name: name, Window: p.Window, MaxRequests: p.MaxRequests}
	}
	limiter := ratelimit.New(counters, policies)
	go limiter.StartSweeper(ctx, cfg.SweepInterval)

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:       cfg.Backoff.MaxAttempts,
		InitialBackoff:    cfg.Backoff.BaseDelay,
		MaxBackoff:        cfg.Backoff.MaxDelay,
		BackoffMultiplier: cfg.Backoff.Multiplier,
		JitterFactor:      cfg.Backoff.Jitter,
	})
	webhooks := webhook.NewEngine(httpclient.New(cfg.SendTimeout), policy, scheduler, hub)

	var pub broker.Publisher
	if cfg.NATSURL != "" {
		pub, err = natsbroker.New(ctx, cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer pub.Close()
		webhooks.WithDeadLetter(pub)
		go events.Forward(ctx, hub, pub, broker.SubjectDeliveryEvents)
		slog.Info("event stream backed by nats", slog.String("code", "BRK_NATS"))
	}

	registry := channel.NewRegistry()
	channel.RegisterSimulated(registry)

	templates := template.NewStore()
	for id, tpl := range cfg.Templates {
		if err := templates.Register(id, tpl.Title, tpl.Body); err != nil {
			return fmt.Errorf("register template %s: %w", id, err)
		}
	}

	dispatcher := dispatch.NewDispatcher(registry, templates, webhooks, hub, cfg.SendTimeout)
	engine := dispatch.NewEngine(dispatcher, scheduler, webhooks, hub, cfg.BulkPoolSize)

	if cfg.PostgresURL != "" {
		db, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		engine.WithArchive(postgres.NewResultStore(db))
		webhooks.WithArchive(postgres.NewAttemptStore(db))
		slog.Info("result archive backed by postgres", slog.String("code", "DB_POSTGRES"))
	}

	go engine.Start(ctx)
	go engine.StartSweeper(ctx, cfg.SweepInterval, cfg.Retention)

	srv := server.New(cfg.ListenAddr, engine, limiter)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	// Give in-flight dispatches a moment to log their outcomes before
	// the process exits.
	time.Sleep(100 * time.Millisecond)
	slog.Info("notifyd stopped", slog.String("code", "SRV_EXIT"))
	return nil
}
