package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	specpkg "github.com/daap14/teamsync/api"
	"github.com/daap14/teamsync/internal/api"
	"github.com/daap14/teamsync/internal/api/handler"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/auth"
	"github.com/daap14/teamsync/internal/broker"
	"github.com/daap14/teamsync/internal/broker/redisbroker"
	"github.com/daap14/teamsync/internal/bus"
	"github.com/daap14/teamsync/internal/cache"
	"github.com/daap14/teamsync/internal/config"
	"github.com/daap14/teamsync/internal/database"
	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/presence"
	"github.com/daap14/teamsync/internal/reconciler"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

func main() {
	flags := pflag.NewFlagSet("teamsync", pflag.ContinueOnError)
	envFile := flags.String("env-file", "", "load environment variables from this file before reading configuration")
	generateKey := flags.Bool("generate-key", false, "print a new admin API key and its bcrypt hash, then exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("failed to load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	if *generateKey {
		raw, hash, err := auth.NewService("", bcrypt.DefaultCost).GenerateKey()
		if err != nil {
			slog.Error("failed to generate key", "error", err)
			os.Exit(1)
		}
		fmt.Printf("key:  %s\nhash: %s\n", raw, hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	b, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Ping(ctx); err != nil {
		// Subscribers keep retrying; the process runs local-only meanwhile.
		slog.Warn("broker not reachable at startup", "error", err)
	}

	eventBus := bus.New(b, cfg.ServerID, bus.Options{
		Prefix:         cfg.ChannelPrefix,
		QueueSize:      cfg.PublishQueue,
		PublishTimeout: cfg.BrokerTimeout(),
		Backoff:        cfg.BrokerBackoff(),
	})
	tracker := presence.NewTracker(b, eventBus, presence.Options{
		ServerID:     cfg.ServerID,
		KeyPrefix:    cfg.ChannelPrefix + ":presence:",
		TTL:          cfg.PresenceTTL(),
		OfflineDelay: cfg.PresenceOfflineDelay(),
		Heartbeat:    cfg.Heartbeat(),
		OpTimeout:    cfg.BrokerTimeout(),
	})

	feed := handler.NewFeedHub()
	logHost := host.NewLogHost(feed.Notify)
	caps := host.Negotiate(logHost)
	slog.Info("host capabilities", "supported", caps.Supported())

	loop := cache.NewLoop(0)
	svc := teamsvc.New(teamsvc.Config{
		ServerID:           cfg.ServerID,
		InviteExpiry:       cfg.InviteExpiry(),
		MaxMembers:         cfg.MaxTeamMembers,
		MaxHomes:           cfg.MaxHomesPerTeam,
		RefreshTTL:         cfg.SnapshotRefreshTTL(),
		TeleportRequestTTL: cfg.TeleportRequestTTL(),
		WriteMode:          teamsvc.WriteMode(cfg.WriteMode),
	}, teamsvc.Deps{
		Repo:     repo,
		Cache:    cache.New(invite.NewLedger(cfg.InviteCapPerInvitee)),
		Loop:     loop,
		Bus:      eventBus,
		Presence: tracker,
		Host:     caps,
	})

	authService := auth.NewService(cfg.AdminAPIKeyHash, cfg.BcryptCost)
	if _, err := authService.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrapping admin key: %w", err)
	}

	response.SetServerID(cfg.ServerID)
	router := api.NewRouter(api.RouterDeps{
		Service:     svc,
		Directory:   logHost,
		Auth:        authService,
		Feed:        feed,
		Store:       repo,
		Broker:      b,
		Bus:         eventBus,
		ServerID:    cfg.ServerID,
		Version:     cfg.Version,
		OpenAPISpec: specpkg.OpenAPISpec,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	if err := svc.Load(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("loading snapshot: %w", err)
	}

	if err := eventBus.Start(gctx, svc.HandlePacket); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("starting bus: %w", err)
	}

	g.Go(func() error {
		return tracker.Run(gctx)
	})

	g.Go(func() error {
		reconciler.New(svc, cfg.ReconcileEvery(), nil).Start(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("starting teamsync server", "port", cfg.Port, "version", cfg.Version, "serverId", cfg.ServerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		feed.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		eventBus.Stop()
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (team.Repository, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		repo, err := team.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return repo, nil
	default:
		pool, err := database.Connect(ctx, cfg.DatabaseURL, database.Options{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		return team.NewPostgresRepository(pool), nil
	}
}

func openBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker {
	case "memory":
		slog.Warn("using in-process broker; events stay inside this process")
		return broker.NewMemory(nil), nil
	default:
		b, err := redisbroker.New(redisbroker.Options{
			URL:          cfg.RedisURL,
			DialTimeout:  cfg.BrokerTimeout(),
			ReadTimeout:  cfg.BrokerTimeout(),
			WriteTimeout: cfg.BrokerTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis broker: %w", err)
		}
		return b, nil
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(logHandler))
}
