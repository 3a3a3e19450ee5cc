package cmd

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

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/parley/internal/application/config"
	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/parley/internal/infra/adapters/sfu"
	"github.com/qrave1/parley/internal/infra/auth"
	"github.com/qrave1/parley/internal/infra/ports/http/handlers"
	"github.com/qrave1/parley/internal/infra/ports/http/server"
	"github.com/qrave1/parley/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := new(slog.LevelVar)

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}

	slog.Info("Running app", slog.Bool("debug", cfg.Debug), slog.String("port", cfg.Port))

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("connect to postgres", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer dbConn.Close()

	relay, err := sfu.NewRelay(sfu.RelayConfig{
		ListenIP:    "0.0.0.0",
		UDPPort:     cfg.Voice.UDPPort,
		AnnouncedIP: cfg.Voice.AnnouncedIP,
	})
	if err != nil {
		slog.Error("start sfu relay", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	userRepo := repository.NewUserRepo(dbConn)
	groupRepo := repository.NewGroupRepo(dbConn)
	channelRepo := repository.NewChannelRepo(dbConn)

	registry := memory.NewConnectionRegistry(cfg.Store.Shards)
	rooms := memory.NewRoomMembersRepository(cfg.Store.Shards)
	messageStore := memory.NewMessageStore(cfg.Messages.Retention, cfg.Store.Shards)
	voiceSessions := memory.NewVoiceSessionRepository(cfg.Store.Shards)

	chatUsecase := usecase.NewChatUsecase(groupRepo, userRepo, registry, rooms, messageStore)
	presenceUsecase := usecase.NewPresenceUsecase(registry, rooms)
	voiceUsecase := usecase.NewVoiceUsecase(
		channelRepo,
		groupRepo,
		registry,
		rooms,
		voiceSessions,
		relay,
		cfg.Voice.DefaultMaxUsers,
	)
	gatewayUsecase := usecase.NewGatewayUsecase(usecase.GatewayParams{
		Verifier:      auth.NewVerifier(cfg.JWTSecret),
		UserRepo:      userRepo,
		GroupRepo:     groupRepo,
		Registry:      registry,
		Rooms:         rooms,
		Chat:          chatUsecase,
		Presence:      presenceUsecase,
		Voice:         voiceUsecase,
		StatusQueue:   cfg.Gateway.StatusQueue,
		StatusTimeout: cfg.Gateway.StatusTimeout,
	})

	wsHandler := handlers.NewWebSocketHandler(cfg, gatewayUsecase)

	echoSrv := server.New(wsHandler)

	metricsSrv := metric.NewServer(func() error {
		select {
		case <-relay.Lost():
			return sfu.ErrCapabilityLost
		default:
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
		defer pingCancel()

		return dbConn.PingContext(pingCtx)
	})

	g, gctx := errgroup.WithContext(ctx)

	// Запускаем HTTP сервер
	g.Go(func() error {
		return serve("http", echoSrv.Start(":"+cfg.Port))
	})

	// Запускаем сервер метрик
	g.Go(func() error {
		return serve("metrics", metricsSrv.Start(":"+cfg.MetricPort))
	})

	g.Go(func() error {
		return messageStore.Run(gctx, cfg.Messages.SweepInterval)
	})

	g.Go(func() error {
		return gatewayUsecase.Run(gctx)
	})

	// Без SFU голос не работает, процесс должен перезапуститься
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-relay.Lost():
			return sfu.ErrCapabilityLost
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers")

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer timeoutCancel()

		return multierr.Combine(
			echoSrv.Shutdown(timeoutCtx),
			metricsSrv.Shutdown(timeoutCtx),
		)
	})

	runErr := g.Wait()

	if err := relay.Shutdown(); err != nil {
		slog.Error("Failed to shutdown sfu relay", slog.Any(constant.Error, err))
	}

	if runErr != nil {
		slog.Error("App stopped with error", slog.Any(constant.Error, runErr))
		os.Exit(1)
	}
}

func serve(name string, err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return fmt.Errorf("%s server: %w", name, err)
}
