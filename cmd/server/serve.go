package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/grouptalk/internal/cache"
	"github.com/and161185/grouptalk/internal/config"
	"github.com/and161185/grouptalk/internal/limiter"
	"github.com/and161185/grouptalk/internal/migrate"
	"github.com/and161185/grouptalk/internal/repository"
	"github.com/and161185/grouptalk/internal/repository/memory"
	"github.com/and161185/grouptalk/internal/repository/postgres"
	wsserver "github.com/and161185/grouptalk/internal/server/ws"
	"github.com/and161185/grouptalk/internal/service"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var (
		addr    string
		tls     bool
		tlsCert string
		tlsKey  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("tls") {
				cfg.TLSEnabled = tls
			}
			if flags.Changed("tls-cert") {
				cfg.TLSCert = tlsCert
			}
			if flags.Changed("tls-key") {
				cfg.TLSKey = tlsKey
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides GT_ADDR)")
	cmd.Flags().BoolVar(&tls, "tls", false, "serve wss using --tls-cert and --tls-key")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS private key (PEM)")
	return cmd
}

// stores are the repositories plus the login limiter for one backend.
type stores struct {
	accounts repository.AccountRepository
	groups   repository.GroupRepository
	messages repository.MessageRepository
	limiter  limiter.Limiter
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		st := memory.NewStore()
		return &stores{
			accounts: st.Accounts(),
			groups:   st.Groups(),
			messages: st.Messages(),
			limiter:  limiter.NewMemory(cfg.LoginPolicy()),
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &stores{
		accounts: postgres.NewAccountRepo(db),
		groups:   postgres.NewGroupRepo(db),
		messages: postgres.NewMessageRepo(db),
		limiter:  limiter.NewPG(db.Pool, cfg.LoginPolicy()),
		close:    db.Close,
	}, nil
}

func openCache(cfg config.Config, logger *zap.Logger) (*cache.Cache, *badger.DB, error) {
	if cfg.CacheDisabled {
		logger.Info("cache disabled")
		return cache.New(nil, logger), nil, nil
	}
	db, err := cache.Open(cfg.CachePath, logger)
	if err != nil {
		return nil, nil, err
	}
	c := cache.New(db, logger,
		cache.WithMessageTTL(cfg.MessageTTL),
		cache.WithMessageLimit(cfg.MessageLimit),
	)
	return c, db, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)
	if cfg.SessionKey == "" {
		logger.Warn("GT_SESSION_KEY not set; session resume tokens are disabled")
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	c, cacheDB, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	if cacheDB != nil {
		defer func() {
			if err := cacheDB.Close(); err != nil {
				logger.Warn("close cache", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	authSvc := service.NewAuthService(st.accounts, c, st.limiter, service.AuthConfig{
		SignKey:  []byte(cfg.SessionKey),
		TokenTTL: cfg.SessionTTL,
		BotName:  cfg.BotName,
	})
	srv := wsserver.New(wsserver.Deps{
		Auth:     authSvc,
		Groups:   service.NewGroupService(st.groups, c),
		Messages: service.NewMessageService(st.messages, c),
		Cache:    c,
		Metrics:  wsserver.NewMetrics(reg),
		Log:      logger,
	}, wsserver.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateBurst,
		RateInterval:   cfg.RateInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(reg),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	hs, stopHealth, err := startHealth(cfg.HealthAddr, logger, errCh)
	if err != nil {
		_ = lis.Close()
		return err
	}
	defer stopHealth()

	go func() {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", cfg.TLSEnabled))
		var err error
		if cfg.TLSEnabled {
			err = httpSrv.ServeTLS(lis, cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.Serve(lis)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	if hs != nil {
		hs.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("closed connections", zap.Int("count", srv.CloseAll()))
	logger.Info("shutdown complete")
	return nil
}

// startHealth serves the standard gRPC health service on addr. An empty addr
// disables it.
func startHealth(addr string, logger *zap.Logger, errCh chan<- error) (*health.Server, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen health: %w", err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("health listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	stop := func() {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			gs.Stop()
		}
	}
	return hs, stop, nil
}
