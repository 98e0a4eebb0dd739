package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/padraicbc/gridpicks/cache"
	"github.com/padraicbc/gridpicks/config"
	"github.com/padraicbc/gridpicks/db"
	"github.com/padraicbc/gridpicks/handlers"
	"github.com/padraicbc/gridpicks/jobs"
	applog "github.com/padraicbc/gridpicks/logger"
	"github.com/padraicbc/gridpicks/observability"
	"github.com/padraicbc/gridpicks/scoring"
	"github.com/padraicbc/gridpicks/store"
)

func main() {
	cfg := config.Load()
	logger, err := applog.New(cfg.Debug, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.TracesExporter,
	}, logger)
	if err != nil {
		logger.Fatal("init tracing failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	bdb := db.Setup(cfg)
	defer bdb.Close()

	if err := db.CreateTables(ctx, bdb); err != nil {
		logger.Fatal("create tables failed", zap.Error(err))
	}
	st := store.NewBun(bdb)

	opts := scoring.Options{Logger: logger, StoreTimeout: cfg.StoreTimeout}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.LeaderboardCacheTTL, logger)
		if err != nil {
			logger.Warn("leaderboard cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer rc.Close()
			opts.Cache = rc
		}
	}
	svc := scoring.New(st, opts)

	if cfg.SweepInterval > 0 {
		sched, err := jobs.StartSweep(ctx, svc.Lifecycle, cfg.SweepInterval, logger)
		if err != nil {
			logger.Fatal("start sweep failed", zap.Error(err))
		}
		defer func() {
			if err := sched.Shutdown(); err != nil {
				logger.Warn("scheduler shutdown", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				logger.Error("http request", fields...)
			case v.Status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"*", "Authorization"},
		AllowCredentials: true,
	}))

	handlers.New(st, svc, logger, cfg.JWTKey()).Routes(e)

	var s *http.Server
	if cfg.Debug {
		s = &http.Server{Addr: cfg.Port, Handler: e}
	} else {
		autoTLS := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(".cache"),
			HostPolicy: autocert.HostWhitelist(cfg.TLSDomains...),
		}
		s = &http.Server{
			Addr:         ":443",
			Handler:      e,
			TLSConfig:    autoTLS.TLSConfig(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  15 * time.Second,
		}
	}

	errc := make(chan error, 1)
	go func() {
		if cfg.Debug {
			logger.Info("starting server", zap.String("mode", "debug"), zap.String("addr", cfg.Port))
			errc <- s.ListenAndServe()
			return
		}
		logger.Info("starting server", zap.String("mode", "tls"), zap.Strings("domains", cfg.TLSDomains))
		errc <- s.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}
}
