package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/fanout"
	clog "chatrelay/internal/log"
	"chatrelay/internal/mw"
	"chatrelay/internal/router"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
	"chatrelay/internal/store"
	"chatrelay/internal/telemetry"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// main 函数负责加载配置、初始化日志与追踪、连接数据库和 fan-out 传输层并启动 HTTP 服务。
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	ctx := context.Background()
	shutdownTracer, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Env, cfg.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry init")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	st := store.New(gdb)

	transport, err := fanout.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.FanoutDriver).Msg("fanout open")
	}
	reg := session.NewRegistry(cfg.NodeID, transport)
	subCtx, stopSub := context.WithCancel(ctx)
	if err := reg.Start(subCtx); err != nil {
		log.Fatal().Err(err).Msg("fanout subscribe")
	}

	wsLimiter := mw.NewRateLimiter(rate.Limit(cfg.WSEventsPerSecond), cfg.WSEventBurst, 5*time.Minute)
	wsLimiter.StartGC()

	engine := server.SetupRouter(cfg, st, reg, router.New(st, reg), wsLimiter)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(engine, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("node", cfg.NodeID).Str("fanout", cfg.FanoutDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"fanout": func(context.Context) error {
			stopSub()
			return transport.Close()
		},
		"ws-limiter": func(context.Context) error {
			wsLimiter.Stop()
			return nil
		},
		"tracer": func(ctx context.Context) error {
			return shutdownTracer(ctx)
		},
		"db": func(context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	code := <-wait
	log.Info().Int("code", code).Msg("shutdown complete")
	os.Exit(code)
}
