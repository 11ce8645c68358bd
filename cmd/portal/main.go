package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/backend"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/config"
	"apicatalog.org/internal/dashboard"
	"apicatalog.org/internal/httpapi"
	"apicatalog.org/internal/notify"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
	"apicatalog.org/internal/schedule"
	"apicatalog.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Клиент удалённого каталога
	client, err := backend.New(cfg.BackendURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout}),
		backend.WithRateLimit(cfg.BackendRPS, int(cfg.BackendRPS)+1),
		backend.WithServiceToken(cfg.ServiceToken),
	)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}

	// Справочники: локальный кэш, опционально общий слой в Redis
	var (
		cacheOpts []catalog.Option
		redis     *catalog.RedisNameStore
	)
	if cfg.RedisURL != "" {
		redis, err = catalog.NewRedisNameStore(ctx, cfg.RedisURL, time.Hour)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		cacheOpts = append(cacheOpts, catalog.WithNameStore(redis))
	}
	cache := catalog.New(client, cacheOpts...)
	apis := catalog.NewDirectory(client, 5*time.Minute)

	// Журнал активности: Postgres, если задан DSN, иначе в памяти
	var (
		db   *sql.DB
		feed activity.Recorder = activity.NewRing(500)
	)
	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = st.DB()
		feed = st
	}

	store := requests.NewStore(requests.WithNameLookup(cache.LookupField))
	engine := approval.New(store, client, apis,
		approval.WithIssuer(notify.NewPasswordIssuer(client, 12)),
		approval.WithActivity(feed),
		approval.WithNames(cache),
		approval.WithPageSize(cfg.PageSize),
	)

	var resolverOpts []auth.ResolverOption
	if cfg.AuthSecret != "" {
		resolverOpts = append(resolverOpts, auth.WithVerificationKey([]byte(cfg.AuthSecret)))
	}
	resolver := auth.NewResolver(resolverOpts...)

	refresher, err := schedule.NewRefresher(cfg.RefreshSchedule, cache, engine)
	if err != nil {
		log.Fatalf("refresh schedule: %v", err)
	}
	if err := refresher.Start(); err != nil {
		log.Fatalf("refresh: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db, Backend: client}
	if redis != nil {
		probe.Redis = redis
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// HTTP API
	api := httpapi.New(probe, version, httpapi.Services{
		Engine:    engine,
		Reference: cache,
		Dashboard: dashboard.NewAggregator(store, cache, feed),
		Activity:  feed,
		Resolver:  resolver,
		Refresher: auth.NewRefresher(resolver, client.RefreshToken, 10*time.Second),
	},
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
		httpapi.WithPageSize(cfg.PageSize),
		httpapi.WithTrustedProxies(proxies...),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE-поток держит соединение открытым, поэтому без WriteTimeout
		IdleTimeout: 60 * time.Second,
	}

	// gRPC health для балансировщиков
	health := httpapi.NewHealthServer(probe)
	gsrv := grpc.NewServer()
	health.Register(gsrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go health.Run(ctx, 10*time.Second)

	log.Printf("Starting api-catalog-portal %s on %s (grpc %s)", version, srv.Addr, cfg.GRPCAddr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := gsrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	refresher.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	gsrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	if redis != nil {
		_ = redis.Close()
	}
	log.Println("Stopped")
}
