package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

func main() {
	// best-effort: a missing .env just means real env or defaults
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-account-go")

	dbCfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	if dbCfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, sqlDB, sugar)
		cancel()
		if err != nil {
			sugar.Fatalf("migrate: %v", err)
		}
	}

	ids := utilities.NewIDGenerator(utilities.NodeFromEnv())
	var store repo.Store = repo.NewAccountRepo(database.Wrap(sqlDB, dbCfg), ids.Next)

	cacheCfg := cache.ConfigFromEnv()
	if cacheCfg.Enabled() {
		rdb, err := cache.NewClient(cacheCfg)
		if err != nil {
			sugar.Warnw("redis unavailable, running without cache", "addr", cacheCfg.Addr, "err", err)
		} else {
			defer rdb.Close()
			store = repo.NewCachedRepo(store, cache.NewJSONCache[repo.CachedRecord](rdb, cacheCfg.TTL, sugar))
			sugar.Infow("account cache enabled", "addr", cacheCfg.Addr, "ttl", cacheCfg.TTL)
		}
	}

	svc, err := account.NewServiceFromConfig(store, account.ConfigFromEnv(), sugar)
	if err != nil {
		sugar.Fatalf("account service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.RegisterRoutes(sugar, svc, router.NewMetrics()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("listening", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
