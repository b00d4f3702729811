// cmd/bridge-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"docbridge/internal/bootstrap"
	"docbridge/internal/console"
	"docbridge/internal/netdocs"
	"docbridge/internal/prime"
	"docbridge/internal/receiver"
	"docbridge/pkg/config"
	"docbridge/pkg/db"
	"docbridge/pkg/health"
	"docbridge/pkg/logger"
	"docbridge/pkg/middleware"
	"docbridge/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store tenants.Store
	if pool != nil {
		store = tenants.NewPostgresStore(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
	} else {
		var err error
		store, err = tenants.NewFileStore(log, afero.NewOsFs(), cfg.TenantFile, cfg.Tenants)
		if err != nil {
			log.Fatalw("tenant store", "err", err)
		}
	}

	primeMgr := prime.NewManager(log, cfg.Prime)
	netdocsMgr := netdocs.NewManager(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := bootstrap.NewSupervisor(log, cfg.InitRetryInterval)
	if err := sup.StartAll(ctx, store, primeMgr, netdocsMgr); err != nil {
		log.Fatalw("startup", "err", err)
	}

	webhookAuth := middleware.NewWebhookAuth(log, cfg.Prime.SigningKey)
	rcv := receiver.New(log, primeMgr, netdocsMgr)
	con := console.New(log, store, primeMgr, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing())

	r.Route("/prime", func(pr chi.Router) {
		pr.Use(webhookAuth.Middleware())
		pr.Use(middleware.Dedup(log, rdb))
		rcv.Routes(pr)
	})
	r.Route("/console", con.Routes)

	r.Get("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/healthz/ready", func(w http.ResponseWriter, _ *http.Request) {
		statuses := map[string]map[string]health.Status{
			"prime":   primeMgr.Healths(),
			"netdocs": netdocsMgr.Healths(),
		}
		code := http.StatusOK
		for _, byTenant := range statuses {
			for _, st := range byTenant {
				if st.State == health.Unhealthy {
					code = http.StatusServiceUnavailable
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(statuses)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("bridge-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	fmt.Println("bridge-service stopped")
}
