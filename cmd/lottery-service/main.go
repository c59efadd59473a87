// jobbeli-lottery-service
//
// Runs the summer-job lottery for a job group and serves its history.
// Exposes a REST API used by the Gateway and a gRPC service:
//   - runLottery(groupId, seed?) — eligibility → seeded ranking → allocation → audit → commit
//   - preview(groupId)           — what a run would draw from
//   - lotteryRuns / lotteryRun   — frozen run history with audit reports
//
// Publishes EVENT_LOTTERY_RUN_COMPLETED / EVENT_LOTTERY_RUN_FAILED to Redis
// when REDIS_URL is set, and archives completed runs to an S3-compatible
// bucket when ARCHIVE_ENDPOINT is set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/jswmusik/jobbeli/internal/archive"
	"github.com/jswmusik/jobbeli/internal/config"
	"github.com/jswmusik/jobbeli/internal/db"
	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/events"
	"github.com/jswmusik/jobbeli/internal/grpcserver"
	"github.com/jswmusik/jobbeli/internal/lottery"
	"github.com/jswmusik/jobbeli/internal/middleware"
	"github.com/jswmusik/jobbeli/internal/scheduler"
	"github.com/jswmusik/jobbeli/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("[lottery-service] .env error: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[lottery-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[lottery-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[lottery-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[lottery-service] PostgreSQL connected ✓")

	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("[lottery-service] Migrations: %v", err)
	}
	log.Println("[lottery-service] Migrations applied ✓")

	opts := []lottery.Option{lottery.WithRunTimeout(cfg.RunTimeout)}

	// ── Redis (optional) ─────────────────────────────────────────────────────
	if cfg.RedisURL != "" {
		log.Println("[lottery-service] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("[lottery-service] Redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, lottery.WithPublisher(events.NewRedisPublisher(rdb)))
		log.Println("[lottery-service] Redis connected ✓")
	} else {
		log.Println("[lottery-service] REDIS_URL not set — run events disabled")
	}

	// ── Audit archive (optional) ─────────────────────────────────────────────
	if cfg.Archive.Enabled() {
		arc, err := archive.NewMinioArchiver(cfg.Archive)
		if err != nil {
			log.Fatalf("[lottery-service] Archive: %v", err)
		}
		if err := arc.EnsureBucket(ctx); err != nil {
			log.Fatalf("[lottery-service] Archive: %v", err)
		}
		opts = append(opts, lottery.WithArchiver(arc))
		log.Printf("[lottery-service] Archiving runs to %s/%s ✓", cfg.Archive.Endpoint, cfg.Archive.Bucket)
	}

	svc := lottery.NewService(st, opts...)

	// ── Stale-run reaper ─────────────────────────────────────────────────────
	sched := scheduler.New(svc, cfg.ReaperSpec)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[lottery-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartSweeper(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	lottery.NewHandler(svc, limiter.Middleware).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// A run blocks until it is COMPLETED or FAILED.
		WriteTimeout: cfg.RunTimeout + 10*time.Second,
	}

	go func() {
		log.Printf("[lottery-service] v%s (engine %s) listening on :%s", version, engine.Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[lottery-service] HTTP server error: %v", err)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("[lottery-service] gRPC listen: %v", err)
	}
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(svc))

	go func() {
		log.Printf("[lottery-service] gRPC listening on :%s", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			log.Fatalf("[lottery-service] gRPC server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[lottery-service] Shutting down…")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer shutdownCancel()

	// In-flight runs finish before the servers stop.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[lottery-service] Shutdown error: %v", err)
	}
	gs.GracefulStop()
	cancel()
	log.Println("[lottery-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "lottery-service",
		"version": version,
		"engine":  engine.Version,
	})
}
