package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/erpwa/outbound-worker/internal/api"
	"github.com/erpwa/outbound-worker/internal/cache"
	"github.com/erpwa/outbound-worker/internal/client"
	"github.com/erpwa/outbound-worker/internal/config"
	"github.com/erpwa/outbound-worker/internal/model"
	"github.com/erpwa/outbound-worker/internal/repo"
	"github.com/erpwa/outbound-worker/internal/secret"
	"github.com/erpwa/outbound-worker/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	workerID := uuid.NewString()

	slog.Info("outbound worker starting",
		"addr", cfg.Server.Address,
		"workerId", workerID,
		"maxRetries", cfg.Worker.MaxRetries,
		"redis", cfg.Redis.Enabled,
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("postgres unreachable: %v", err)
	}

	store, err := repo.NewPostgresStore(db, workerID)
	if err != nil {
		log.Fatal(err)
	}

	wa := client.NewWhatsAppClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.HTTPTimeout)

	var creds secret.Resolver = secret.Plaintext{}
	if cfg.Credentials.Key != "" {
		creds, err = secret.NewAESGCM(cfg.Credentials.Key)
		if err != nil {
			log.Fatalf("invalid credentials key: %v", err)
		}
	}

	var opts []worker.PollerOption
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		opts = append(opts, worker.WithReceiptCache(cache.NewRedisCache(rdb, cfg.Redis.TTL)))
	}

	poller, err := worker.New(store, wa, creds, worker.Config{
		Kind:           model.TypeImage,
		MaxRetries:     cfg.Worker.MaxRetries,
		IdleSleep:      cfg.Worker.IdleSleep,
		SendDelay:      cfg.Worker.SendDelay,
		FailureBackoff: cfg.Worker.FailureBackoff,
	}, opts...)
	if err != nil {
		log.Fatal(err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(api.NewHandler(poller, store))),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-poller.Fatal():
			// Store faults indicate infrastructure failure; crash and
			// let the supervisor restart us.
			return err
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		poller.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	slog.Info("outbound worker stopped")
}
