package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mertdlkr/x-rent/internal/httpapi"
	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/obs"
	"github.com/mertdlkr/x-rent/internal/rental"
	"github.com/mertdlkr/x-rent/internal/store/pg"
	"github.com/mertdlkr/x-rent/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "none" // set via -ldflags at build time
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	var (
		gateway     ledger.Service
		rentalStore rental.Store
		probe       httpapi.ReadyProbe
		pgStore     *pg.Store
	)
	if dsn := os.Getenv("XRENT_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		gateway = pgStore
		rentalStore = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		gateway = ledger.NewInMemory()
		rentalStore = rental.NewMemoryStore()
	}

	events := stream.New()
	engine, err := rental.NewEngine(ctx, rentalStore, gateway, rental.WithEvents(events))
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	// Bootstrap the platform when an admin identity is configured. A second
	// run is a no-op since initialization happens exactly once.
	if admin := os.Getenv("XRENT_ADMIN"); admin != "" {
		if err := engine.InitializePlatform(ctx, admin); err != nil && err != rental.ErrAlreadyInitialized {
			log.Fatalf("init platform: %v", err)
		}
	}

	api := httpapi.New(engine, gateway, events, probe, version)

	addr := os.Getenv("XRENT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting x-rent-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
