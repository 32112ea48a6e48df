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

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/nomledger/nomledger/app/services/node/handlers"
	"github.com/nomledger/nomledger/foundation/events"
	"github.com/nomledger/nomledger/foundation/ledger/chain"
	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/storage/badger"
	"github.com/nomledger/nomledger/foundation/ledger/storage/disk"
	"github.com/nomledger/nomledger/foundation/ledger/storage/memory"
	"github.com/nomledger/nomledger/foundation/logger"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			APIHost         string        `conf:"default:0.0.0.0:8080"`
			CORSOrigin      string        `conf:"default:"`
		}
		Ledger struct {
			Name                 string        `conf:"default:main"`
			Storage              string        `conf:"default:badger,help:badger|disk|memory"`
			DataDir              string        `conf:"default:zledger/data"`
			Reset                bool          `conf:"default:false"`
			PowHashPrefix        string        `conf:"default:"`
			MaxBlockTransactions int           `conf:"default:4"`
			MaxRandomEntropy     uint64        `conf:"default:1000000"`
			TransactionPrefix    string        `conf:"default:"`
			SealTimeout          time.Duration `conf:"default:0s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Ledger Support

	// Access the configured storage engine for the chain.
	var store storage.Store
	switch cfg.Ledger.Storage {
	case "badger":
		store, err = badger.New(cfg.Ledger.DataDir)
	case "disk":
		store, err = disk.New(cfg.Ledger.DataDir)
	case "memory":
		store, err = memory.New()
	default:
		return fmt.Errorf("unknown storage engine %q", cfg.Ledger.Storage)
	}
	if err != nil {
		return fmt.Errorf("open storage engine: %w", err)
	}
	defer store.Close()

	// The event bus carries the block lifecycle events and the stream fans
	// them out to any websocket client that is connected into the system.
	bus := events.NewBus()
	stream, err := events.NewStream(bus)
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}

	// The ledger packages accept a function of this signature to allow the
	// application to log.
	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	ldgr, err := chain.New(chain.Config{
		Name:                 cfg.Ledger.Name,
		Store:                store,
		Bus:                  bus,
		EvHandler:            ev,
		PowHashPrefix:        cfg.Ledger.PowHashPrefix,
		MaxRandomEntropy:     cfg.Ledger.MaxRandomEntropy,
		MaxBlockTransactions: cfg.Ledger.MaxBlockTransactions,
		TransactionPrefix:    cfg.Ledger.TransactionPrefix,
		SealTimeout:          cfg.Ledger.SealTimeout,
	})
	if err != nil {
		return fmt.Errorf("create chain: %w", err)
	}
	defer ldgr.Shutdown()

	if err := ldgr.Initialize(!cfg.Ledger.Reset); err != nil {
		return fmt.Errorf("initialize chain: %w", err)
	}

	// =========================================================================
	// Start API Service

	log.Infow("startup", "status", "initializing API support")

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	api := http.Server{
		Addr: cfg.Web.APIHost,
		Handler: handlers.Mux(handlers.Config{
			Log:        log,
			Chain:      ldgr,
			Stream:     stream,
			CORSOrigin: cfg.Web.CORSOrigin,
		}),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		stream.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop api service gracefully: %w", err)
		}
	}

	return nil
}
