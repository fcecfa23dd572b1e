// Command tealworker is the worker daemon: it boots the Entry API HTTP
// server, the session store, and the invoker pool. Grounded on
// cmd/hey-fpm/main.go's cli.Command-with-Flags-and-signal-handling shape
// and pkg/fpm/master/master.go's Start/GracefulShutdown/Wait lifecycle,
// adapted from a FastCGI process manager to an HTTP-fronted, goroutine-
// based Teal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tealrun/teal/api"
	"github.com/tealrun/teal/config"
	"github.com/tealrun/teal/controller"
	"github.com/tealrun/teal/invoker"
	"github.com/tealrun/teal/store"
	"github.com/tealrun/teal/value"
	"github.com/tealrun/teal/version"
	"github.com/tealrun/teal/vm"
)

func main() {
	app := &cli.Command{
		Name:    "tealworker",
		Usage:   "Teal distributed bytecode execution worker",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to worker config file (.yaml or ini-style)"},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "store-dsn", Usage: "Session store DSN (mysql:/pgsql:/sqlite:); empty uses the in-memory backend"},
			&cli.StringFlag{Name: "executables-dir", Usage: "Directory of pre-compiled .teal-exe files served by executable_ref", Value: "."},
			&cli.IntFlag{Name: "workers", Usage: "In-process invoker worker count"},
		},
		Action: runWorker,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("tealworker: %v", err)
	}
}

func runWorker(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if v := cmd.String("listen"); v != "" {
		cfg.Listen = v
	}
	if v := cmd.String("store-dsn"); v != "" {
		cfg.StoreDSN = v
	}
	if v := cmd.Int("workers"); v != 0 {
		cfg.Workers = v
	}

	backend, err := openBackend(ctx, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	exesDir := cmd.String("executables-dir")
	exes := store.NewExecutables(cfg.ExecutableCacheSize, func(ctx context.Context, ref string) ([]byte, error) {
		return os.ReadFile(filepath.Join(exesDir, ref+".teal-exe"))
	})

	var ctrl *controller.Controller
	pool := invoker.NewPool(func(ctx context.Context, sessionID string, threadID int) error {
		return ctrl.RunCycle(ctx, sessionID, threadID)
	}, cfg.Workers, cfg.QueueSize)
	pool.Start()
	defer pool.Stop()

	ctrl = controller.New(backend, exes, pool, defaultForeign(), vm.DefaultLimits)

	api.SetDefaultExecutableRef(cfg.DefaultExecutableRef)
	server := api.NewServer(ctrl, backend).WithPool(pool)
	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		log.Printf("tealworker: listening on %s (region=%s dispatcher=%s workers=%d)",
			cfg.Listen, cfg.Region, cfg.DispatcherFunction, cfg.Workers)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("tealworker: http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	sig := <-sigChan
	log.Printf("tealworker: received signal %v, shutting down gracefully", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("tealworker: error during shutdown: %v", err)
	}

	log.Printf("tealworker: shutdown complete")
	return nil
}

func openBackend(ctx context.Context, dsn string) (store.Backend, error) {
	if dsn == "" {
		return store.NewMemory(), nil
	}
	return store.OpenSQL(ctx, dsn)
}

// defaultForeign is the FCALL bridge every VM cycle gets. Arithmetic and a
// handful of host primitives live here until a real deployment wires its
// own domain-specific foreign table in; this mirrors how runtime.Builtins
// supplies the teacher's interpreter with its standard library.
func defaultForeign() map[string]vm.Foreign {
	return map[string]vm.Foreign{
		"add": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() + args[1].AsInt()), nil },
		"sub": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() - args[1].AsInt()), nil },
		"mul": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() * args[1].AsInt()), nil },
	}
}
