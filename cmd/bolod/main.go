// Bolod is the daemon of the Bolometric Engine instrument simulator.
//
// It loads configuration, builds the instrument model, and serves the
// HTTP/WebSocket API that runs projection builds and photon noise
// evaluations. Shutdown is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/bolometric-engine/internal/app"
	"github.com/large-farva/bolometric-engine/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults only when empty)")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		checkOnly  = pflag.Bool("check", false, "Validate the configuration, build the instrument and exit")
	)
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	logger := log.New(os.Stdout, "bolod ", log.LstdFlags|log.Lmicroseconds)

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Fatalf("instrument setup failed: %v", err)
	}
	if *checkOnly {
		logger.Printf("configuration ok")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("bolod failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
