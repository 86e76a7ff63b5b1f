// Command gateway runs the MCPay reverse proxy.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/pkg/mcpay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	app, err := mcpay.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil && err != http.ErrServerClosed {
		app.Logger.Fatal().Err(err).Msg("gateway exited")
	}
}
