// Command register-server inserts a RegisteredServer row (and optionally one
// priced tool) into the catalog, so a deployment can be populated without
// hand-editing the database. Prices are given in human units ("0.01") and
// converted to base units through the money package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/money"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	serverID := flag.String("server-id", "", "public server id, addressable at /mcp/<id>")
	origin := flag.String("origin", "", "absolute upstream origin URL")
	receiver := flag.String("receiver", "", "payee address for priced tools")
	toolName := flag.String("tool", "", "tool name to price (optional)")
	price := flag.String("price", "", "human-readable price, e.g. 0.01 (requires -tool)")
	token := flag.String("token", "USDC", "token symbol from the asset registry")
	network := flag.String("network", "base-sepolia", "pricing network")
	flag.Parse()

	if *serverID == "" || *origin == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	repo, err := catalog.NewRepository(cfg.Catalog, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("open catalog")
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = repo.CreateServer(ctx, catalog.RegisteredServer{
		ServerID:        *serverID,
		OriginURL:       *origin,
		ReceiverAddress: *receiver,
		Status:          "active",
	})
	if err != nil {
		log.Fatal().Err(err).Str("server_id", *serverID).Msg("register server")
	}
	fmt.Printf("registered %s -> %s (endpoint /mcp/%s)\n", *serverID, *origin, *serverID)

	if *toolName == "" {
		return
	}

	pricing, err := buildPricing(*price, *token, *network)
	if err != nil {
		log.Fatal().Err(err).Msg("build pricing")
	}
	if err := repo.UpsertTool(ctx, catalog.Tool{ServerID: *serverID, Name: *toolName}, pricing); err != nil {
		log.Fatal().Err(err).Str("tool", *toolName).Msg("register tool")
	}
	if len(pricing) > 0 {
		fmt.Printf("priced tool %s at %s %s on %s (%s base units)\n",
			*toolName, *price, *token, *network, pricing[0].MaxAmountRequiredRaw)
	} else {
		fmt.Printf("registered free tool %s\n", *toolName)
	}
}

// buildPricing converts a human price into one active PricingEntry, or none
// when no price was given (a free tool).
func buildPricing(price, token, network string) ([]catalog.PricingEntry, error) {
	if price == "" {
		return nil, nil
	}

	asset, err := money.GetAsset(token)
	if err != nil {
		return nil, err
	}
	contract, err := asset.ContractAddress(network)
	if err != nil {
		return nil, err
	}
	amount, err := money.FromMajor(asset, price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}

	return []catalog.PricingEntry{{
		AssetAddress:         contract,
		Network:              network,
		MaxAmountRequiredRaw: amount.ToAtomic(),
		TokenDecimals:        asset.Decimals,
		Active:               true,
	}}, nil
}
