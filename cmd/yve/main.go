package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/halcyon-labs/yve/internal/adaptor"
	"github.com/halcyon-labs/yve/internal/config"
	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/operation"
	"github.com/halcyon-labs/yve/internal/oracle"
	"github.com/halcyon-labs/yve/internal/state"
	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/vault"
	"github.com/halcyon-labs/yve/internal/web"
)

const PRICE_POLL_INTERVAL = 15 * time.Second

// main is the entry point for the yield vault engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("YVE Core Starting...")

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Oracle Gateway ---
	params := config.DefaultVaultParams
	gateway := oracle.NewGateway(params.MaxUpdateInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.PriceFeedURL != "" {
		symbols := map[types.AssetKind]string{
			types.KindPrincipal: "USDC",
			types.KindAMMPool:   "ATOM",
		}
		httpFeed := oracle.NewHTTPFeed("http-primary", config.PriceFeedURL, config.PriceFeedAPIKey, symbols)
		for kind := range symbols {
			if err := gateway.RegisterFeed(kind, httpFeed); err != nil {
				log.Fatal().Err(err).Str("kind", kind.String()).Msg("Failed to register HTTP price feed")
			}
		}
		go httpFeed.Poll(ctx, PRICE_POLL_INTERVAL)
		log.Info().Str("url", config.PriceFeedURL).Msg("HTTP price feed polling started")
	} else {
		// No external feed configured: prices must be posted manually.
		manual := oracle.NewStaticFeed("manual")
		for _, kind := range []types.AssetKind{types.KindPrincipal, types.KindAMMPool} {
			if err := gateway.RegisterFeed(kind, manual); err != nil {
				log.Fatal().Err(err).Str("kind", kind.String()).Msg("Failed to register manual price feed")
			}
		}
		log.Warn().Msg("No PRICE_FEED_URL set, prices must be posted manually")
	}

	// --- 3. Vault and Adaptors ---
	v, adminCap := vault.New(config.VaultID, params, gateway, time.Now())
	log.Info().
		Uint64("vaultID", config.VaultID).
		Str("adminAddress", config.AdminAddress).
		Msg("Vault initialized, admin capability issued")

	lending := adaptor.NewLendingAdaptor(params.PrincipalPrecision, types.MustNewDecFromStr("0.8"))
	amm := adaptor.NewAMMAdaptor(params.PrincipalPrecision, params.PrincipalPrecision)
	staking := adaptor.NewStakingAdaptor(params.PrincipalPrecision)

	orch := operation.NewOrchestrator(v, gateway, state.PGStore{})
	for _, a := range []adaptor.Adaptor{lending, amm, staking} {
		if err := v.RegisterAdaptor(a); err != nil {
			log.Fatal().Err(err).Str("kind", a.Kind().String()).Msg("Failed to register adaptor")
		}
		orch.RegisterAdaptor(a)
	}

	opCap, err := v.IssueOperatorCap(adminCap, config.OperatorAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue operator capability")
	}
	log.Info().
		Str("operatorAddress", config.OperatorAddress).
		Str("operatorCap", opCap.String()).
		Msg("Operator capability issued")

	// --- 4. Web Server ---
	webServer := web.NewWebServer(v, config.WebPort)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting vault dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	log.Info().Msg("YVE running. Waiting for shutdown signal.")
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, exiting.")
}
