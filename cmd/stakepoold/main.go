package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakepool/config"
	"stakepool/core/events"
	"stakepool/core/state"
	"stakepool/crypto"
	nativecommon "stakepool/native/common"
	"stakepool/native/staking"
	"stakepool/native/token"
	"stakepool/observability/logging"
	"stakepool/observability/metrics"
	"stakepool/observability/otel"
	"stakepool/rpc"
	"stakepool/rpc/middleware"
	"stakepool/storage"
)

const serviceName = "stakepoold"

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	base := logging.Setup(serviceName, cfg.Telemetry.Environment)

	if err := run(cfg, base); err != nil {
		base.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, base *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		var err error
		shutdownTelemetry, err = otel.Init(ctx, otel.Config{
			ServiceName: serviceName,
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)

	rate, err := cfg.RewardRate()
	if err != nil {
		return err
	}
	pool, err := manager.EnsureStakingPool(rate, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("bootstrap staking pool: %w", err)
	}
	metrics.Staking().SetRewardRate(pool.RewardRate)
	metrics.Staking().SetTotalStaked(pool.TotalStaked)

	vaultAddr, err := moduleAddress(cfg.VaultAddress, "stakepool/vault")
	if err != nil {
		return fmt.Errorf("vault address: %w", err)
	}
	treasuryAddr, err := moduleAddress(cfg.TreasuryAddress, "stakepool/treasury")
	if err != nil {
		return fmt.Errorf("treasury address: %w", err)
	}

	engine := staking.NewEngine()
	engine.SetState(manager)
	engine.SetCustodians(token.NewVault(manager, vaultAddr), token.NewTreasury(manager, treasuryAddr))
	engine.SetAccessControl(roleOracle{manager})
	engine.SetEmitter(events.LogEmitter{Logger: base})
	engine.SetPauses(nativecommon.StaticPauses(cfg.Pauses()))
	if len(cfg.BoostTiers) > 0 {
		schedule := make(staking.BoostSchedule, 0, len(cfg.BoostTiers))
		for _, tier := range cfg.BoostTiers {
			schedule = append(schedule, staking.BoostTier{
				MinDuration:   tier.MinDurationSeconds,
				MultiplierPct: tier.MultiplierPct,
			})
		}
		if err := engine.SetBoostSchedule(schedule); err != nil {
			return fmt.Errorf("boost schedule: %w", err)
		}
	}

	server := rpc.NewServer(engine, base)
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.APIAuth.Enabled,
		HMACSecret: cfg.APIAuth.Secret,
		Issuer:     cfg.APIAuth.Issuer,
		Audience:   cfg.APIAuth.Audience,
	}, base)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})

	handler := server.Router(auth, limiter)
	if cfg.Telemetry.Enabled && cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "stakepool.rpc")
	}

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		base.Info("rpc listening", "address", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		base.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		base.Error("rpc shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		base.Error("telemetry shutdown", "error", err)
	}
	return nil
}

// moduleAddress resolves a configured bech32 address, deriving a deterministic
// module account from the seed when none is configured.
func moduleAddress(configured, seed string) (crypto.Address, error) {
	if configured != "" {
		return crypto.DecodeAddress(configured)
	}
	digest := ethcrypto.Keccak256([]byte(seed))
	return crypto.NewAddress(crypto.StakePrefix, digest[12:])
}

// roleOracle adapts the state manager to the engine's access-control boundary.
type roleOracle struct {
	manager *state.Manager
}

func (r roleOracle) HasRole(role string, addr crypto.Address) bool {
	return r.manager.HasRole(role, addr)
}
