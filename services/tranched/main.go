package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tranchepool/crypto"
	"tranchepool/native/oracle"
	"tranchepool/native/settlement"
	"tranchepool/native/tranche"
	"tranchepool/observability/logging"
	"tranchepool/storage"
	"tranchepool/storage/statestore"
)

// staticFeed serves a fixed configured quote. Deployments with a live price
// source swap in their own PriceFeed implementation.
type staticFeed struct {
	price *big.Int
}

func (f staticFeed) LatestPrice() (*big.Int, time.Time, error) {
	return new(big.Int).Set(f.price), time.Now(), nil
}

// loopbackBridge and loopbackAMM accept every dispatch and log it. They
// stand in for the external capabilities on single-node runs; requests still
// flow through the journal and await acknowledgment.
type loopbackBridge struct {
	logger *slog.Logger
}

func (b loopbackBridge) Transfer(_ context.Context, fromChain, toChain string, amount *big.Int) error {
	b.logger.Info("bridge transfer dispatched", "fromChain", fromChain, "toChain", toChain, "amount", amount.String())
	return nil
}

type loopbackAMM struct {
	logger *slog.Logger
}

func (a loopbackAMM) SwapExactInForOut(_ context.Context, amountIn, _ *big.Int, path []string, recipient string, _ time.Time) ([]*big.Int, error) {
	a.logger.Info("amm swap dispatched", "amountIn", amountIn.String(), "path", strings.Join(path, "->"), "recipient", recipient)
	return []*big.Int{new(big.Int).Set(amountIn), new(big.Int).Set(amountIn)}, nil
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/tranched/config.yaml", "path to tranched config")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.SetupWithRotation("tranched", cfg.Environment, cfg.Log)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, gateway, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("wire engine", "err", err)
		os.Exit(1)
	}

	metrics := NewMetrics()
	limiter := newRateLimiter(cfg.RateLimitPerMin, cfg.RateBurst)
	server := newServer(engine, gateway, logger, metrics, limiter)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("tranched listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}
}

func buildEngine(cfg Config, db storage.Database, logger *slog.Logger) (*tranche.Engine, *settlement.Gateway, error) {
	custody, err := crypto.DecodeAddress(strings.TrimSpace(cfg.CustodyAddress))
	if err != nil {
		return nil, nil, err
	}
	price, err := cfg.OraclePrice()
	if err != nil {
		return nil, nil, err
	}

	gateway := settlement.NewGateway(loopbackBridge{logger: logger}, loopbackAMM{logger: logger})

	token := newMemLedger()
	riskToken := newMemLedger()
	for raw, balance := range cfg.Balances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance), 10)
		if !ok {
			return nil, nil, errors.New("balances values must be base-10 integers")
		}
		token.seed(addr, amount)
	}

	engine := tranche.NewEngine(custody, cfg.Module)
	engine.SetState(statestore.New(db))
	engine.SetOracle(oracle.NewAdapter(staticFeed{price: price}, time.Duration(cfg.Oracle.MaxAgeSeconds)*time.Second))
	engine.SetGateway(gateway)
	engine.SetTokenLedgers(token, riskToken)

	if owner := strings.TrimSpace(cfg.Roles.Owner); owner != "" {
		addr, err := crypto.DecodeAddress(owner)
		if err != nil {
			return nil, nil, err
		}
		if err := engine.BindOwner(addr); err != nil {
			return nil, nil, err
		}
	}
	borrower, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Roles.Borrower))
	if err != nil {
		return nil, nil, err
	}
	if err := engine.BindBorrower(borrower); err != nil {
		return nil, nil, err
	}
	backer, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Roles.Backer))
	if err != nil {
		return nil, nil, err
	}
	if err := engine.BindBacker(backer); err != nil {
		return nil, nil, err
	}
	provider, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Roles.LiquidityProvider))
	if err != nil {
		return nil, nil, err
	}
	if err := engine.BindLiquidityProvider(provider); err != nil {
		return nil, nil, err
	}
	return engine, gateway, nil
}
