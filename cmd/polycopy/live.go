package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/adapters/onchain"
	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/application/execution"
	"github.com/alejandrodnm/polycopy/internal/application/ledger"
)

var errNoKey = errors.New("POLY_PRIVATE_KEY not set")

type liveStack struct {
	executor *execution.Live
	wallet   *polymarket.TradingClient
	redeemer *onchain.Redeemer
	rpc      *ethclient.Client
}

func (l *liveStack) close() { l.rpc.Close() }

// buildLive wires the signer, CLOB trading client and redeemer. The runtime
// funds live sessions from the trading client's balance. It returns
// nil without error when no private key is configured; live sessions are
// then refused by the runtime.
func buildLive(ctx context.Context, cfg *config.Config, book *ledger.Ledger, logger *slog.Logger) (*liveStack, error) {
	if cfg.Live.PrivateKey == "" {
		logger.Info("live execution disabled", "reason", errNoKey)
		return nil, nil
	}

	signer, err := polymarket.NewSigner(cfg.Live.PrivateKey, cfg.Live.ChainID)
	if err != nil {
		return nil, fmt.Errorf("buildLive: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, cfg.Live.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("buildLive: dial rpc %s: %w", cfg.Live.RPCURL, err)
	}

	trading := polymarket.NewTradingClient(signer, cfg.API.CLOBBase, rpc, cfg.Live.Funder)
	balCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if bal, err := trading.GetBalance(balCtx); err != nil {
		logger.Warn("could not read USDC.e balance", "err", err)
	} else {
		logger.Info("live wallet ready", "address", signer.Address().Hex(), "usdc", bal)
	}

	exec := execution.NewLive(trading, book, execution.RetryPolicy{
		Attempts:  cfg.Live.OrderAttempts,
		BaseDelay: time.Duration(cfg.Live.BaseDelayMs) * time.Millisecond,
		MaxDelay:  time.Duration(cfg.Live.MaxDelayMs) * time.Millisecond,
	}, logger)

	return &liveStack{
		executor: exec,
		wallet:   trading,
		redeemer: onchain.NewRedeemer(rpc, signer.PrivateKey(), cfg.Live.ChainID, logger),
		rpc:      rpc,
	}, nil
}
