package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/config"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/gateway/stub"
)

// collaborators are the external services the engine talks to.
type collaborators struct {
	source     gateway.EventSource
	oracle     gateway.PriceOracle
	live       gateway.Executor // nil without a gateway; LIVE mode is then rejected by config validation
	regime     gateway.RegimeProvider
	archetypes gateway.ArchetypeProvider
	equity     gateway.EquityProvider
	checker    gateway.PositionChecker
	directory  gateway.TraderDirectory
	notifier   gateway.Notifier

	closers []func() error
}

func (c *collaborators) close() {
	for _, fn := range c.closers {
		_ = fn()
	}
}

// createCollaborators wires the REST gateway when a base URL is configured
// and the in-memory stubs otherwise.
func createCollaborators(ctx context.Context, cfg config.GatewayConfig, log *zap.Logger) (*collaborators, error) {
	c := &collaborators{}

	if cfg.BaseURL == "" {
		log.Warn("no gateway configured, using stub collaborators")
		c.source = stub.NewEventSource()
		c.oracle = stub.NewPriceOracle()
		c.regime = stub.NewRegimeProvider()
		c.archetypes = stub.NewArchetypeProvider()
		c.equity = stub.NewEquityProvider(decimal.NewFromFloat(cfg.StubEquity))
		c.checker = stub.NewPositionChecker()
	} else {
		client := gateway.NewClient(cfg.BaseURL,
			gateway.WithTimeout(cfg.Timeout),
			gateway.WithMaxRetries(cfg.MaxRetries),
			gateway.WithAPIKey(cfg.APIKey),
		)
		c.source = client
		c.oracle = client
		c.live = client
		c.regime = client
		c.archetypes = client
		c.equity = client
		c.checker = client
		c.directory = client
		log.Info("using gateway", zap.String("base_url", cfg.BaseURL))
	}

	if cfg.PriceWSURL != "" {
		feed, err := gateway.NewWSPriceFeed(ctx, cfg.PriceWSURL, cfg.PricePairs, nil, c.oracle, log)
		if err != nil {
			return nil, fmt.Errorf("price feed: %w", err)
		}
		c.oracle = feed
		c.closers = append(c.closers, feed.Close)
	}

	if cfg.NotifyHookURL != "" {
		c.notifier = gateway.NewWebhookNotifier(cfg.NotifyHookURL,
			gateway.WithTimeout(cfg.Timeout),
			gateway.WithAPIKey(cfg.APIKey),
		)
	} else {
		c.notifier = gateway.NewLogNotifier(log)
	}

	return c, nil
}
