// Package paygate gates HTTP resources behind x402-style payments: a
// caller must attach a signed, policy-checked payment before a protected
// endpoint returns its result.
package paygate

import (
	"net/http"

	"github.com/prompthash/paygate/client"
	"github.com/prompthash/paygate/config"
	"github.com/prompthash/paygate/facilitator"
	"github.com/prompthash/paygate/gateway"
	"github.com/prompthash/paygate/ledger"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/policy"
	"github.com/prompthash/paygate/receipts"
	"github.com/prompthash/paygate/types"
)

// PayGate wires the payment components together: the per-route gateway
// registry on the server side and the payment orchestrator factory on
// the client side.
type PayGate struct {
	cfg      *config.Config
	fac      facilitator.Facilitator
	store    receipts.Store
	ledger   ledger.Store
	engine   *policy.Engine
	registry *gateway.Registry
	log      logger.Logger
	metrics  metrics.Recorder
}

// New builds a PayGate from configuration. Without options it uses an
// HTTP facilitator client, in-memory stores, and no logging or metrics.
func New(cfg *config.Config, opts ...Option) *PayGate {
	p := &PayGate{
		cfg:     cfg,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.fac == nil {
		p.fac = facilitator.NewClient(cfg.FacilitatorURL, cfg.Policy.RequestTimeout)
	}
	if p.store == nil {
		p.store = receipts.NewMemoryStore()
	}
	if p.ledger == nil {
		p.ledger = ledger.NewMemoryStore()
	}

	p.engine = policy.NewEngine(cfg.TokenAllowlist, cfg.Policy.MaxPerTxUSD, cfg.Policy.MaxDailyUSD)
	p.registry = gateway.NewRegistry(cfg, p.fac, p.store, p.log, p.metrics)
	return p
}

// Protect guards handler with the route's payment gateway. Gateways are
// constructed once per route key and reused.
func (p *PayGate) Protect(routeKey string, routeCfg types.RouteConfig, handler http.Handler) (http.Handler, error) {
	return p.registry.Protect(routeKey, routeCfg, handler)
}

// NewClient builds a payment orchestrator sharing this PayGate's policy
// engine, ledger, and observability.
func (p *PayGate) NewClient(opts ...client.Option) *client.Orchestrator {
	base := []client.Option{
		client.WithLogger(p.log),
		client.WithMetrics(p.metrics),
		client.WithTimeout(p.cfg.Policy.RequestTimeout),
		client.WithRetryCount(p.cfg.Policy.RetryCount),
	}
	return client.New(p.engine, p.ledger, append(base, opts...)...)
}

// ReceiptsHandler exposes the audit surface over HTTP.
func (p *PayGate) ReceiptsHandler() http.Handler {
	return receipts.NewHandler(p.store, p.log)
}

// Policy returns the spend policy engine.
func (p *PayGate) Policy() *policy.Engine {
	return p.engine
}

// Receipts returns the receipt store.
func (p *PayGate) Receipts() receipts.Store {
	return p.store
}

// DefaultRouteConfig is the premium-access route shape: exact scheme on
// the primary network at $0.25 with a 90 second settlement window.
func (p *PayGate) DefaultRouteConfig(description string) types.RouteConfig {
	return types.RouteConfig{
		Scheme:            types.SchemeExact,
		Network:           p.cfg.Primary.Network(),
		PayTo:             p.cfg.PayToAddress,
		PriceUSD:          "0.25",
		MaxTimeoutSeconds: 90,
		Description:       description,
		MimeType:          "application/json",
		UnpaidBody: func() interface{} {
			return map[string]interface{}{
				"message": "Payment required to access premium generation.",
			}
		},
	}
}
