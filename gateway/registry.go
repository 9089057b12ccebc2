// Package gateway protects HTTP routes behind payment challenges,
// delegating verification and settlement to a facilitator and recording
// every observed transition to the receipt store.
package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/prompthash/paygate/config"
	"github.com/prompthash/paygate/facilitator"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/receipts"
	"github.com/prompthash/paygate/types"
)

var validate = validator.New()

// Registry owns exactly one Gateway per route key for the lifetime of
// the process, so payment schemes and facilitator wiring are not rebuilt
// on every call. It is constructed once by the composing application and
// passed by handle into request handling.
type Registry struct {
	mu       sync.Mutex
	gateways map[string]*Gateway

	fac            facilitator.Facilitator
	store          receipts.Store
	log            logger.Logger
	metrics        metrics.Recorder
	facilitatorURL string
	assetByNetwork map[types.Network]string
}

// NewRegistry builds the per-process gateway registry. The asset map is
// derived from the configured networks: challenges on a network always
// price in that network's payment token.
func NewRegistry(cfg *config.Config, fac facilitator.Facilitator, store receipts.Store, log logger.Logger, rec metrics.Recorder) *Registry {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	assets := map[types.Network]string{
		cfg.Primary.Network(): strings.ToLower(cfg.Primary.PaymentTokenAddress),
	}
	if cfg.EnableFallback {
		assets[cfg.Fallback.Network()] = strings.ToLower(cfg.Fallback.PaymentTokenAddress)
	}

	return &Registry{
		gateways:       make(map[string]*Gateway),
		fac:            fac,
		store:          store,
		log:            log,
		metrics:        rec,
		facilitatorURL: cfg.FacilitatorURL,
		assetByNetwork: assets,
	}
}

// Protect returns handler guarded by the route's gateway, constructing
// the gateway on first use and reusing it afterwards.
func (r *Registry) Protect(routeKey string, routeCfg types.RouteConfig, handler http.Handler) (http.Handler, error) {
	gw, err := r.gateway(routeKey, routeCfg)
	if err != nil {
		return nil, err
	}
	return gw.Wrap(handler), nil
}

func (r *Registry) gateway(routeKey string, routeCfg types.RouteConfig) (*Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gw, ok := r.gateways[routeKey]; ok {
		return gw, nil
	}

	if err := validate.Struct(&routeCfg); err != nil {
		return nil, types.NewError(types.ErrConfigError,
			fmt.Sprintf("invalid route config for %q", routeKey), err)
	}

	accepts, err := r.buildAccepts(&routeCfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		routeKey:       routeKey,
		routeCfg:       routeCfg,
		accepts:        accepts,
		fac:            r.fac,
		store:          r.store,
		log:            r.log,
		metrics:        r.metrics,
		facilitatorURL: r.facilitatorURL,
	}
	r.gateways[routeKey] = gw
	return gw, nil
}

// buildAccepts prices the route on its own network and, when a fallback
// network is configured, advertises the same price there too.
func (r *Registry) buildAccepts(routeCfg *types.RouteConfig) ([]types.PaymentRequirements, error) {
	networks := []types.Network{routeCfg.Network}
	for network := range r.assetByNetwork {
		if network != routeCfg.Network {
			networks = append(networks, network)
		}
	}

	accepts := make([]types.PaymentRequirements, 0, len(networks))
	for _, network := range networks {
		asset, ok := r.assetByNetwork[network]
		if !ok {
			return nil, types.NewError(types.ErrConfigError,
				fmt.Sprintf("no payment token configured for network %s", network), nil)
		}
		amount, err := priceToAtomic(routeCfg.PriceUSD)
		if err != nil {
			return nil, err
		}
		accepts = append(accepts, types.PaymentRequirements{
			Scheme:            routeCfg.Scheme,
			Network:           network,
			Amount:            amount,
			Asset:             asset,
			PayTo:             routeCfg.PayTo,
			MaxTimeoutSeconds: routeCfg.MaxTimeoutSeconds,
			Extra: map[string]interface{}{
				"symbol":   "USDC",
				"decimals": 6,
			},
		})
	}
	return accepts, nil
}
