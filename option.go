package paygate

import (
	"github.com/prompthash/paygate/facilitator"
	"github.com/prompthash/paygate/ledger"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/receipts"
)

type Option func(*PayGate)

func WithLogger(l logger.Logger) Option {
	return func(p *PayGate) {
		p.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *PayGate) {
		p.metrics = r
	}
}

// WithFacilitator substitutes the verify/settle backend, e.g. a fake in
// tests.
func WithFacilitator(f facilitator.Facilitator) Option {
	return func(p *PayGate) {
		p.fac = f
	}
}

// WithReceiptStore substitutes the audit store, e.g. Postgres.
func WithReceiptStore(s receipts.Store) Option {
	return func(p *PayGate) {
		p.store = s
	}
}

// WithLedgerStore substitutes the daily-spend store, e.g. redis.
func WithLedgerStore(s ledger.Store) Option {
	return func(p *PayGate) {
		p.ledger = s
	}
}
