package client

import (
	"net/http"
	"time"

	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
)

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = r
	}
}

// WithTimeout bounds each network attempt.
func WithTimeout(t time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = t
	}
}

// WithRetryCount bounds how many times a transport failure is retried.
func WithRetryCount(n int) Option {
	return func(o *Orchestrator) {
		o.retryCount = n
	}
}

// WithBaseRetryDelay sets the linear backoff unit between attempts.
func WithBaseRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.baseDelay = d
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		o.httpClient = c
	}
}
