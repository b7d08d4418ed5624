package external

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker wrapped around a remote service. It trips once at least
// three requests were seen in the interval and 60% of them failed.
func newBreaker(name string, config PlaybookConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	maxRequests := config.MaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	interval := config.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	timeout := config.OpenTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}
