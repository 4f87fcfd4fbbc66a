// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	signaturesTotal   *prometheus.CounterVec
	signatureDuration prometheus.Histogram
	tsaAttemptsTotal  *prometheus.CounterVec
	stampSkipsTotal   prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
)

// Register initializes the instruments on the given registerer and returns
// the handler for /metrics. Passing nil uses the default registerer.
func Register(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
		signaturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docseal_signatures_total",
			Help: "Signed documents by result",
		}, []string{"result"}) // result: timestamped|degraded|failed

		signatureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docseal_signature_duration_seconds",
			Help:    "Time spent signing one document",
			Buckets: prometheus.DefBuckets,
		})

		tsaAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docseal_tsa_attempts_total",
			Help: "Timestamp authority attempts by URL and result",
		}, []string{"url", "result"}) // result: ok|error

		stampSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docseal_stamp_skips_total",
			Help: "Documents where the visual stamp was skipped",
		})

		deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docseal_deliveries_total",
			Help: "Signed document deliveries by channel and result",
		}, []string{"channel", "result"})

		verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docseal_verifications_total",
			Help: "Verification requests by outcome",
		}, []string{"outcome"}) // outcome: valid|invalid|error

		for _, c := range []prometheus.Collector{
			signaturesTotal, signatureDuration, tsaAttemptsTotal,
			stampSkipsTotal, deliveriesTotal, verificationsTotal,
		} {
			if err := register(registry, c); err != nil {
				registerErr = err
				return
			}
		}
	})
	if registerErr != nil {
		return nil, registerErr
	}

	return promhttp.Handler(), nil
}

func register(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

func RecordSignature(result string, duration time.Duration) {
	if signaturesTotal != nil {
		signaturesTotal.WithLabelValues(result).Inc()
	}
	if signatureDuration != nil {
		signatureDuration.Observe(duration.Seconds())
	}
}

func RecordTSAAttempt(url, result string) {
	if tsaAttemptsTotal != nil {
		tsaAttemptsTotal.WithLabelValues(url, result).Inc()
	}
}

func RecordStampSkip() {
	if stampSkipsTotal != nil {
		stampSkipsTotal.Inc()
	}
}

func RecordDelivery(channel, result string) {
	if deliveriesTotal != nil {
		deliveriesTotal.WithLabelValues(channel, result).Inc()
	}
}

func RecordVerification(outcome string) {
	if verificationsTotal != nil {
		verificationsTotal.WithLabelValues(outcome).Inc()
	}
}
