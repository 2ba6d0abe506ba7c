package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solverd"

var (
	modelFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "models",
			Name:      "fetches_total",
			Help:      "Model resolutions by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	modelFetchBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "models",
			Name:      "fetched_bytes_total",
			Help:      "Bytes written to the model directory",
		},
		[]string{"backend"},
	)

	modelFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "models",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of model resolutions that contacted a backend",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"backend"},
	)

	predictorActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "active",
			Help:      "1 when the predictor for a challenge type is loaded",
		},
		[]string{"type"},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "predictions_total",
			Help:      "Predictions by challenge type and outcome",
		},
		[]string{"type", "outcome"},
	)

	predictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "prediction_duration_seconds",
			Help:      "Duration of predictions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		modelFetchesTotal, modelFetchBytes, modelFetchDuration,
		predictorActive, predictionsTotal, predictionDuration,
	)
}

// Fetch outcomes.
const (
	OutcomeCached     = "cached"
	OutcomeUpToDate   = "up_to_date"
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
)

// ObserveFetch records one model resolution. bytes and d are ignored for
// the cached outcome, which never contacts a backend.
func ObserveFetch(backend, outcome string, bytes int64, d time.Duration) {
	modelFetchesTotal.WithLabelValues(backend, outcome).Inc()
	if outcome == OutcomeCached {
		return
	}
	modelFetchDuration.WithLabelValues(backend).Observe(d.Seconds())
	if bytes > 0 {
		modelFetchBytes.WithLabelValues(backend).Add(float64(bytes))
	}
}

func SetPredictorActive(typ string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	predictorActive.WithLabelValues(typ).Set(v)
}

func ObservePrediction(typ string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	predictionsTotal.WithLabelValues(typ, outcome).Inc()
	predictionDuration.WithLabelValues(typ).Observe(d.Seconds())
}
