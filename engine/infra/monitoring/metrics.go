package monitoring

import (
	"errors"
	"strings"

	"github.com/compozy/recordstore/engine/store"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recordstore"

const resultOK = "ok"

// OperationDurationBuckets covers local file writes up to slow network round
// trips.
var OperationDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the collectors shared by every instrumented store on one
// registry.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the store collectors on reg. Registering twice on the
// same registry returns the collectors that are already there.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Store operations by backend, operation and result.",
	}, []string{"backend", "operation", "result"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Store operation latency by backend and operation.",
		Buckets:   OperationDurationBuckets,
	}, []string{"backend", "operation"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{operations: operations, duration: duration}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ResultLabel renders err as a label value: "ok", the snake_cased store
// error kind, or "error" for anything else.
func ResultLabel(err error) string {
	if err == nil {
		return resultOK
	}
	kind := store.KindOf(err)
	if kind == "" {
		return "error"
	}
	return strings.ReplaceAll(string(kind), " ", "_")
}
