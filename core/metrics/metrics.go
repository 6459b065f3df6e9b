// Package metrics defines small instrumentation interfaces so core packages
// can emit measurements without depending on a concrete backend. The
// adapters/prometheus package provides a production implementation.
package metrics

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	// Add increments by delta. delta must be >= 0.
	Add(delta float64)
}

// Gauge is a value that can move in both directions.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations into buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer records the duration of one operation. Obtain a Timer when the
// operation starts and call ObserveDuration when it completes:
//
//	defer m.ReplayDuration("document").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
