package metrics

type nopCounter struct{}

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}

type nopGauge struct{}

func (nopGauge) Set(float64) {}
func (nopGauge) Inc()        {}
func (nopGauge) Dec()        {}
func (nopGauge) Add(float64) {}

type nopHistogram struct{}

func (nopHistogram) Observe(float64) {}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopCounter returns a Counter that discards all values.
func NopCounter() Counter { return nopCounter{} }

// NopGauge returns a Gauge that discards all values.
func NopGauge() Gauge { return nopGauge{} }

// NopHistogram returns a Histogram that discards all values.
func NopHistogram() Histogram { return nopHistogram{} }

// NopTimer returns a Timer that discards the observation.
func NopTimer() Timer { return nopTimer{} }
