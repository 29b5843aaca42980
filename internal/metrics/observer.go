package metrics

// ShareObserver feeds share lifecycle and janitor events into the
// Prometheus collectors.
type ShareObserver struct{}

// NewShareObserver registers the collectors and returns an observer.
func NewShareObserver() ShareObserver {
	InitMetrics()
	return ShareObserver{}
}

func (ShareObserver) Stored(sizeBytes int64) {
	sharesStored.Inc()
	storedBytes.Add(float64(sizeBytes))
}

func (ShareObserver) Retrieved(outcome string) {
	retrievals.WithLabelValues(outcome).Inc()
}

func (ShareObserver) Compensated(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	compensations.WithLabelValues(result).Inc()
}

func (ShareObserver) Orphaned() {
	orphans.Inc()
}

func (ShareObserver) Swept(records int) {
	janitorDeletes.WithLabelValues("sweeper").Add(float64(records))
}

func (ShareObserver) Collected(blobs int) {
	janitorDeletes.WithLabelValues("collector").Add(float64(blobs))
}
