package moecache

// Timer measures one operation. Call ObserveDuration when it completes.
type Timer interface {
	ObserveDuration()
}

// Metrics receives client instrumentation.
type Metrics interface {
	// OperationDuration starts timing op (get, set, delete, stats).
	OperationDuration(op string) Timer
	// OperationResult counts the outcome of op: hit, miss, ok or error.
	OperationResult(op, result string)
	// Connected counts connections established to endpoint.
	Connected(endpoint string)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopMetrics struct{}

func (nopMetrics) OperationDuration(string) Timer { return nopTimer{} }
func (nopMetrics) OperationResult(string, string) {}
func (nopMetrics) Connected(string)               {}

// NopMetrics returns Metrics that discard everything.
func NopMetrics() Metrics { return nopMetrics{} }
