package metrics

import "sync"

var (
	global *Metrics
	once   sync.Once
)

// Default returns the process-wide metrics instance. promauto registers
// on the default registry, so construction must happen exactly once.
func Default() *Metrics {
	once.Do(func() { global = NewMetrics() })
	return global
}
