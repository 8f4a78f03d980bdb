package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	driverRefCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "driver",
		Name:      "references",
		Help:      "Live references to the encode driver module",
	}, []string{"loader"})

	driverLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "driver",
		Name:      "loaded",
		Help:      "1 while the encode driver module is loaded",
	}, []string{"loader"})
)

// SetDriverRefCount sets the reference count for a driver loader.
func SetDriverRefCount(loader string, refs int) {
	driverRefCount.WithLabelValues(loader).Set(float64(refs))
}

// SetDriverLoaded records whether a driver loader has its module loaded.
func SetDriverLoaded(loader string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	driverLoaded.WithLabelValues(loader).Set(v)
}

// DeleteDriverMetrics removes all metrics for a loader.
func DeleteDriverMetrics(loader string) {
	driverRefCount.DeleteLabelValues(loader)
	driverLoaded.DeleteLabelValues(loader)
}
