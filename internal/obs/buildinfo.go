package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "SOP ledger API build information.",
		},
		[]string{"version", "commit"},
	)
)

func registerBuildInfo() {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
}

// SetBuildInfo exposes build_info{version,commit} 1.
func SetBuildInfo(version, commit string) {
	registerBuildInfo()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
