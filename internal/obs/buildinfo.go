package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info{version, commit} 1
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_build_info",
			Help: "Approval portal build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo регистрирует метрику build_info (однократно) и устанавливает значение.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.WithLabelValues(version, commit).Set(1)
}
