package obs

import "github.com/prometheus/client_golang/prometheus"

func newBuildInfo() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeep_build_info",
			Help: "Gatekeep build information.",
		},
		[]string{"version", "commit"},
	)
}

// SetBuildInfo publishes build_info{version, commit} 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.Reset()
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}
