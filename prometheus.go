package tollgate

import (
	"net/http"

	"github.com/lightninglabs/tollgate/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig is the set of configuration data that specifies if
// Prometheus metric exporting is activated, and if so the listening address of
// the Prometheus server.
type PrometheusConfig struct {
	// Enabled, if true, then Prometheus metrics will be exported.
	Enabled bool `yaml:"enabled" env:"TOLLGATE_PROMETHEUS_ENABLED"`

	// ListenAddr is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	ListenAddr string `yaml:"listenaddr" env:"TOLLGATE_PROMETHEUS_LISTENADDR"`
}

// StartPrometheusExporter registers all relevant metrics with the Prometheus
// library, then launches the HTTP server that Prometheus will hit to scrape
// our metrics.
func StartPrometheusExporter(cfg *PrometheusConfig) error {
	// If we're not active, then there's nothing more to do.
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	// Next, we'll register all our metrics.
	prometheus.MustRegister(proxy.Collectors()...)

	// Finally, we'll launch the HTTP server that Prometheus will use to
	// scrape our metrics.
	go func() {
		log.Infof("Prometheus metrics http endpoint being served on "+
			"%s", cfg.ListenAddr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(cfg.ListenAddr, mux)
		if err != nil {
			log.Errorf("Prometheus exporter stopped: %v", err)
		}
	}()

	return nil
}
