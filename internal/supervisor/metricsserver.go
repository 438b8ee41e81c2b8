package supervisor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartMetricsServer binds the optional Prometheus endpoint (SPEC_FULL.md
// §6: "internal/supervisor optionally exposes Prometheus counters/
// histograms ... via prometheus/client_golang"). It is a no-op when
// metrics are disabled in config. The returned server, if any, should be
// shut down by the caller alongside Stop.
func (sv *Supervisor) StartMetricsServer() *http.Server {
	if !sv.Cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	path := sv.Cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{Addr: sv.Cfg.Metrics.Address, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sv.Log.Error("metrics server failed", err)
		}
	}()
	return srv
}
