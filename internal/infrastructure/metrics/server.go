package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moltools/dockscreen/internal/infrastructure/logging"
)

// StartServer exposes reg on addr under /metrics and returns the server so
// the caller can Shutdown it. The listener runs on its own goroutine;
// startup failures are logged, not fatal, since a screening run is worth
// finishing even when its scrape endpoint is not.
func StartServer(addr string, reg *prometheus.Registry, log logging.Logger) *http.Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics endpoint unavailable",
				logging.String("addr", addr),
				logging.Err(err),
			)
		}
	}()
	return srv
}
