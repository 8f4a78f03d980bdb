// Package exporters exposes the collected metrics over HTTP.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/gpuenc/internal/logging"
)

// MetricsPath is where the standalone listener serves the scrape endpoint.
const MetricsPath = "/metrics"

// HTTPHandler returns the Prometheus metrics HTTP handler.
// Every promauto-registered gpuenc collector is included.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux serving the scrape endpoint and a plain liveness probe.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, HTTPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve exposes the metrics mux on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, ln)
}

// ServeListener is Serve on an already bound listener. The listener is
// closed when the call returns.
func ServeListener(ctx context.Context, ln net.Listener) error {
	logger := logging.GetLogger("metrics")

	srv := &http.Server{
		Handler:           NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", ln.Addr().String(), "path", MetricsPath)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
