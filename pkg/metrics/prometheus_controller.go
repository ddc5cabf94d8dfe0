// Package metrics exposes the process's Prometheus registry over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultPath = "/debug/prometheus"

// NewRouter serves the default registry at path.
func NewRouter(path string) *mux.Router {
	if path == "" {
		path = DefaultPath
	}
	r := mux.NewRouter()
	r.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Serve runs a metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr, path string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
