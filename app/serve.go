package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/crimecast/api/hotspots"
	"github.com/kilianp07/crimecast/core/factory"
	"github.com/kilianp07/crimecast/infra/metrics"
)

// Handler builds the HTTP API over the persisted artifacts.
func (r *Runtime) Handler(ctx context.Context) (http.Handler, error) {
	svc, err := r.Query(ctx)
	if err != nil {
		return nil, err
	}
	return hotspots.NewHandler(svc, hotspots.Options{
		Token:     r.Cfg.Server.Token,
		Threshold: r.Cfg.Inference.Threshold,
		Grid:      r.Grid,
		Heatmap:   r.HeatmapOptions(),
		Status:    func() any { return r.Status() },
	}), nil
}

// Serve runs the HTTP API, the Prometheus endpoint when a prometheus sink is
// configured and MQTT status forwarding when enabled. It blocks until ctx
// is cancelled.
func (r *Runtime) Serve(ctx context.Context) error {
	h, err := r.Handler(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if hasSink(r.Cfg.Metrics.Sinks, "prometheus") {
		go func() {
			if err := metrics.StartPromServer(ctx, r.Cfg.Metrics.PrometheusPort); err != nil {
				r.Log.Errorf("prom server: %v", err)
			}
		}()
	}
	if r.Cfg.MQTT.Enabled {
		pub, err := r.Publisher()
		if err != nil {
			return err
		}
		defer pub.Close()
		st := r.Status()
		if err := r.PublishStatus(ctx, pub, st); err != nil {
			r.Log.Warnf("publish status: %v", err)
		}
		go r.ForwardStatus(ctx, pub)
	}

	srv := &http.Server{
		Addr:              r.Cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(r.Cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(r.Cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		r.Log.Infof("serving API on %s (tier %s)", srv.Addr, r.Tier())
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.Log.Errorf("server shutdown: %v", err)
	}
	return nil
}

func hasSink(sinks []factory.ModuleConfig, kind string) bool {
	for _, s := range sinks {
		if s.Type == kind {
			return true
		}
	}
	return false
}
