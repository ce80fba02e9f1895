// Package api serves the local status surface: health, metrics, the
// current view and operator actions.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/middleware"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

type Reconnector interface {
	Reconnect()
}

type Refresher interface {
	Refresh(ctx context.Context, kind data.Kind) error
	RefreshAll(ctx context.Context, kinds ...data.Kind) map[data.Kind]error
}

type AnomalyActions interface {
	Acknowledge(ctx context.Context, id string) (data.Anomaly, error)
	Resolve(ctx context.Context, id string) (data.Anomaly, error)
	Delete(ctx context.Context, id string) error
}

type CameraActions interface {
	StreamURL(cam data.Camera) string
	MarkStreamLoaded(ctx context.Context, id string) (bool, error)
	SetStatus(ctx context.Context, id string, status data.CameraStatus) (data.Camera, error)
	Delete(ctx context.Context, id string) error
}

type Deps struct {
	Store     *store.Store
	Channel   Reconnector
	Loader    Refresher
	Anomalies AnomalyActions
	Cameras   CameraActions
	Logger    zerolog.Logger

	// AllowedOrigins feeds the CORS middleware; empty disables it.
	AllowedOrigins []string
}

type Server struct {
	deps Deps
	log  zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{deps: d, log: d.Logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	if len(s.deps.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(s.deps.AllowedOrigins))
	}
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.state)

		r.Get("/anomalies", s.listAnomalies)
		r.Post("/anomalies/{id}/acknowledge", s.acknowledgeAnomaly)
		r.Post("/anomalies/{id}/resolve", s.resolveAnomaly)
		r.Delete("/anomalies/{id}", s.deleteAnomaly)

		r.Get("/cameras", s.listCameras)
		r.Post("/cameras/{id}/stream-loaded", s.streamLoaded)
		r.Put("/cameras/{id}/status", s.setCameraStatus)
		r.Delete("/cameras/{id}", s.deleteCamera)

		r.Post("/reconnect", s.reconnect)
		r.Post("/refresh", s.refreshAll)
		r.Post("/refresh/{kind}", s.refresh)
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
