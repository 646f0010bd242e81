package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vision-caption-client/internal/app"
	"vision-caption-client/internal/service/transport"
)

// Status is the session view exposed over HTTP.
type Status interface {
	ID() string
	State() transport.State
	Ready() bool
}

type statusResponse struct {
	SessionID     string  `json:"sessionId"`
	Connection    string  `json:"connection"`
	Ready         bool    `json:"ready"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// NewRouter constructs the observability router: liveness, readiness
// (connection OPEN), Prometheus metrics from gatherer and a status document.
func NewRouter(application *app.Application, status Status, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !status.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(status.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			resp := statusResponse{
				SessionID:     status.ID(),
				Connection:    status.State().String(),
				Ready:         status.Ready(),
				UptimeSeconds: application.Uptime().Seconds(),
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(resp)
		})
	})

	return r
}
