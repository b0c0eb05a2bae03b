package transport

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewHandler routes the admin service, /metrics and the health checks
func NewHandler(server *AdminServer, registry *prometheus.Registry) http.Handler {
	opts := connect.WithInterceptors(requestIDInterceptor())

	router := mux.NewRouter()
	router.Handle(ChooseHostProcedure, connect.NewUnaryHandler(ChooseHostProcedure, server.ChooseHost, opts))
	router.Handle(DumpPrioritiesProcedure, connect.NewUnaryHandler(DumpPrioritiesProcedure, server.DumpPriorities, opts))
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods("GET")
	router.HandleFunc("/health", server.healthHandler).Methods("GET")
	router.HandleFunc("/ready", server.readyHandler).Methods("GET")

	// Use h2c so we can serve HTTP/2 without TLS
	return h2c.NewHandler(router, &http2.Server{})
}

// healthHandler returns a 200 OK for health checks
func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler reports ready once the aggregate cluster has at least one priority
func (s *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.cluster.Context().Empty() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("No member clusters"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
