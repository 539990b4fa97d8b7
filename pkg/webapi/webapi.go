// This file is to handle things such as metrics/health/topology, etc

package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/couchbase/stellar-topology/topology"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// DescriptionSource is implemented by *topology.Cluster.
type DescriptionSource interface {
	CurrentDescription() *topology.ClusterDescription
}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Cluster       DescriptionSource
	Debug         bool
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	cluster       DescriptionSource
	debug         bool

	lock       sync.Mutex
	httpServer *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		cluster:       opts.Cluster,
		debug:         opts.Debug,
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the stellar topology internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) writeJson(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	if w.cluster == nil {
		w.writeJson(rw, http.StatusNotFound, map[string]string{"error": "no cluster is being monitored"})
		return
	}

	w.writeJson(rw, http.StatusOK, newClusterJson(w.cluster.CurrentDescription()))
}

func (w *WebServer) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	if w.cluster == nil {
		w.writeJson(rw, http.StatusServiceUnavailable, map[string]string{"state": "Unknown"})
		return
	}

	desc := w.cluster.CurrentDescription()
	status := http.StatusServiceUnavailable
	if desc.State == topology.ClusterStateConnected {
		status = http.StatusOK
	}

	w.writeJson(rw, status, map[string]interface{}{
		"state":    desc.State.String(),
		"revision": desc.Revision,
	})
}

func (w *WebServer) handleGetLogLevel(rw http.ResponseWriter, r *http.Request) {
	if w.logLevel == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	w.logLevel.ServeHTTP(rw, r)
}

// Handler builds the routing for the web api.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/topology", w.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/healthz", w.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/loglevel", w.handleGetLogLevel).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/", w.handleRoot)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		Debug:          w.debug,
	})

	return otelhttp.NewHandler(c.Handler(r), "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.lock.Lock()
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := w.httpServer
	w.lock.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	w.lock.Lock()
	srv := w.httpServer
	w.lock.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		srv := globalWebServer
		globalWebLock.Unlock()
		return srv
	}

	globalWebServer = NewWebServer(opts)
	srv := globalWebServer
	globalWebLock.Unlock()
	go func() {
		err := srv.ListenAndServe()
		if err != nil {
			srv.logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()

	return srv
}
