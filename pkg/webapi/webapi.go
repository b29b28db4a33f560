/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// This file is to handle things such as metrics/health/routing diagnostics

package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/couchbase/stellar-georouter/georouter"
)

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Router        *georouter.Router
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	router        *georouter.Router
	httpServer    *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		router:        opts.Router,
	}

	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the stellar georouter internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("OK"))
	if err != nil {
		w.logger.Debug("failed to write health response", zap.Error(err))
	}
}

func (w *WebServer) writeJson(rw http.ResponseWriter, statusCode int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	err := json.NewEncoder(rw).Encode(data)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

type errorJson struct {
	Error string `json:"error"`
}

func (w *WebServer) writeError(rw http.ResponseWriter, statusCode int, message string) {
	w.writeJson(rw, statusCode, errorJson{Error: message})
}

func (w *WebServer) handleRouting(rw http.ResponseWriter, r *http.Request) {
	w.writeJson(rw, http.StatusOK, w.router.Diagnostics())
}

type resolveJson struct {
	OperationType string `json:"operationType"`
	ResourceType  string `json:"resourceType"`
	LocationIndex int    `json:"locationIndex"`
	Endpoint      string `json:"endpoint"`
	Location      string `json:"location,omitempty"`
}

// handleResolve reports where a request with the given shape would be sent,
// without sending anything.
func (w *WebServer) handleResolve(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opType := georouter.OperationTypeRead
	if opName := query.Get("operation"); opName != "" {
		parsed, ok := georouter.ParseOperationType(opName)
		if !ok {
			w.writeError(rw, http.StatusBadRequest, "unknown operation type: "+opName)
			return
		}
		opType = parsed
	}

	resType := georouter.ResourceTypeDocument
	if resName := query.Get("resource"); resName != "" {
		parsed, ok := georouter.ParseResourceType(resName)
		if !ok {
			w.writeError(rw, http.StatusBadRequest, "unknown resource type: "+resName)
			return
		}
		resType = parsed
	}

	locationIndex := 0
	if indexStr := query.Get("index"); indexStr != "" {
		parsed, err := strconv.Atoi(indexStr)
		if err != nil {
			w.writeError(rw, http.StatusBadRequest, "invalid location index: "+indexStr)
			return
		}
		locationIndex = parsed
	}

	usePreferredLocations := true
	if preferredStr := query.Get("preferred"); preferredStr != "" {
		parsed, err := strconv.ParseBool(preferredStr)
		if err != nil {
			w.writeError(rw, http.StatusBadRequest, "invalid preferred flag: "+preferredStr)
			return
		}
		usePreferredLocations = parsed
	}

	req := georouter.NewRequest(opType, resType)
	req.RouteToLocationIndex(locationIndex, usePreferredLocations)

	endpoint := w.router.ResolveServiceEndpoint(req)
	location, _ := w.router.GetLocation(endpoint)

	w.writeJson(rw, http.StatusOK, resolveJson{
		OperationType: opType.String(),
		ResourceType:  resType.String(),
		LocationIndex: locationIndex,
		Endpoint:      endpoint,
		Location:      location,
	})
}

func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/", w.handleRoot)
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)

	if w.logLevel != nil {
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}

	if w.router != nil {
		r.HandleFunc("/routing", w.handleRouting).Methods(http.MethodGet)
		r.HandleFunc("/routing/resolve", w.handleResolve).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
	})

	return otelhttp.NewHandler(c.Handler(r), "webapi",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// metrics scrapes are not traced
			return r.URL.Path != "/metrics"
		}))
}

func (w *WebServer) ListenAndServe() error {
	return w.httpServer.ListenAndServe()
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	return w.httpServer.Shutdown(ctx)
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return globalWebServer
	}

	globalWebServer = NewWebServer(opts)
	webServer := globalWebServer
	globalWebLock.Unlock()

	go func() {
		err := webServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			webServer.logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()

	return webServer
}
