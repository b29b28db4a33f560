/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package endpointpool keeps one HTTP client per regional endpoint so each
// region gets its own connection pool and connection limit.
package endpointpool

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	DefaultConnectionLimit = 50
	DefaultRequestTimeout  = 30 * time.Second
)

type PoolOptions struct {
	Logger *zap.Logger

	// DefaultConnectionLimit applies to endpoints the pool has not been
	// given an explicit limit for.
	DefaultConnectionLimit int
	RequestTimeout         time.Duration
}

type pooledClient struct {
	client    *http.Client
	transport *http.Transport
	limit     int
}

type Pool struct {
	logger         *zap.Logger
	defaultLimit   int
	requestTimeout time.Duration

	// lock serializes client creation and replacement
	lock    sync.Mutex
	clients *xsync.Map[string, *pooledClient]
}

func NewPool(opts PoolOptions) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	defaultLimit := opts.DefaultConnectionLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultConnectionLimit
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	return &Pool{
		logger:         logger,
		defaultLimit:   defaultLimit,
		requestTimeout: requestTimeout,
		clients:        xsync.NewMap[string, *pooledClient](),
	}
}

// poolKey reduces an endpoint to scheme and host, connection pools are
// per-host regardless of path.
func poolKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.ToLower(endpoint)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (p *Pool) newClient(limit int) *pooledClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = limit
	transport.MaxIdleConnsPerHost = limit

	return &pooledClient{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   p.requestTimeout,
		},
		transport: transport,
		limit:     limit,
	}
}

// SetConnectionLimit sizes the connection pool for endpoint.  Changing the
// limit of an existing endpoint replaces its client, in-flight requests on
// the old one complete normally.
func (p *Pool) SetConnectionLimit(endpoint string, limit int) {
	if limit <= 0 {
		limit = p.defaultLimit
	}

	key := poolKey(endpoint)

	p.lock.Lock()
	defer p.lock.Unlock()

	existing, ok := p.clients.Load(key)
	if ok && existing.limit == limit {
		return
	}

	p.clients.Store(key, p.newClient(limit))

	if ok {
		existing.transport.CloseIdleConnections()
	}

	p.logger.Debug("configured endpoint connection pool",
		zap.String("endpoint", key),
		zap.Int("limit", limit))
}

// Client returns the HTTP client to use for endpoint, creating one with the
// default connection limit if the endpoint is not known yet.
func (p *Pool) Client(endpoint string) *http.Client {
	key := poolKey(endpoint)

	if existing, ok := p.clients.Load(key); ok {
		return existing.client
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	existing, _ := p.clients.LoadOrCompute(key, func() (*pooledClient, bool) {
		return p.newClient(p.defaultLimit), false
	})
	return existing.client
}

// ConnectionLimit reports the limit configured for endpoint, or zero if the
// pool has no client for it.
func (p *Pool) ConnectionLimit(endpoint string) int {
	existing, ok := p.clients.Load(poolKey(endpoint))
	if !ok {
		return 0
	}
	return existing.limit
}

func (p *Pool) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.clients.Range(func(key string, client *pooledClient) bool {
		client.transport.CloseIdleConnections()
		p.clients.Delete(key)
		return true
	})
}
