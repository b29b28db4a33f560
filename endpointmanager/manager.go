/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package endpointmanager keeps a georouter.Router in sync with the account
// topology.  It applies every topology the provider publishes, and refreshes
// on demand whenever the router reports that its view looks stale.
package endpointmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/couchbase/stellar-georouter/common/accounttopology"
	"github.com/couchbase/stellar-georouter/georouter"
	"github.com/couchbase/stellar-georouter/pkg/metrics"
)

const DefaultBackgroundRefreshInterval = 5 * time.Minute

// background refreshes give up after this many failed attempts and wait for
// the next trigger instead
const maxRefreshRetries = 3

type ManagerOptions struct {
	Logger   *zap.Logger
	Router   *georouter.Router
	Provider accounttopology.Provider

	// BackgroundRefreshInterval is how often the manager asks the router
	// whether a refresh is due, independently of any failures being
	// reported.
	BackgroundRefreshInterval time.Duration

	Metrics *metrics.RouterMetrics
}

type Manager struct {
	logger          *zap.Logger
	router          *georouter.Router
	provider        accounttopology.Provider
	refreshInterval time.Duration
	metrics         *metrics.RouterMetrics
	tracer          trace.Tracer

	// refreshCh has a single slot so that concurrent requests coalesce
	refreshCh chan struct{}

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	started   atomic.Bool
	closed    atomic.Bool
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Router == nil {
		return nil, errors.New("a router must be specified")
	}
	if opts.Provider == nil {
		return nil, errors.New("a topology provider must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	refreshInterval := opts.BackgroundRefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = DefaultBackgroundRefreshInterval
	}

	managerMetrics := opts.Metrics
	if managerMetrics == nil {
		managerMetrics = metrics.GetRouterMetrics()
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Manager{
		logger:          logger,
		router:          opts.Router,
		provider:        opts.Provider,
		refreshInterval: refreshInterval,
		metrics:         managerMetrics,
		tracer:          otel.Tracer("com.couchbase.stellar-georouter/endpointmanager"),
		refreshCh:       make(chan struct{}, 1),
		ctx:             ctx,
		ctxCancel:       ctxCancel,
	}, nil
}

// Start performs an initial refresh and then begins following the account
// topology in the background.  A failed initial refresh is not fatal, the
// router keeps routing everything to its default endpoint until a topology
// arrives.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	err := m.Refresh(ctx)
	if err != nil {
		m.logger.Warn("initial account refresh failed, using the default endpoint",
			zap.String("defaultEndpoint", m.router.DefaultEndpoint()),
			zap.Error(err))
	}

	m.wg.Add(2)
	go m.watchThread()
	go m.refreshThread()

	return nil
}

func (m *Manager) watchThread() {
	defer m.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		topologyCh, err := m.provider.Watch(m.ctx)
		if err != nil {
			m.logger.Error("failed to watch account topology", zap.Error(err))

			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-m.ctx.Done():
				return
			}
		}

		// the watch is established, start backing off from scratch next time
		b.Reset()

		for topology := range topologyCh {
			m.applyTopology(topology, "watch")
		}

		if m.ctx.Err() != nil {
			return
		}

		m.logger.Info("account topology watch ended, watching again")
	}
}

func (m *Manager) refreshThread() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.refreshCh:
		case <-ticker.C:
			shouldRefresh, _ := m.router.ShouldRefreshEndpoints()
			if !shouldRefresh {
				continue
			}
		case <-m.ctx.Done():
			return
		}

		err := m.refreshWithRetry(m.ctx)
		if err != nil && m.ctx.Err() == nil {
			m.logger.Error("background account refresh failed", zap.Error(err))
		}
	}
}

func (m *Manager) refreshWithRetry(ctx context.Context) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRefreshRetries),
		ctx)

	return backoff.RetryNotify(func() error {
		err := m.Refresh(ctx)
		if errors.Is(err, ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		m.logger.Warn("account refresh failed, retrying",
			zap.Duration("retryIn", next),
			zap.Error(err))
	})
}

// Refresh fetches the account topology and applies it to the router.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "refresh account topology")
	defer span.End()

	topology, err := m.provider.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch account topology")

		m.metrics.AccountRefreshes.Add(ctx, 1,
			metric.WithAttributes(attribute.String("result", "failure")))

		return errors.Wrap(err, "failed to refresh account topology")
	}

	span.SetAttributes(
		attribute.Int("writable_regions", len(topology.WritableRegions)),
		attribute.Int("readable_regions", len(topology.ReadableRegions)),
		attribute.Bool("multiple_write_locations", topology.EnableMultipleWriteLocations))

	m.applyTopology(topology, "refresh")

	return nil
}

func (m *Manager) applyTopology(topology *accounttopology.Topology, source string) {
	m.router.OnAccountRead(topology.AccountProperties())

	m.metrics.AccountRefreshes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", "success")))

	m.logger.Debug("applied account topology",
		zap.String("source", source),
		zap.Int("writableRegions", len(topology.WritableRegions)),
		zap.Int("readableRegions", len(topology.ReadableRegions)),
		zap.Bool("enableMultipleWriteLocations", topology.EnableMultipleWriteLocations))
}

func (m *Manager) signalRefresh() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
		// a refresh is already pending
	}
}

// RefreshIfNeeded refreshes the topology if the router considers it stale.
// When the router can keep serving traffic meanwhile, the refresh is handed
// to the background and RefreshIfNeeded returns immediately.
func (m *Manager) RefreshIfNeeded(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	shouldRefresh, canRefreshInBackground := m.router.ShouldRefreshEndpoints()
	if !shouldRefresh {
		return nil
	}

	if canRefreshInBackground {
		m.signalRefresh()
		return nil
	}

	return m.Refresh(ctx)
}

func (m *Manager) ResolveServiceEndpoint(req *georouter.Request) string {
	return m.router.ResolveServiceEndpoint(req)
}

// MarkEndpointUnavailableForRead reports a read failure against endpoint.
// If this makes the topology look stale a background refresh is scheduled,
// the caller is never blocked on I/O.
func (m *Manager) MarkEndpointUnavailableForRead(endpoint string) {
	m.router.MarkEndpointUnavailableForRead(endpoint)
	m.scheduleRefreshIfNeeded()
}

func (m *Manager) MarkEndpointUnavailableForWrite(endpoint string) {
	m.router.MarkEndpointUnavailableForWrite(endpoint)
	m.scheduleRefreshIfNeeded()
}

func (m *Manager) scheduleRefreshIfNeeded() {
	if m.closed.Load() {
		return
	}

	if shouldRefresh, _ := m.router.ShouldRefreshEndpoints(); shouldRefresh {
		m.signalRefresh()
	}
}

func (m *Manager) ReadEndpoints() []string {
	return m.router.ReadEndpoints()
}

func (m *Manager) WriteEndpoints() []string {
	return m.router.WriteEndpoints()
}

func (m *Manager) Router() *georouter.Router {
	return m.router
}

// Close stops the background work and waits for it to finish.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	m.ctxCancel()
	m.wg.Wait()

	return nil
}
