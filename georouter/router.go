/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package georouter decides which regional endpoint of a geo-replicated
// database account each request should target.  It keeps an immutable,
// atomically swapped view of the account's regions ranked by client
// preference and availability, along with a lock-free record of endpoints
// that recently failed.
package georouter

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbase/stellar-georouter/pkg/metrics"
	"github.com/couchbase/stellar-georouter/utils/sliceutils"
)

// ConnectionLimiter is told about every regional endpoint the router learns
// of so the transport can size its connection pool for it.
type ConnectionLimiter interface {
	SetConnectionLimit(endpoint string, limit int)
}

type RouterOptions struct {
	Logger *zap.Logger

	// DefaultEndpoint is the account's global endpoint.  Required.
	DefaultEndpoint    string
	PreferredLocations []string

	DisableEndpointDiscovery  bool
	UseMultipleWriteLocations bool

	ConnectionLimit   int
	ConnectionLimiter ConnectionLimiter

	// UnavailableLocationsExpirationTime defaults to
	// DefaultUnavailableLocationsExpirationTime when zero.
	UnavailableLocationsExpirationTime time.Duration

	Metrics *metrics.RouterMetrics
}

type Router struct {
	logger                    *zap.Logger
	defaultEndpoint           string
	enableEndpointDiscovery   bool
	useMultipleWriteLocations bool
	connectionLimit           int
	connectionLimiter         ConnectionLimiter
	expiry                    time.Duration
	metrics                   *metrics.RouterMetrics
	nowFn                     func() time.Time

	unavailable *unavailabilityTracker
	snapshot    atomicLocationsSnapshot

	// lock serializes snapshot rebuilds, readers never take it
	lock            sync.Mutex
	lastUpdateNanos atomic.Int64
}

func New(opts *RouterOptions) (*Router, error) {
	if opts.DefaultEndpoint == "" {
		return nil, ErrMissingDefaultEndpoint
	}

	defaultEndpoint, err := parseEndpoint(opts.DefaultEndpoint)
	if err != nil {
		return nil, ErrInvalidDefaultEndpoint
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	expiry := opts.UnavailableLocationsExpirationTime
	if expiry <= 0 {
		expiry = DefaultUnavailableLocationsExpirationTime
	}

	routerMetrics := opts.Metrics
	if routerMetrics == nil {
		routerMetrics = metrics.GetRouterMetrics()
	}

	r := &Router{
		logger:                    logger,
		defaultEndpoint:           defaultEndpoint,
		enableEndpointDiscovery:   !opts.DisableEndpointDiscovery,
		useMultipleWriteLocations: opts.UseMultipleWriteLocations,
		connectionLimit:           opts.ConnectionLimit,
		connectionLimiter:         opts.ConnectionLimiter,
		expiry:                    expiry,
		metrics:                   routerMetrics,
		nowFn:                     time.Now,
		unavailable:               newUnavailabilityTracker(logger, expiry),
	}

	r.snapshot.Store(newLocationsSnapshot(normalizePreferredLocations(opts.PreferredLocations), defaultEndpoint))

	return r, nil
}

func normalizePreferredLocations(locations []string) []string {
	if locations == nil {
		return nil
	}

	nonEmpty := make([]string, 0, len(locations))
	for _, location := range locations {
		location = strings.TrimSpace(location)
		if location != "" {
			nonEmpty = append(nonEmpty, location)
		}
	}

	return sliceutils.RemoveDuplicatesFunc(nonEmpty, locationKey)
}

// locationUpdate describes a rebuild.  A nil field keeps the value from the
// current snapshot.
type locationUpdate struct {
	WriteLocations               []Region
	ReadLocations                []Region
	PreferredLocations           []string
	EnableMultipleWriteLocations *bool
}

// OnAccountRead applies a freshly read account topology.
func (r *Router) OnAccountRead(account *AccountProperties) {
	enableMultipleWriteLocations := account.EnableMultipleWriteLocations
	r.update(locationUpdate{
		WriteLocations:               account.WritableLocations,
		ReadLocations:                account.ReadableLocations,
		EnableMultipleWriteLocations: &enableMultipleWriteLocations,
	})
}

// OnLocationPreferenceChanged replaces the client's preferred locations.
// Duplicate names (compared case-insensitively) keep their first position.
func (r *Router) OnLocationPreferenceChanged(preferredLocations []string) {
	preferredLocations = normalizePreferredLocations(preferredLocations)
	if preferredLocations == nil {
		preferredLocations = []string{}
	}

	r.update(locationUpdate{
		PreferredLocations: preferredLocations,
	})
}

func (r *Router) MarkEndpointUnavailableForRead(endpoint string) {
	r.markEndpointUnavailable(endpoint, OperationKindRead)
}

func (r *Router) MarkEndpointUnavailableForWrite(endpoint string) {
	r.markEndpointUnavailable(endpoint, OperationKindWrite)
}

func (r *Router) markEndpointUnavailable(endpoint string, kind OperationKind) {
	if canonical, err := parseEndpoint(endpoint); err == nil {
		endpoint = canonical
	}

	r.unavailable.Mark(endpoint, kind, r.nowFn())
	r.metrics.EndpointsMarkedUnavailable.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("operation", kind.String())))

	// failures must influence the very next routing decision
	r.update(locationUpdate{})
}

// IsEndpointUnavailable reports whether endpoint is within its unavailability
// window for kind.
func (r *Router) IsEndpointUnavailable(endpoint string, kind OperationKind) bool {
	if canonical, err := parseEndpoint(endpoint); err == nil {
		endpoint = canonical
	}

	return r.unavailable.IsUnavailable(endpoint, kind, r.nowFn())
}

func (r *Router) parseRegions(regions []Region) (endpointsByLocation, []string) {
	byLocation, orderedLocations := parseRegions(r.logger, regions)

	if r.connectionLimiter != nil {
		for _, location := range orderedLocations {
			endpoint, _ := byLocation.Get(location)
			r.connectionLimiter.SetConnectionLimit(endpoint, r.connectionLimit)
		}
	}

	return byLocation, orderedLocations
}

func (r *Router) update(u locationUpdate) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.nowFn()
	next := r.snapshot.Load().clone()

	if u.PreferredLocations != nil {
		next.PreferredLocations = u.PreferredLocations
	}

	if u.EnableMultipleWriteLocations != nil {
		next.EnableMultipleWriteLocations = *u.EnableMultipleWriteLocations
	}

	r.unavailable.Sweep(now)

	if u.ReadLocations != nil {
		next.ReadEndpointByLocation, next.AvailableReadLocations = r.parseRegions(u.ReadLocations)
	}

	if u.WriteLocations != nil {
		next.WriteEndpointByLocation, next.AvailableWriteLocations = r.parseRegions(u.WriteLocations)
	}

	next.WriteEndpoints = r.rankEndpoints(next,
		next.WriteEndpointByLocation,
		next.AvailableWriteLocations,
		OperationKindWrite,
		r.defaultEndpoint,
		now)
	next.ReadEndpoints = r.rankEndpoints(next,
		next.ReadEndpointByLocation,
		next.AvailableReadLocations,
		OperationKindRead,
		next.WriteEndpoints[0],
		now)

	r.lastUpdateNanos.Store(now.UnixNano())
	r.snapshot.Store(next)

	r.metrics.CacheRebuilds.Add(context.Background(), 1)

	r.logger.Debug("updated location cache",
		zap.Strings("writeEndpoints", next.WriteEndpoints),
		zap.Strings("readEndpoints", next.ReadEndpoints))
}

// currentSnapshot returns the published snapshot, rebuilding it first if
// unavailability records may have expired since the last rebuild.
func (r *Router) currentSnapshot() *locationsSnapshot {
	if r.unavailable.Len() > 0 {
		lastUpdate := time.Unix(0, r.lastUpdateNanos.Load())
		if r.nowFn().Sub(lastUpdate) > r.expiry {
			r.update(locationUpdate{})
		}
	}

	return r.snapshot.Load()
}

// WriteEndpoints returns the write endpoints ordered by preference and
// availability.  The list is never empty.
func (r *Router) WriteEndpoints() []string {
	return slices.Clone(r.currentSnapshot().WriteEndpoints)
}

// ReadEndpoints returns the read endpoints ordered by preference and
// availability.  The list is never empty.
func (r *Router) ReadEndpoints() []string {
	return slices.Clone(r.currentSnapshot().ReadEndpoints)
}

func (r *Router) PreferredLocations() []string {
	return slices.Clone(r.snapshot.Load().PreferredLocations)
}

func (r *Router) AvailableWriteLocations() []string {
	return slices.Clone(r.snapshot.Load().AvailableWriteLocations)
}

func (r *Router) AvailableReadLocations() []string {
	return slices.Clone(r.snapshot.Load().AvailableReadLocations)
}

func (r *Router) DefaultEndpoint() string {
	return r.defaultEndpoint
}

func (r *Router) canUseMultipleWriteLocations(snap *locationsSnapshot) bool {
	return r.useMultipleWriteLocations && snap.EnableMultipleWriteLocations
}

// CanUseMultipleWriteLocations reports whether both the client and the
// account have multi-region writes enabled.
func (r *Router) CanUseMultipleWriteLocations() bool {
	return r.canUseMultipleWriteLocations(r.snapshot.Load())
}

// CanUseMultipleWriteLocationsFor additionally restricts multi-region writes
// to the resource kinds every write region accepts: documents and stored
// procedure execution.
func (r *Router) CanUseMultipleWriteLocationsFor(req *Request) bool {
	if !r.CanUseMultipleWriteLocations() {
		return false
	}

	return req.ResourceType == ResourceTypeDocument ||
		(req.ResourceType == ResourceTypeStoredProcedure && req.OperationType == OperationTypeExecuteJavaScript)
}

func locationOf(byLocation endpointsByLocation, orderedLocations []string, endpoint string) (string, bool) {
	for _, location := range orderedLocations {
		if locEndpoint, ok := byLocation.Get(location); ok && locEndpoint == endpoint {
			return location, true
		}
	}
	return "", false
}

// GetLocation returns the region serving endpoint.  For the default endpoint
// of a single-write account this is the primary write region.
func (r *Router) GetLocation(endpoint string) (string, bool) {
	if canonical, err := parseEndpoint(endpoint); err == nil {
		endpoint = canonical
	}

	snap := r.snapshot.Load()

	if location, ok := locationOf(snap.WriteEndpointByLocation, snap.AvailableWriteLocations, endpoint); ok {
		return location, true
	}

	if location, ok := locationOf(snap.ReadEndpointByLocation, snap.AvailableReadLocations, endpoint); ok {
		return location, true
	}

	if endpoint == r.defaultEndpoint && !r.canUseMultipleWriteLocations(snap) {
		if len(snap.AvailableWriteLocations) > 0 {
			return snap.AvailableWriteLocations[0], true
		}
	}

	return "", false
}
