/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbase/gocbcorex/contrib/buildversion"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type RouterMetrics struct {
	EndpointsMarkedUnavailable metric.Int64Counter
	CacheRebuilds              metric.Int64Counter
	RequestsResolved           metric.Int64Counter
	RefreshesAdvised           metric.Int64Counter
	AccountRefreshes           metric.Int64Counter
}

var (
	routerMetrics     *RouterMetrics
	routerMetricsLock sync.Mutex
)

func GetRouterMetrics() *RouterMetrics {
	routerMetricsLock.Lock()

	if routerMetrics != nil {
		routerMetricsLock.Unlock()
		return routerMetrics
	}

	routerMetrics = newRouterMetrics()

	routerMetricsLock.Unlock()
	return routerMetrics
}

var buildVersion string = buildversion.GetVersion("github.com/couchbase/stellar-georouter")

func newRouterMetrics() *RouterMetrics {
	meter := otel.Meter(
		"com.couchbase.stellar-georouter",
		metric.WithInstrumentationVersion(buildVersion))

	endpointsMarkedUnavailable, _ := meter.Int64Counter("georouter_endpoint_unavailable_total",
		metric.WithDescription("Number of times an endpoint was reported unavailable."))
	cacheRebuilds, _ := meter.Int64Counter("georouter_cache_rebuilds_total",
		metric.WithDescription("Number of routing snapshot rebuilds."))
	requestsResolved, _ := meter.Int64Counter("georouter_resolved_total",
		metric.WithDescription("Number of requests resolved to an endpoint."))
	refreshesAdvised, _ := meter.Int64Counter("georouter_refresh_advised_total",
		metric.WithDescription("Number of times an account refresh was advised."))
	accountRefreshes, _ := meter.Int64Counter("georouter_account_refreshes_total",
		metric.WithDescription("Number of account topology refreshes performed."))

	return &RouterMetrics{
		EndpointsMarkedUnavailable: endpointsMarkedUnavailable,
		CacheRebuilds:              cacheRebuilds,
		RequestsResolved:           requestsResolved,
		RefreshesAdvised:           refreshesAdvised,
		AccountRefreshes:           accountRefreshes,
	}
}
