/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package georouter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// positiveMod is a % n normalized into [0, n).
func positiveMod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// ResolveServiceEndpoint picks the endpoint req should be sent to and records
// it on the request.  It never fails; without any usable region it returns
// the default endpoint.
//
// Writes that cannot fan out across write regions (non-document resources,
// or any write when multi-region writes are off) and requests that opt out
// of preferred locations alternate between the first and second write
// regions reported by the account.  Those are the only regions that accept
// such writes during a manual failover.  Everything else is served from the
// ranked endpoint lists.
func (r *Router) ResolveServiceEndpoint(req *Request) string {
	if endpoint := req.LocationEndpointToRoute(); endpoint != "" {
		return endpoint
	}

	locationIndex := req.LocationIndexToRoute()
	endpoint := r.defaultEndpoint
	route := "preferred"

	if !req.UsePreferredLocations() || (req.IsWrite() && !r.CanUseMultipleWriteLocationsFor(req)) {
		route = "failover"

		snap := r.snapshot.Load()
		if r.enableEndpointDiscovery && len(snap.AvailableWriteLocations) > 0 {
			locationIndex = min(positiveMod(locationIndex, 2), len(snap.AvailableWriteLocations)-1)
			writeLocation := snap.AvailableWriteLocations[locationIndex]
			if locEndpoint, ok := snap.WriteEndpointByLocation.Get(writeLocation); ok {
				endpoint = locEndpoint
			}
		}
	} else {
		snap := r.currentSnapshot()

		endpoints := snap.ReadEndpoints
		if req.IsWrite() {
			endpoints = snap.WriteEndpoints
		}

		endpoint = endpoints[positiveMod(locationIndex, len(endpoints))]
	}

	req.RouteToLocation(endpoint)

	r.metrics.RequestsResolved.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("operation", req.OperationType.Kind().String()),
			attribute.String("route", route)))

	if ce := r.logger.Check(zap.DebugLevel, "resolved service endpoint"); ce != nil {
		ce.Write(
			zap.Stringer("activityId", req.ActivityID),
			zap.Stringer("operationType", req.OperationType),
			zap.Stringer("resourceType", req.ResourceType),
			zap.Int("locationIndex", req.LocationIndexToRoute()),
			zap.String("route", route),
			zap.String("endpoint", endpoint))
	}

	return endpoint
}
