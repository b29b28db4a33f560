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

// ShouldRefreshEndpoints reports whether the cached account topology looks
// stale, and if so whether the refresh can happen in the background (there
// is another endpoint to keep serving traffic from meanwhile).  It performs
// no I/O and does not rebuild the snapshot.
func (r *Router) ShouldRefreshEndpoints() (shouldRefresh bool, canRefreshInBackground bool) {
	shouldRefresh, canRefreshInBackground, reason := r.shouldRefreshEndpoints()

	if shouldRefresh {
		r.metrics.RefreshesAdvised.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("background", canRefreshInBackground)))

		r.logger.Debug("endpoint refresh advised",
			zap.String("reason", reason),
			zap.Bool("canRefreshInBackground", canRefreshInBackground))
	}

	return shouldRefresh, canRefreshInBackground
}

func (r *Router) shouldRefreshEndpoints() (bool, bool, string) {
	if !r.enableEndpointDiscovery {
		return false, true, ""
	}

	snap := r.snapshot.Load()
	now := r.nowFn()

	mostPreferredLocation := ""
	if len(snap.PreferredLocations) > 0 {
		mostPreferredLocation = snap.PreferredLocations[0]
	}

	// the client opted into multi-region writes but the account has not
	multiWriteMismatch := r.useMultipleWriteLocations && !snap.EnableMultipleWriteLocations

	readEndpoints := snap.ReadEndpoints
	if r.unavailable.IsUnavailable(readEndpoints[0], OperationKindRead, now) {
		return true, len(readEndpoints) > 1,
			"first read endpoint is unavailable for reads"
	}

	if mostPreferredLocation != "" {
		mostPreferredReadEndpoint, ok := snap.ReadEndpointByLocation.Get(mostPreferredLocation)
		if !ok {
			return true, true,
				"most preferred location is not an available read location"
		}

		if mostPreferredReadEndpoint != readEndpoints[0] {
			return true, true,
				"most preferred location is not the first read endpoint"
		}
	}

	writeEndpoints := snap.WriteEndpoints
	if !r.canUseMultipleWriteLocations(snap) {
		if r.unavailable.IsUnavailable(writeEndpoints[0], OperationKindWrite, now) {
			return true, len(writeEndpoints) > 1,
				"first write endpoint is unavailable for writes"
		}

		return multiWriteMismatch, true,
			"multiple write locations are not enabled on the account"
	}

	if mostPreferredLocation != "" {
		mostPreferredWriteEndpoint, ok := snap.WriteEndpointByLocation.Get(mostPreferredLocation)
		if !ok {
			return true, true,
				"most preferred location is not an available write location"
		}

		if mostPreferredWriteEndpoint != writeEndpoints[0] {
			return true, true,
				"most preferred location is not the first write endpoint"
		}
	}

	return multiWriteMismatch, true, ""
}
