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
	"time"

	"golang.org/x/exp/slices"
)

// rankEndpoints computes the ordered endpoints to try for one kind of
// operation.  The result never contains duplicates and is never empty.
//
// Preferred locations drive the order for reads, and for writes only when
// multi-region writes are in effect.  Otherwise writes follow the backend's
// own ordering of write regions, which already encodes failover state.
func (r *Router) rankEndpoints(
	snap *locationsSnapshot,
	byLocation endpointsByLocation,
	orderedLocations []string,
	expected OperationKind,
	fallbackEndpoint string,
	now time.Time,
) []string {
	endpoints := make([]string, 0, len(orderedLocations)+1)

	// with discovery disabled we only ever talk to the fallback
	if r.enableEndpointDiscovery {
		if r.canUseMultipleWriteLocations(snap) || expected.Has(OperationKindRead) {
			var unavailableEndpoints []string

			for _, location := range snap.PreferredLocations {
				endpoint, ok := byLocation.Get(location)
				if !ok {
					continue
				}

				if slices.Contains(endpoints, endpoint) || slices.Contains(unavailableEndpoints, endpoint) {
					continue
				}

				if r.unavailable.IsUnavailable(endpoint, expected, now) {
					unavailableEndpoints = append(unavailableEndpoints, endpoint)
				} else {
					endpoints = append(endpoints, endpoint)
				}
			}

			if len(endpoints) == 0 {
				endpoints = append(endpoints, fallbackEndpoint)
				if idx := slices.Index(unavailableEndpoints, fallbackEndpoint); idx >= 0 {
					unavailableEndpoints = slices.Delete(unavailableEndpoints, idx, idx+1)
				}
			}

			// unavailable endpoints are deprioritized, never dropped
			endpoints = append(endpoints, unavailableEndpoints...)
		} else {
			for _, location := range orderedLocations {
				// location names are empty during a manual failover
				if location == "" {
					continue
				}

				endpoint, ok := byLocation.Get(location)
				if ok && !slices.Contains(endpoints, endpoint) {
					endpoints = append(endpoints, endpoint)
				}
			}
		}
	}

	if len(endpoints) == 0 {
		endpoints = append(endpoints, fallbackEndpoint)
	}

	return endpoints
}
