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
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

type locationEndpoint struct {
	Name     string
	Endpoint string
}

// endpointsByLocation maps a lower-cased region name to its endpoint.
type endpointsByLocation map[string]locationEndpoint

func locationKey(name string) string {
	return strings.ToLower(name)
}

func (m endpointsByLocation) Get(name string) (string, bool) {
	loc, ok := m[locationKey(name)]
	if !ok {
		return "", false
	}
	return loc.Endpoint, true
}

// locationsSnapshot is never modified once published.  Updates build a new
// snapshot from a shallow clone of the previous one.
type locationsSnapshot struct {
	PreferredLocations      []string
	AvailableWriteLocations []string
	AvailableReadLocations  []string
	WriteEndpointByLocation endpointsByLocation
	ReadEndpointByLocation  endpointsByLocation
	WriteEndpoints          []string
	ReadEndpoints           []string

	// the account-side multi-write setting from the latest account read
	EnableMultipleWriteLocations bool
}

func newLocationsSnapshot(preferredLocations []string, defaultEndpoint string) *locationsSnapshot {
	return &locationsSnapshot{
		PreferredLocations:      preferredLocations,
		AvailableWriteLocations: nil,
		AvailableReadLocations:  nil,
		WriteEndpointByLocation: endpointsByLocation{},
		ReadEndpointByLocation:  endpointsByLocation{},
		WriteEndpoints:          []string{defaultEndpoint},
		ReadEndpoints:           []string{defaultEndpoint},
	}
}

func (s *locationsSnapshot) clone() *locationsSnapshot {
	next := *s
	return &next
}

type atomicLocationsSnapshot struct {
	value atomic.Pointer[locationsSnapshot]
}

func (t *atomicLocationsSnapshot) Load() *locationsSnapshot {
	return t.value.Load()
}

func (t *atomicLocationsSnapshot) Store(new *locationsSnapshot) {
	t.value.Store(new)
}

// parseRegions builds the case-insensitive endpoint map for a region list and
// the ordered names of the regions that were usable.  Bad entries are logged
// and skipped.
func parseRegions(logger *zap.Logger, regions []Region) (endpointsByLocation, []string) {
	byLocation := make(endpointsByLocation, len(regions))
	orderedLocations := make([]string, 0, len(regions))

	for _, region := range regions {
		if region.Name == "" {
			logger.Warn("skipping region with an empty name",
				zap.String("endpoint", region.Endpoint))
			continue
		}

		endpoint, err := parseEndpoint(region.Endpoint)
		if err != nil {
			logger.Warn("skipping region with a malformed endpoint",
				zap.String("location", region.Name),
				zap.String("endpoint", region.Endpoint),
				zap.Error(err))
			continue
		}

		key := locationKey(region.Name)
		if _, ok := byLocation[key]; ok {
			logger.Warn("skipping duplicate region",
				zap.String("location", region.Name),
				zap.String("endpoint", endpoint))
			continue
		}

		byLocation[key] = locationEndpoint{
			Name:     region.Name,
			Endpoint: endpoint,
		}
		orderedLocations = append(orderedLocations, region.Name)
	}

	return byLocation, orderedLocations
}
