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
	"time"

	"golang.org/x/exp/slices"
)

type UnavailableEndpoint struct {
	Endpoint          string    `json:"endpoint"`
	Operations        string    `json:"operations"`
	LastUnavailableAt time.Time `json:"lastUnavailableAt"`
	Expired           bool      `json:"expired"`
}

// Diagnostics is a point-in-time view of the router's state.
type Diagnostics struct {
	DefaultEndpoint               string                `json:"defaultEndpoint"`
	EndpointDiscoveryEnabled      bool                  `json:"endpointDiscoveryEnabled"`
	UseMultipleWriteLocations     bool                  `json:"useMultipleWriteLocations"`
	AccountMultipleWriteLocations bool                  `json:"accountMultipleWriteLocations"`
	PreferredLocations            []string              `json:"preferredLocations"`
	AvailableWriteLocations       []string              `json:"availableWriteLocations"`
	AvailableReadLocations        []string              `json:"availableReadLocations"`
	WriteEndpoints                []string              `json:"writeEndpoints"`
	ReadEndpoints                 []string              `json:"readEndpoints"`
	UnavailableEndpoints          []UnavailableEndpoint `json:"unavailableEndpoints"`
	ShouldRefresh                 bool                  `json:"shouldRefresh"`
	CanRefreshInBackground        bool                  `json:"canRefreshInBackground"`
	LastUpdated                   time.Time             `json:"lastUpdated"`
}

func (r *Router) Diagnostics() *Diagnostics {
	snap := r.currentSnapshot()
	now := r.nowFn()

	records := r.unavailable.Snapshot()
	unavailableEndpoints := make([]UnavailableEndpoint, 0, len(records))
	for endpoint, info := range records {
		unavailableEndpoints = append(unavailableEndpoints, UnavailableEndpoint{
			Endpoint:          endpoint,
			Operations:        info.Operations.String(),
			LastUnavailableAt: info.LastUnavailableAt,
			Expired:           r.unavailable.isExpired(info, now),
		})
	}
	slices.SortFunc(unavailableEndpoints, func(a, b UnavailableEndpoint) int {
		return strings.Compare(a.Endpoint, b.Endpoint)
	})

	shouldRefresh, canRefreshInBackground, _ := r.shouldRefreshEndpoints()

	var lastUpdated time.Time
	if nanos := r.lastUpdateNanos.Load(); nanos != 0 {
		lastUpdated = time.Unix(0, nanos)
	}

	return &Diagnostics{
		DefaultEndpoint:               r.defaultEndpoint,
		EndpointDiscoveryEnabled:      r.enableEndpointDiscovery,
		UseMultipleWriteLocations:     r.useMultipleWriteLocations,
		AccountMultipleWriteLocations: snap.EnableMultipleWriteLocations,
		PreferredLocations:            slices.Clone(snap.PreferredLocations),
		AvailableWriteLocations:       slices.Clone(snap.AvailableWriteLocations),
		AvailableReadLocations:        slices.Clone(snap.AvailableReadLocations),
		WriteEndpoints:                slices.Clone(snap.WriteEndpoints),
		ReadEndpoints:                 slices.Clone(snap.ReadEndpoints),
		UnavailableEndpoints:          unavailableEndpoints,
		ShouldRefresh:                 shouldRefresh,
		CanRefreshInBackground:        canRefreshInBackground,
		LastUpdated:                   lastUpdated,
	}
}
