/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package georouter

import "github.com/google/uuid"

// Request carries the routing intent of a single outgoing operation.  A
// Request is owned by one pipeline at a time and is not safe for concurrent
// mutation; the router only writes the resolved endpoint back onto it.
type Request struct {
	ActivityID    uuid.UUID
	OperationType OperationType
	ResourceType  ResourceType

	locationEndpointToRoute string
	locationIndexToRoute    int
	skipPreferredLocations  bool
}

func NewRequest(opType OperationType, resType ResourceType) *Request {
	return &Request{
		ActivityID:    uuid.New(),
		OperationType: opType,
		ResourceType:  resType,
	}
}

// IsWrite is a shorthand for r.OperationType.IsWrite().
func (r *Request) IsWrite() bool {
	return r.OperationType.IsWrite()
}

// RouteToLocationIndex asks the router to pick the endpoint at the given
// position rather than the most preferred one.  Retry policies bump the
// index to move a request on to the next region.  Any previously resolved
// endpoint is discarded.
func (r *Request) RouteToLocationIndex(locationIndex int, usePreferredLocations bool) {
	r.locationIndexToRoute = locationIndex
	r.skipPreferredLocations = !usePreferredLocations
	r.locationEndpointToRoute = ""
}

// RouteToLocation pins the request to an explicit endpoint.  Resolve will
// return it unchanged until ClearRouteToLocation is called.
func (r *Request) RouteToLocation(endpoint string) {
	r.locationEndpointToRoute = endpoint
}

func (r *Request) ClearRouteToLocation() {
	r.locationEndpointToRoute = ""
}

// LocationEndpointToRoute returns the endpoint the request is pinned to, or
// the empty string if it has not been resolved yet.
func (r *Request) LocationEndpointToRoute() string {
	return r.locationEndpointToRoute
}

func (r *Request) LocationIndexToRoute() int {
	return r.locationIndexToRoute
}

func (r *Request) UsePreferredLocations() bool {
	return !r.skipPreferredLocations
}
