/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package accounttopology

import (
	"github.com/couchbase/stellar-georouter/contrib/accountconfig"
	"github.com/couchbase/stellar-georouter/georouter"
	"golang.org/x/exp/slices"
)

type Region struct {
	Name     string
	Endpoint string
}

// Topology is the routing-relevant view of an account.  Region lists keep
// the order the backend reported them in.
type Topology struct {
	WritableRegions              []Region
	ReadableRegions              []Region
	EnableMultipleWriteLocations bool
}

func (t *Topology) Equals(other *Topology) bool {
	if t == nil || other == nil {
		return t == other
	}

	return t.EnableMultipleWriteLocations == other.EnableMultipleWriteLocations &&
		slices.Equal(t.WritableRegions, other.WritableRegions) &&
		slices.Equal(t.ReadableRegions, other.ReadableRegions)
}

func toRouterRegions(regions []Region) []georouter.Region {
	out := make([]georouter.Region, len(regions))
	for idx, region := range regions {
		out[idx] = georouter.Region{
			Name:     region.Name,
			Endpoint: region.Endpoint,
		}
	}
	return out
}

// AccountProperties converts the topology into the router's input.  The
// region lists are always non-nil so that applying a topology with no
// regions clears the router's view rather than keeping the old one.
func (t *Topology) AccountProperties() *georouter.AccountProperties {
	return &georouter.AccountProperties{
		WritableLocations:            toRouterRegions(t.WritableRegions),
		ReadableLocations:            toRouterRegions(t.ReadableRegions),
		EnableMultipleWriteLocations: t.EnableMultipleWriteLocations,
	}
}

func parseRegions(regions []accountconfig.RegionJson) []Region {
	out := make([]Region, len(regions))
	for idx, region := range regions {
		out[idx] = Region{
			Name:     region.Name,
			Endpoint: region.DatabaseAccountEndpoint,
		}
	}
	return out
}

func TopologyFromAccount(account *accountconfig.AccountJson) *Topology {
	return &Topology{
		WritableRegions:              parseRegions(account.WritableLocations),
		ReadableRegions:              parseRegions(account.ReadableLocations),
		EnableMultipleWriteLocations: account.EnableMultipleWriteLocations,
	}
}
