/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package accounttopology

import "context"

// Provider supplies the current account topology.  Watch delivers the
// current topology first and then every change; the channel is closed when
// ctx is cancelled or the provider can no longer observe the account, in
// which case the caller is expected to watch again.
type Provider interface {
	Get(ctx context.Context) (*Topology, error)
	Watch(ctx context.Context) (<-chan *Topology, error)
}
