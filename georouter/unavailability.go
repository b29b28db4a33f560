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

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// DefaultUnavailableLocationsExpirationTime is how long an endpoint stays
// deprioritized after its last reported failure.
const DefaultUnavailableLocationsExpirationTime = 5 * time.Minute

// unavailabilityInfo is stored by value, every update replaces it whole so
// concurrent readers never see a torn record.
type unavailabilityInfo struct {
	LastUnavailableAt time.Time
	Operations        OperationKind
}

type unavailabilityTracker struct {
	logger  *zap.Logger
	expiry  time.Duration
	entries *xsync.Map[string, unavailabilityInfo]
}

func newUnavailabilityTracker(logger *zap.Logger, expiry time.Duration) *unavailabilityTracker {
	return &unavailabilityTracker{
		logger:  logger,
		expiry:  expiry,
		entries: xsync.NewMap[string, unavailabilityInfo](),
	}
}

// Mark records that endpoint failed for the given kind of operation at now.
// Concurrent marks for the same endpoint are merged rather than lost.
func (t *unavailabilityTracker) Mark(endpoint string, kind OperationKind, now time.Time) unavailabilityInfo {
	info, _ := t.entries.Compute(endpoint, func(old unavailabilityInfo, loaded bool) (unavailabilityInfo, xsync.ComputeOp) {
		if !loaded {
			return unavailabilityInfo{
				LastUnavailableAt: now,
				Operations:        kind,
			}, xsync.UpdateOp
		}

		return unavailabilityInfo{
			LastUnavailableAt: now,
			Operations:        old.Operations | kind,
		}, xsync.UpdateOp
	})

	t.logger.Info("endpoint marked unavailable",
		zap.String("endpoint", endpoint),
		zap.Stringer("operations", info.Operations),
		zap.Time("lastUnavailableAt", info.LastUnavailableAt))

	return info
}

func (t *unavailabilityTracker) isExpired(info unavailabilityInfo, now time.Time) bool {
	return now.Sub(info.LastUnavailableAt) > t.expiry
}

// IsUnavailable reports whether an unexpired record marks the endpoint as
// unavailable for kind.  Expired records are left for Sweep to remove.
func (t *unavailabilityTracker) IsUnavailable(endpoint string, kind OperationKind, now time.Time) bool {
	if kind == OperationKindNone {
		return false
	}

	info, ok := t.entries.Load(endpoint)
	if !ok || !info.Operations.Has(kind) {
		return false
	}

	if t.isExpired(info, now) {
		return false
	}

	return true
}

// Sweep removes every expired record.  The expiry check is repeated inside
// the atomic compute so that an endpoint re-marked while we iterate survives.
func (t *unavailabilityTracker) Sweep(now time.Time) {
	if t.entries.Size() == 0 {
		return
	}

	var expired []string
	t.entries.Range(func(endpoint string, info unavailabilityInfo) bool {
		if t.isExpired(info, now) {
			expired = append(expired, endpoint)
		}
		return true
	})

	for _, endpoint := range expired {
		var removed unavailabilityInfo
		wasRemoved := false
		t.entries.Compute(endpoint, func(old unavailabilityInfo, loaded bool) (unavailabilityInfo, xsync.ComputeOp) {
			if !loaded || !t.isExpired(old, now) {
				return old, xsync.CancelOp
			}

			removed = old
			wasRemoved = true
			return old, xsync.DeleteOp
		})

		if wasRemoved {
			t.logger.Info("removed expired endpoint unavailability",
				zap.String("endpoint", endpoint),
				zap.Stringer("operations", removed.Operations))
		}
	}
}

func (t *unavailabilityTracker) Len() int {
	return t.entries.Size()
}

// Snapshot copies out the current records, expired ones included.
func (t *unavailabilityTracker) Snapshot() map[string]unavailabilityInfo {
	out := make(map[string]unavailabilityInfo, t.entries.Size())
	t.entries.Range(func(endpoint string, info unavailabilityInfo) bool {
		out[endpoint] = info
		return true
	})
	return out
}
