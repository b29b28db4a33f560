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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUnavailabilityTrackerMark(t *testing.T) {
	tracker := newUnavailabilityTracker(zap.NewNop(), time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	info := tracker.Mark("https://a.example.com", OperationKindRead, now)
	assert.Equal(t, OperationKindRead, info.Operations)

	assert.True(t, tracker.IsUnavailable("https://a.example.com", OperationKindRead, now))
	assert.False(t, tracker.IsUnavailable("https://a.example.com", OperationKindWrite, now))
	assert.False(t, tracker.IsUnavailable("https://a.example.com", OperationKindNone, now))
	assert.False(t, tracker.IsUnavailable("https://b.example.com", OperationKindRead, now))

	later := now.Add(10 * time.Second)
	info = tracker.Mark("https://a.example.com", OperationKindWrite, later)
	assert.Equal(t, OperationKindRead|OperationKindWrite, info.Operations)
	assert.Equal(t, later, info.LastUnavailableAt)
	assert.True(t, tracker.IsUnavailable("https://a.example.com", OperationKindWrite, later))
}

func TestUnavailabilityTrackerExpiry(t *testing.T) {
	tracker := newUnavailabilityTracker(zap.NewNop(), time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tracker.Mark("https://a.example.com", OperationKindWrite, now)

	// the window is inclusive of its end
	assert.True(t, tracker.IsUnavailable("https://a.example.com", OperationKindWrite, now.Add(time.Minute)))
	assert.False(t, tracker.IsUnavailable("https://a.example.com", OperationKindWrite, now.Add(time.Minute+time.Nanosecond)))

	// expired records stay until swept
	assert.Equal(t, 1, tracker.Len())
}

func TestUnavailabilityTrackerSweep(t *testing.T) {
	tracker := newUnavailabilityTracker(zap.NewNop(), time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tracker.Mark("https://old.example.com", OperationKindRead, now)
	tracker.Mark("https://new.example.com", OperationKindRead, now.Add(45*time.Second))

	tracker.Sweep(now.Add(90 * time.Second))

	records := tracker.Snapshot()
	require.Len(t, records, 1)
	assert.Contains(t, records, "https://new.example.com")

	// sweeping an empty tracker is a no-op
	tracker.Sweep(now.Add(time.Hour))
	tracker.Sweep(now.Add(2 * time.Hour))
	assert.Equal(t, 0, tracker.Len())
}

func TestUnavailabilityTrackerConcurrentMarks(t *testing.T) {
	tracker := newUnavailabilityTracker(zap.NewNop(), time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			kind := OperationKindRead
			if i%2 == 1 {
				kind = OperationKindWrite
			}
			tracker.Mark("https://a.example.com", kind, now)
		}(i)
	}
	wg.Wait()

	records := tracker.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, OperationKindRead|OperationKindWrite, records["https://a.example.com"].Operations)
}

func TestOperationKind(t *testing.T) {
	both := OperationKindRead | OperationKindWrite

	assert.True(t, both.Has(OperationKindRead))
	assert.True(t, both.Has(OperationKindWrite))
	assert.False(t, OperationKindRead.Has(OperationKindWrite))
	assert.False(t, both.Has(OperationKindNone))

	assert.Equal(t, "read,write", both.String())
	assert.Equal(t, "none", OperationKindNone.String())
}

func TestOperationTypes(t *testing.T) {
	for _, opType := range []OperationType{
		OperationTypeRead, OperationTypeReadFeed, OperationTypeQuery, OperationTypeHead,
	} {
		assert.False(t, opType.IsWrite(), opType.String())
		assert.Equal(t, OperationKindRead, opType.Kind())
	}

	for _, opType := range []OperationType{
		OperationTypeCreate, OperationTypeUpsert, OperationTypeReplace, OperationTypePatch,
		OperationTypeDelete, OperationTypeBatch, OperationTypeExecuteJavaScript,
	} {
		assert.True(t, opType.IsWrite(), opType.String())
		assert.Equal(t, OperationKindWrite, opType.Kind())
	}

	opType, ok := ParseOperationType("executejavascript")
	require.True(t, ok)
	assert.Equal(t, OperationTypeExecuteJavaScript, opType)

	_, ok = ParseOperationType("Teleport")
	assert.False(t, ok)

	resType, ok := ParseResourceType("STOREDPROCEDURE")
	require.True(t, ok)
	assert.Equal(t, ResourceTypeStoredProcedure, resType)
	assert.Equal(t, "StoredProcedure", resType.String())

	_, ok = ParseResourceType("Spaceship")
	assert.False(t, ok)
}
