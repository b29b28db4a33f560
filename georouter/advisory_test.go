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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestShouldRefreshEndpoints(t *testing.T) {
	t.Run("DiscoveryDisabled", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations:       []string{"West US"},
			DisableEndpointDiscovery: true,
		})

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.False(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("PreferredLocationNotYetKnown", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations: []string{"West US"},
		})

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("UpToDate", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations: []string{"West US"},
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{eastUS},
			ReadableLocations: []Region{westUS, eastUS},
		})

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.False(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("ClientWantsMultiWriteAccountDoesNot", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations:        []string{"West US"},
			UseMultipleWriteLocations: true,
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{eastUS},
			ReadableLocations: []Region{westUS, eastUS},
		})

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("AccountWantsMultiWriteClientDoesNot", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations: []string{"West US"},
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations:            []Region{westUS, eastUS},
			ReadableLocations:            []Region{westUS, eastUS},
			EnableMultipleWriteLocations: true,
		})

		shouldRefresh, _ := r.ShouldRefreshEndpoints()
		assert.False(t, shouldRefresh)
	})

	t.Run("SoleReadEndpointUnavailable", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{westUS},
			ReadableLocations: []Region{westUS},
		})
		r.MarkEndpointUnavailableForRead(testWestEndpoint)

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.False(t, canRefreshInBackground)
	})

	t.Run("PreferredReadEndpointDemoted", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations: []string{"West US", "East US"},
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{eastUS},
			ReadableLocations: []Region{westUS, eastUS},
		})
		r.MarkEndpointUnavailableForRead(testWestEndpoint)
		require.Equal(t, testEastEndpoint, r.ReadEndpoints()[0])

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("FirstWriteEndpointUnavailable", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{eastUS, westUS},
			ReadableLocations: []Region{eastUS, westUS},
		})
		r.MarkEndpointUnavailableForWrite(testEastEndpoint)

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("SoleWriteEndpointUnavailable", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{})
		r.OnAccountRead(&AccountProperties{
			WritableLocations: []Region{eastUS},
			ReadableLocations: []Region{eastUS, westUS},
		})
		r.MarkEndpointUnavailableForWrite(testEastEndpoint)

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.False(t, canRefreshInBackground)
	})

	t.Run("PreferredWriteEndpointDemoted", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations:        []string{"West US"},
			UseMultipleWriteLocations: true,
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations:            []Region{eastUS, westUS},
			ReadableLocations:            []Region{eastUS, westUS},
			EnableMultipleWriteLocations: true,
		})

		shouldRefresh, _ := r.ShouldRefreshEndpoints()
		require.False(t, shouldRefresh)

		r.MarkEndpointUnavailableForWrite(testWestEndpoint)
		require.Equal(t, []string{testDefaultEndpoint, testWestEndpoint}, r.WriteEndpoints())

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})

	t.Run("PreferredLocationNotWritable", func(t *testing.T) {
		r, _ := newTestRouter(t, &RouterOptions{
			PreferredLocations:        []string{"West US"},
			UseMultipleWriteLocations: true,
		})
		r.OnAccountRead(&AccountProperties{
			WritableLocations:            []Region{eastUS},
			ReadableLocations:            []Region{westUS, eastUS},
			EnableMultipleWriteLocations: true,
		})

		shouldRefresh, canRefreshInBackground := r.ShouldRefreshEndpoints()
		assert.True(t, shouldRefresh)
		assert.True(t, canRefreshInBackground)
	})
}

func TestShouldRefreshEndpointsHasNoSideEffects(t *testing.T) {
	r, clock := newTestRouter(t, &RouterOptions{
		UnavailableLocationsExpirationTime: time.Minute,
	})
	r.OnAccountRead(&AccountProperties{
		WritableLocations: []Region{eastUS, westUS},
		ReadableLocations: []Region{eastUS, westUS},
	})
	r.MarkEndpointUnavailableForWrite(testEastEndpoint)
	lastUpdate := r.lastUpdateNanos.Load()

	clock.Advance(2 * time.Minute)

	shouldRefresh, _ := r.ShouldRefreshEndpoints()
	assert.False(t, shouldRefresh)
	assert.Equal(t, lastUpdate, r.lastUpdateNanos.Load())
	assert.Equal(t, 1, r.unavailable.Len())
}

func TestDiagnostics(t *testing.T) {
	r, clock := newTestRouter(t, &RouterOptions{
		PreferredLocations:                 []string{"West US", "East US"},
		UseMultipleWriteLocations:          true,
		UnavailableLocationsExpirationTime: time.Minute,
	})
	r.OnAccountRead(&AccountProperties{
		WritableLocations:            []Region{eastUS, westUS},
		ReadableLocations:            []Region{eastUS, westUS},
		EnableMultipleWriteLocations: true,
	})

	r.MarkEndpointUnavailableForWrite(testWestEndpoint)
	markedAt := clock.Now()
	r.MarkEndpointUnavailableForRead(testEastEndpoint)

	diag := r.Diagnostics()
	assert.Equal(t, testDefaultEndpoint, diag.DefaultEndpoint)
	assert.True(t, diag.EndpointDiscoveryEnabled)
	assert.True(t, diag.UseMultipleWriteLocations)
	assert.True(t, diag.AccountMultipleWriteLocations)
	assert.Equal(t, []string{"West US", "East US"}, diag.PreferredLocations)
	assert.Equal(t, []string{"East US", "West US"}, diag.AvailableWriteLocations)
	assert.Equal(t, []string{testEastEndpoint, testWestEndpoint}, diag.WriteEndpoints)
	assert.Equal(t, []string{testWestEndpoint, testEastEndpoint}, diag.ReadEndpoints)
	assert.True(t, markedAt.Equal(diag.LastUpdated))

	require.Len(t, diag.UnavailableEndpoints, 2)
	assert.Equal(t, UnavailableEndpoint{
		Endpoint:          testEastEndpoint,
		Operations:        "read",
		LastUnavailableAt: markedAt,
	}, diag.UnavailableEndpoints[0])
	assert.Equal(t, testWestEndpoint, diag.UnavailableEndpoints[1].Endpoint)
	assert.Equal(t, "write", diag.UnavailableEndpoints[1].Operations)

	clock.Advance(2 * time.Minute)
	diag = r.Diagnostics()
	assert.Empty(t, diag.UnavailableEndpoints)
}

func TestRouterDefaultsToNopLogger(t *testing.T) {
	r, err := New(&RouterOptions{DefaultEndpoint: testDefaultEndpoint})
	require.NoError(t, err)

	assert.Equal(t, zap.NewNop().Core(), r.logger.Core())
	assert.Equal(t, DefaultUnavailableLocationsExpirationTime, r.expiry)
}
