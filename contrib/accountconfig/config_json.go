/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package accountconfig

// RegionJson is a single entry of an account's writable or readable
// location list.
type RegionJson struct {
	Name                    string `json:"name"`
	DatabaseAccountEndpoint string `json:"databaseAccountEndpoint"`
}

// AccountJson is the subset of the account document served from the root
// of the global endpoint that describes its regions.
type AccountJson struct {
	ID                           string       `json:"id,omitempty"`
	WritableLocations            []RegionJson `json:"writableLocations"`
	ReadableLocations            []RegionJson `json:"readableLocations"`
	EnableMultipleWriteLocations bool         `json:"enableMultipleWriteLocations"`
}
