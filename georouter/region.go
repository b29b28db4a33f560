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
	"net/url"

	"github.com/pkg/errors"
)

// Region is a named deployment of the account along with the endpoint
// serving it.
type Region struct {
	Name     string `json:"name"`
	Endpoint string `json:"databaseAccountEndpoint"`
}

// AccountProperties is the subset of a freshly read account document that
// routing depends on.  Location lists are in backend priority order.
type AccountProperties struct {
	WritableLocations            []Region `json:"writableLocations"`
	ReadableLocations            []Region `json:"readableLocations"`
	EnableMultipleWriteLocations bool     `json:"enableMultipleWriteLocations"`
}

// parseEndpoint validates that the endpoint is an absolute uri and returns
// its canonical string form, which is what all endpoint comparisons use.
func parseEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.New("endpoint is empty")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse endpoint")
	}

	if !u.IsAbs() || u.Host == "" {
		return "", errors.Errorf("endpoint %q is not an absolute uri", endpoint)
	}

	return u.String(), nil
}
