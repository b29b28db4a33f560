/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package accountconfig

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"

	"github.com/couchbase/gocbcorex/contrib/buildversion"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.uber.org/zap"
)

var userAgent = "stellar-georouter/" + buildversion.GetVersion("github.com/couchbase/stellar-georouter")

type FetcherOptions struct {
	HttpClient *http.Client
	Endpoint   string
	Logger     *zap.Logger
}

type Fetcher struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	if opts.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	httpClient := opts.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		httpClient: httpClient,
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		logger:     logger,
	}, nil
}

func (f *Fetcher) Endpoint() string {
	return f.endpoint
}

func (f *Fetcher) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	ctx = httptrace.WithClientTrace(ctx, otelhttptrace.NewClientTrace(ctx))

	req, err := http.NewRequestWithContext(ctx, method, f.endpoint+path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

func (f *Fetcher) doGetJson(ctx context.Context, path string, data any) error {
	req, err := f.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", req.URL.Redacted())
	}

	defer func() {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)

		err := resp.Body.Close()
		if err != nil {
			f.logger.Error("unexpected close error", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrapf(ErrUnexpectedStatus, "%s returned %d", req.URL.Redacted(), resp.StatusCode)
	}

	err = json.NewDecoder(resp.Body).Decode(data)
	if err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	return nil
}

// FetchAccount reads the account document from the global endpoint.
func (f *Fetcher) FetchAccount(ctx context.Context) (*AccountJson, error) {
	var account AccountJson
	err := f.doGetJson(ctx, "/", &account)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("fetched account document",
		zap.String("endpoint", f.endpoint),
		zap.Int("writableLocations", len(account.WritableLocations)),
		zap.Int("readableLocations", len(account.ReadableLocations)),
		zap.Bool("enableMultipleWriteLocations", account.EnableMultipleWriteLocations))

	return &account, nil
}
