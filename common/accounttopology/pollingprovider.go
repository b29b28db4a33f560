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
	"context"
	"time"

	"github.com/couchbase/stellar-georouter/contrib/accountconfig"
	"github.com/couchbase/stellar-georouter/utils/latestonlychannel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultPollInterval = 5 * time.Minute

type PollingProviderOptions struct {
	Logger       *zap.Logger
	Fetcher      *accountconfig.Fetcher
	PollInterval time.Duration
}

type PollingProvider struct {
	logger       *zap.Logger
	fetcher      *accountconfig.Fetcher
	pollInterval time.Duration
}

var _ Provider = (*PollingProvider)(nil)

func NewPollingProvider(opts PollingProviderOptions) (*PollingProvider, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("a fetcher must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &PollingProvider{
		logger:       logger,
		fetcher:      opts.Fetcher,
		pollInterval: pollInterval,
	}, nil
}

func (p *PollingProvider) Get(ctx context.Context) (*Topology, error) {
	account, err := p.fetcher.FetchAccount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch account topology")
	}

	return TopologyFromAccount(account), nil
}

func (p *PollingProvider) Watch(ctx context.Context) (<-chan *Topology, error) {
	topology, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}

	inputCh, outputCh := latestonlychannel.Pipe[*Topology]()
	inputCh <- topology

	lastTopology := topology

	go func() {
		defer close(inputCh)

		for {
			select {
			case <-time.After(p.pollInterval):
			case <-ctx.Done():
				return
			}

			topology, err := p.Get(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("failed to poll account topology", zap.Error(err))
				}
				return
			}

			// only changes in content are interesting to watchers
			if !topology.Equals(lastTopology) {
				inputCh <- topology
				lastTopology = topology
			}
		}
	}()

	return outputCh, nil
}
