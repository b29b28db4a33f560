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
	"sync"

	"github.com/couchbase/stellar-georouter/utils/latestonlychannel"
)

type StaticProviderOptions struct {
	Topology *Topology
}

// StaticProvider serves a topology held in memory.  Update pushes the new
// topology to every active watcher.
type StaticProvider struct {
	lock     sync.Mutex
	topology *Topology
	watchers []chan<- *Topology
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(opts StaticProviderOptions) *StaticProvider {
	topology := opts.Topology
	if topology == nil {
		topology = &Topology{}
	}

	return &StaticProvider{
		topology: topology,
	}
}

func (p *StaticProvider) Get(ctx context.Context) (*Topology, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.topology, nil
}

func (p *StaticProvider) Update(topology *Topology) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.topology = topology
	for _, watcher := range p.watchers {
		watcher <- topology
	}
}

func (p *StaticProvider) Watch(ctx context.Context) (<-chan *Topology, error) {
	inputCh, outputCh := latestonlychannel.Pipe[*Topology]()

	p.lock.Lock()
	inputCh <- p.topology
	p.watchers = append(p.watchers, inputCh)
	p.lock.Unlock()

	go func() {
		<-ctx.Done()

		p.lock.Lock()
		for idx, watcher := range p.watchers {
			if watcher == inputCh {
				p.watchers = append(p.watchers[:idx], p.watchers[idx+1:]...)
				break
			}
		}
		p.lock.Unlock()

		close(inputCh)
	}()

	return outputCh, nil
}
