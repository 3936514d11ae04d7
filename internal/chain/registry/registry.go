package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"chain-custody/internal/chain"
	"chain-custody/internal/chain/ethereum"
	"chain-custody/internal/chain/solana"
	"chain-custody/internal/chain/ton"
	xerrors "chain-custody/internal/errors"
)

// Registry resolves chain identifiers to lazily constructed, reusable
// adapter instances. Chains without an enabled definition resolve to
// UNSUPPORTED_CHAIN, which is how an absent TON endpoint disables the chain
// without a runtime crash.
type Registry struct {
	defs    chain.Definitions
	timeout time.Duration

	mu       sync.Mutex
	adapters map[chain.Chain]chain.Adapter
}

// New builds a registry from loaded chain definitions. No adapter is dialed
// until first use.
func New(defs chain.Definitions, rpcTimeout time.Duration) *Registry {
	return &Registry{
		defs:     defs,
		timeout:  rpcTimeout,
		adapters: make(map[chain.Chain]chain.Adapter),
	}
}

// Adapter returns the adapter for the chain, constructing it on first use.
func (r *Registry) Adapter(id chain.Chain) (chain.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[id]; ok {
		return adapter, nil
	}

	def, ok := r.defs.Chains[string(id)]
	if !ok || !def.Enabled {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "",
			xerrors.WithMetadata("chain", string(id)))
	}

	adapter, err := r.construct(id, def)
	if err != nil {
		return nil, err
	}
	r.adapters[id] = adapter
	return adapter, nil
}

func (r *Registry) construct(id chain.Chain, def chain.Definition) (chain.Adapter, error) {
	switch id {
	case chain.Solana:
		return solana.New(solana.Config{RPCURL: def.RPCURL, Timeout: r.timeout})
	case chain.Ethereum:
		return ethereum.New(context.Background(), ethereum.Config{RPCURL: def.RPCURL, Timeout: r.timeout})
	case chain.Ton:
		return ton.New(ton.Config{RPCURL: def.RPCURL, Timeout: r.timeout})
	default:
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "",
			xerrors.WithMetadata("chain", string(id)))
	}
}

// Chains returns the enabled chain identifiers in stable order.
func (r *Registry) Chains() []chain.Chain {
	ids := make([]chain.Chain, 0, len(r.defs.Chains))
	for name, def := range r.defs.Chains {
		if !def.Enabled {
			continue
		}
		if id, ok := chain.Parse(name); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every constructed adapter.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, adapter := range r.adapters {
		if adapter != nil {
			adapter.Close()
		}
		delete(r.adapters, id)
	}
}
