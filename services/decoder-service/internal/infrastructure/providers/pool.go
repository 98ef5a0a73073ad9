package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/resilience"
)

// PoolConfig holds the per-provider settings
type PoolConfig struct {
	EtherscanAPIKey       string
	EtherscanMaxRequests  int
	BlockscoutAPIKey      string
	BlockscoutMaxRequests int
	SourcifyMaxRequests   int
	RequestTimeout        time.Duration
}

// Pool queries the enabled providers for a chain in failover order:
// Etherscan, then Sourcify, then Blockscout. The first successful
// non-empty metadata wins.
type Pool struct {
	config PoolConfig
	logger *logging.Logger

	mu       sync.Mutex
	byChain  map[int64][]Provider
	breakers map[domain.ContractSource]*resilience.CircuitBreaker
}

// NewPool creates a provider pool
func NewPool(config PoolConfig, logger *logging.Logger) *Pool {
	return &Pool{
		config:   config,
		logger:   logger,
		byChain:  make(map[int64][]Provider),
		breakers: make(map[domain.ContractSource]*resilience.CircuitBreaker),
	}
}

// breakerFor returns the provider-wide circuit breaker. A provider that
// keeps failing is skipped across all chains until it cools down.
func (p *Pool) breakerFor(source domain.ContractSource) *resilience.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	breaker, ok := p.breakers[source]
	if !ok {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(string(source)))
		p.breakers[source] = breaker
	}
	return breaker
}

// enabledProviders builds (once per chain) the ordered provider list.
// A provider whose constructor reports the chain as unsupported is
// omitted and logged at warning.
func (p *Pool) enabledProviders(chainID int64) []Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	if providers, ok := p.byChain[chainID]; ok {
		return providers
	}

	var enabled []Provider

	if etherscan, err := NewEtherscanClient(chainID, p.config.EtherscanAPIKey, p.config.EtherscanMaxRequests, p.config.RequestTimeout); err != nil {
		p.logger.WithField("chain_id", chainID).Warnf("Etherscan client is not available: %v", err)
	} else {
		enabled = append(enabled, etherscan)
	}

	if sourcify, err := NewSourcifyClient(chainID, p.config.SourcifyMaxRequests, p.config.RequestTimeout); err != nil {
		p.logger.WithField("chain_id", chainID).Warnf("Sourcify client is not available: %v", err)
	} else {
		enabled = append(enabled, sourcify)
	}

	if blockscout, err := NewBlockscoutClient(chainID, p.config.BlockscoutAPIKey, p.config.BlockscoutMaxRequests, p.config.RequestTimeout); err != nil {
		p.logger.WithField("chain_id", chainID).Warnf("Blockscout client is not available: %v", err)
	} else {
		enabled = append(enabled, blockscout)
	}

	p.byChain[chainID] = enabled
	return enabled
}

// GetContractMetadata asks each enabled provider in order. Transient
// and rate-limit errors advance to the next provider. The result always
// records the requested address and chain; Metadata and Source stay
// empty when nothing was found.
func (p *Pool) GetContractMetadata(ctx context.Context, address common.Address, chainID int64) (*domain.EnhancedContractMetadata, error) {
	enhanced := &domain.EnhancedContractMetadata{
		Address: address,
		ChainID: chainID,
	}

	for _, provider := range p.enabledProviders(chainID) {
		var metadata *domain.ContractMetadata
		err := p.breakerFor(provider.Source()).Execute(ctx, func(ctx context.Context) error {
			var callErr error
			metadata, callErr = provider.GetContractMetadata(ctx, address)
			return callErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return enhanced, err
			}
			p.logger.WithContext(ctx).
				WithField("provider", string(provider.Source())).
				WithField("chain_id", chainID).
				Debugf("Cannot get metadata for contract=%s: %v", address.Hex(), err)
			continue
		}
		if metadata != nil {
			enhanced.Metadata = metadata
			enhanced.Source = provider.Source()
			return enhanced, nil
		}
	}

	return enhanced, nil
}
