package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// MetadataFetcher asks upstream block explorers about a contract.
// Implemented by the provider pool.
type MetadataFetcher interface {
	GetContractMetadata(ctx context.Context, address common.Address, chainID int64) (*domain.EnhancedContractMetadata, error)
}

// AttemptGate is the negative cache deciding whether a download may be
// attempted at all.
type AttemptGate interface {
	ShouldAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) bool
	MarkShouldNotAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) error
}

// ResponseInvalidator drops cached endpoint responses for an address
type ResponseInvalidator interface {
	Invalidate(ctx context.Context, address common.Address) error
}

var sourceURLs = map[domain.ContractSource]string{
	domain.SourceEtherscan:  "https://etherscan.io",
	domain.SourceSourcify:   "https://sourcify.dev",
	domain.SourceBlockscout: "https://blockscout.com",
}

// ContractMetadataService ensures metadata for (address, chain) is
// either known or its retry budget consumed. Operations are idempotent:
// get-or-create rows, content-addressed ABIs and a monotone retry
// counter make at-least-once task delivery safe.
type ContractMetadataService struct {
	contractRepo  domain.ContractRepository
	abiRepo       domain.AbiRepository
	abiSourceRepo domain.AbiSourceRepository
	fetcher       MetadataFetcher
	attemptGate   AttemptGate
	responseCache ResponseInvalidator
	enqueuer      domain.TaskEnqueuer
	maxRetries    int
	logger        *logging.Logger
}

// NewContractMetadataService wires the metadata pipeline
func NewContractMetadataService(
	contractRepo domain.ContractRepository,
	abiRepo domain.AbiRepository,
	abiSourceRepo domain.AbiSourceRepository,
	fetcher MetadataFetcher,
	attemptGate AttemptGate,
	responseCache ResponseInvalidator,
	enqueuer domain.TaskEnqueuer,
	maxRetries int,
	logger *logging.Logger,
) *ContractMetadataService {
	return &ContractMetadataService{
		contractRepo:  contractRepo,
		abiRepo:       abiRepo,
		abiSourceRepo: abiSourceRepo,
		fetcher:       fetcher,
		attemptGate:   attemptGate,
		responseCache: responseCache,
		enqueuer:      enqueuer,
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

// ShouldAttemptDownload consults the negative cache first and falls
// back to the store. An exhausted retry budget or an already assigned
// ABI parks the address in the cache so later calls skip the store too.
func (s *ContractMetadataService) ShouldAttemptDownload(ctx context.Context, address common.Address, chainID int64) (bool, error) {
	if !s.attemptGate.ShouldAttempt(ctx, address, chainID, s.maxRetries) {
		return false, nil
	}

	contract, err := s.contractRepo.Get(ctx, address, chainID)
	if err != nil {
		return false, err
	}
	if contract != nil && (contract.FetchRetries > s.maxRetries || contract.HasAbi()) {
		if err := s.attemptGate.MarkShouldNotAttempt(ctx, address, chainID, s.maxRetries); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to write negative attempt cache")
		}
		return false, nil
	}
	return true, nil
}

// ProcessMetadata runs one download attempt for (address, chain):
// gate, fetch, persist, invalidate, and chase the proxy implementation
// through the task queue.
func (s *ContractMetadataService) ProcessMetadata(ctx context.Context, address common.Address, chainID int64, skipAttemptCheck bool) error {
	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"address":  address.Hex(),
		"chain_id": chainID,
	})

	if !skipAttemptCheck {
		shouldAttempt, err := s.ShouldAttemptDownload(ctx, address, chainID)
		if err != nil {
			return err
		}
		if !shouldAttempt {
			logger.Debug("Skipping contract metadata download")
			return nil
		}
	}

	enhanced, err := s.fetcher.GetContractMetadata(ctx, address, chainID)
	if err != nil {
		return err
	}

	if _, err := s.ProcessContractMetadata(ctx, enhanced); err != nil {
		return err
	}

	if implementation := GetProxyImplementationAddress(enhanced); implementation != nil {
		logger.Infof("Contract is a proxy, enqueueing download for implementation %s", implementation.Hex())
		if err := s.enqueuer.EnqueueMetadataFetch(ctx, *implementation, chainID, false); err != nil {
			logger.WithError(err).Error("Failed to enqueue proxy implementation download")
		}
	}
	return nil
}

// ProcessContractMetadata persists one fetch result. The contract row
// is created lazily, fetch_retries grows on every attempt, and a found
// ABI is stored content-addressed and linked. Returns whether metadata
// was found.
func (s *ContractMetadataService) ProcessContractMetadata(ctx context.Context, enhanced *domain.EnhancedContractMetadata) (bool, error) {
	contract, _, err := s.contractRepo.GetOrCreate(ctx, enhanced.Address, enhanced.ChainID)
	if err != nil {
		return false, err
	}

	found := enhanced.Metadata != nil
	if found {
		source, _, err := s.abiSourceRepo.GetOrCreate(ctx, string(enhanced.Source), sourceURLs[enhanced.Source])
		if err != nil {
			return false, err
		}

		abi, _, err := s.abiRepo.GetOrCreate(ctx, enhanced.Metadata.Abi, source.ID, 0)
		if err != nil {
			return false, fmt.Errorf("failed to store downloaded abi: %w", err)
		}

		contract.AbiID = &abi.ID
		if enhanced.Metadata.Name != "" {
			name := enhanced.Metadata.Name
			contract.Name = &name
		}
		contract.Implementation = enhanced.Metadata.Implementation
	}

	contract.FetchRetries++
	if err := s.contractRepo.Update(ctx, contract); err != nil {
		return false, err
	}

	if err := s.responseCache.Invalidate(ctx, enhanced.Address); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate response cache")
	}
	return found, nil
}

// GetProxyImplementationAddress extracts the proxy target, if any
func GetProxyImplementationAddress(enhanced *domain.EnhancedContractMetadata) *common.Address {
	if enhanced == nil || enhanced.Metadata == nil {
		return nil
	}
	return enhanced.Metadata.Implementation
}
