package service

import (
	"context"
	"encoding/json"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abis"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// Relevance tiers for the bundled ABIs. Higher relevance wins selector
// collisions at registry load time.
const (
	relevanceSafeContracts = 100
	relevanceErcAndSafeLib = 90
	relevanceThirdParties  = 50
)

// AbiService seeds the bundled ABI documents into the store on startup.
// Content-addressing makes the load idempotent.
type AbiService struct {
	abiRepo       domain.AbiRepository
	abiSourceRepo domain.AbiSourceRepository
	logger        *logging.Logger
}

// NewAbiService creates the ABI seeding service
func NewAbiService(abiRepo domain.AbiRepository, abiSourceRepo domain.AbiSourceRepository, logger *logging.Logger) *AbiService {
	return &AbiService{
		abiRepo:       abiRepo,
		abiSourceRepo: abiSourceRepo,
		logger:        logger,
	}
}

// LoadLocalAbisInDatabase inserts every bundled ABI under the
// localstorage source, skipping documents already stored.
func (s *AbiService) LoadLocalAbisInDatabase(ctx context.Context) error {
	source, _, err := s.abiSourceRepo.GetOrCreate(ctx, "localstorage", "decoder-service")
	if err != nil {
		return err
	}

	if err := s.storeAbis(ctx, abis.SafeContracts(), relevanceSafeContracts, source); err != nil {
		return err
	}

	ercAndSafeLib := append(abis.Erc(), abis.SafeLibraries()...)
	if err := s.storeAbis(ctx, ercAndSafeLib, relevanceErcAndSafeLib, source); err != nil {
		return err
	}

	return s.storeAbis(ctx, abis.ThirdParties(), relevanceThirdParties, source)
}

func (s *AbiService) storeAbis(ctx context.Context, documents []json.RawMessage, relevance int, source *domain.AbiSource) error {
	for _, document := range documents {
		if _, created, err := s.abiRepo.GetOrCreate(ctx, document, source.ID, relevance); err != nil {
			return err
		} else if created {
			s.logger.Debugf("Stored bundled ABI with relevance %d", relevance)
		}
	}
	return nil
}
