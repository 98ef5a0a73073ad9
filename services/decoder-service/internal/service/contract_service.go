package service

import (
	"context"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

// ContractService answers the contract listing queries of the API
type ContractService struct {
	contractRepo domain.ContractRepository
}

// NewContractService creates the contract query service
func NewContractService(contractRepo domain.ContractRepository) *ContractService {
	return &ContractService{contractRepo: contractRepo}
}

// GetContracts returns one page of contracts plus the total count for
// the filter.
func (s *ContractService) GetContracts(ctx context.Context, filter domain.ContractsFilter, limit, offset int) ([]*domain.Contract, int, error) {
	contracts, err := s.contractRepo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.contractRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return contracts, count, nil
}
