package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/metrics"
)

// execTransactionSelector is the Safe execTransaction entry point
var execTransactionSelector = domain.Selector{0x6a, 0x76, 0x12, 0x02}

const contractCacheSize = 2048

// DataDecoderService holds the in-memory selector registry and decodes
// calldata against it. The registry is loaded once at startup and
// extended additively by LoadNewAbis; existing selectors are never
// overwritten by the reload path so concurrent decodes keep a stable
// view.
type DataDecoderService struct {
	abiRepo      domain.AbiRepository
	contractRepo domain.ContractRepository
	logger       *logging.Logger
	metrics      *metrics.Metrics

	mu             sync.RWMutex
	fnSelectors    map[domain.Selector]*boundFunction
	lastAbiCreated time.Time

	// Per-contract memoization, keyed by address and chain
	contractAbiCache      *lru.Cache[string, map[domain.Selector]*boundFunction]
	contractFallbackCache *lru.Cache[string, *boundFunction]
}

// NewDataDecoderService creates the decoder. Init must be called before
// decoding.
func NewDataDecoderService(abiRepo domain.AbiRepository, contractRepo domain.ContractRepository,
	logger *logging.Logger, m *metrics.Metrics) (*DataDecoderService, error) {

	contractAbiCache, err := lru.New[string, map[domain.Selector]*boundFunction](contractCacheSize)
	if err != nil {
		return nil, err
	}
	contractFallbackCache, err := lru.New[string, *boundFunction](contractCacheSize)
	if err != nil {
		return nil, err
	}

	service := &DataDecoderService{
		abiRepo:               abiRepo,
		contractRepo:          contractRepo,
		logger:                logger,
		metrics:               m,
		fnSelectors:           make(map[domain.Selector]*boundFunction),
		contractAbiCache:      contractAbiCache,
		contractFallbackCache: contractFallbackCache,
	}

	return service, nil
}

// Init loads every stored ABI into the selector registry. ABIs stream
// in ascending relevance so later, more relevant ABIs win selector
// collisions.
func (s *DataDecoderService) Init(ctx context.Context) error {
	s.logger.Info("Loading contract ABIs for decoding")

	s.mu.Lock()
	defer s.mu.Unlock()

	abiCount := 0
	err := s.abiRepo.StreamByRelevanceAscending(ctx, func(abiJSON json.RawMessage) error {
		selectors, err := selectorsFromABI(abiJSON)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping ABI that cannot be parsed")
			return nil
		}
		for selector, bound := range selectors {
			s.fnSelectors[selector] = bound
		}
		abiCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load abis: %w", err)
	}

	lastCreated, err := s.abiRepo.LastCreated(ctx)
	if err != nil {
		return err
	}
	if lastCreated != nil {
		s.lastAbiCreated = *lastCreated
	}

	if s.metrics != nil {
		s.metrics.AbisLoaded.Set(float64(abiCount))
		s.metrics.SelectorsLoaded.Set(float64(len(s.fnSelectors)))
	}
	s.logger.Infof("Contract ABIs for decoding were loaded: %d abis, %d selectors", abiCount, len(s.fnSelectors))
	return nil
}

// LoadNewAbis ingests ABIs created after the last load. New selectors
// are added; selectors already present are kept untouched to avoid
// racing decodes holding references. Returns the number of selectors
// added.
func (s *DataDecoderService) LoadNewAbis(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	newest := s.lastAbiCreated
	err := s.abiRepo.StreamCreatedAfter(ctx, s.lastAbiCreated, func(abiJSON json.RawMessage) error {
		selectors, err := selectorsFromABI(abiJSON)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping ABI that cannot be parsed")
			return nil
		}
		for selector, bound := range selectors {
			if _, exists := s.fnSelectors[selector]; !exists {
				s.fnSelectors[selector] = bound
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load new abis: %w", err)
	}

	lastCreated, err := s.abiRepo.LastCreated(ctx)
	if err != nil {
		return 0, err
	}
	if lastCreated != nil && lastCreated.After(newest) {
		newest = *lastCreated
	}
	s.lastAbiCreated = newest

	if added > 0 && s.metrics != nil {
		s.metrics.SelectorsLoaded.Set(float64(len(s.fnSelectors)))
	}
	return added, nil
}

func contractCacheKey(address common.Address, chainID *int64) string {
	if chainID == nil {
		return address.Hex()
	}
	return fmt.Sprintf("%s|%d", address.Hex(), *chainID)
}

// getContractSelectors returns the selector table of the ABI assigned
// to the contract. When exact is false and nothing is stored for the
// given chain, the lookup falls back across chains in ascending chain
// id order. A nil map means no contract-specific ABI exists.
func (s *DataDecoderService) getContractSelectors(ctx context.Context, address common.Address, chainID *int64, exact bool) map[domain.Selector]*boundFunction {
	key := contractCacheKey(address, chainID)
	if !exact {
		key = "fb|" + key
	}
	if cached, ok := s.contractAbiCache.Get(key); ok {
		return cached
	}

	abiJSON, err := s.contractRepo.AbiFor(ctx, address, chainID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to fetch contract ABI")
		return nil
	}
	if abiJSON == nil && !exact && chainID != nil {
		// Cross-chain fallback, ordered by ascending chain id
		abiJSON, err = s.contractRepo.AbiFor(ctx, address, nil)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to fetch contract ABI")
			return nil
		}
	}

	var selectors map[domain.Selector]*boundFunction
	if abiJSON != nil {
		selectors, err = selectorsFromABI(abiJSON)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Stored contract ABI cannot be parsed")
			selectors = nil
		}
	}

	s.contractAbiCache.Add(key, selectors)
	return selectors
}

// getContractFallbackFunction synthesizes a fallback descriptor when
// the contract ABI declares one.
func (s *DataDecoderService) getContractFallbackFunction(ctx context.Context, address common.Address, chainID *int64) *boundFunction {
	key := contractCacheKey(address, chainID)
	if cached, ok := s.contractFallbackCache.Get(key); ok {
		return cached
	}

	var fallback *boundFunction
	abiJSON, err := s.contractRepo.AbiFor(ctx, address, chainID)
	if err == nil && abiJSON == nil && chainID != nil {
		abiJSON, err = s.contractRepo.AbiFor(ctx, address, nil)
	}
	if err == nil && abiJSON != nil {
		if functions, parseErr := parseABIFunctions(abiJSON); parseErr == nil {
			for _, fn := range functions {
				if fn.Type == "fallback" {
					fallback = &boundFunction{
						Fn: domain.ABIFunction{Name: "fallback", Type: "fallback"},
					}
					break
				}
			}
		}
	}

	s.contractFallbackCache.Add(key, fallback)
	return fallback
}

// getAbiFunction resolves the function to decode with. A contract
// specific ABI containing the selector is preferred over the global
// table; an unknown selector may still resolve to the contract's
// fallback descriptor.
func (s *DataDecoderService) getAbiFunction(ctx context.Context, data []byte, address *common.Address, chainID *int64) *boundFunction {
	selector := domain.SelectorFromData(data)

	s.mu.RLock()
	global, known := s.fnSelectors[selector]
	s.mu.RUnlock()

	if known {
		if address != nil {
			if contractSelectors := s.getContractSelectors(ctx, *address, chainID, false); contractSelectors != nil {
				if bound, ok := contractSelectors[selector]; ok {
					return bound
				}
			}
		}
		return global
	}
	if address != nil {
		return s.getContractFallbackFunction(ctx, *address, chainID)
	}
	return nil
}

// decodeData decodes calldata into the function name and its raw
// normalized arguments.
func (s *DataDecoderService) decodeData(ctx context.Context, data []byte, address *common.Address, chainID *int64) (*boundFunction, []domain.ParameterDecoded, error) {
	if len(data) < 4 {
		return nil, nil, domain.ErrCannotDecode
	}

	bound := s.getAbiFunction(ctx, data, address, chainID)
	if bound == nil {
		return nil, nil, domain.ErrCannotDecode
	}

	params := data[4:]
	values, err := bound.Arguments.UnpackValues(params)
	if err != nil {
		s.logger.WithContext(ctx).Warnf("Cannot decode 0x%x", data)
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUnexpectedProblemDecoding, err)
	}

	parameters := make([]domain.ParameterDecoded, len(values))
	for i, value := range values {
		parameters[i] = domain.ParameterDecoded{
			Name:  bound.Fn.Inputs[i].Name,
			Type:  bound.Fn.Inputs[i].Type,
			Value: normalizeValue(value),
		}
	}
	return bound, parameters, nil
}

// DecodeTransactionWithTypes decodes calldata and applies nested
// decoding for MultiSend batches and wrapped execTransaction payloads.
func (s *DataDecoderService) DecodeTransactionWithTypes(ctx context.Context, data []byte, address *common.Address, chainID *int64) (string, []domain.ParameterDecoded, error) {
	bound, parameters, err := s.decodeData(ctx, data, address, chainID)
	if err != nil {
		return "", nil, err
	}
	parameters = s.decodeParametersData(ctx, data, parameters, chainID)
	return bound.Fn.Name, parameters, nil
}

// GetDataDecoded decodes calldata ready for serializing. Returns
// ErrCannotDecode when no selector matches and
// ErrUnexpectedProblemDecoding when a matching ABI fails on the input.
func (s *DataDecoderService) GetDataDecoded(ctx context.Context, data []byte, address *common.Address, chainID *int64) (*domain.DataDecoded, error) {
	method, parameters, err := s.DecodeTransactionWithTypes(ctx, data, address, chainID)
	if err != nil {
		return nil, err
	}
	return &domain.DataDecoded{Method: method, Parameters: parameters}, nil
}

// getDataDecodedOrNil is the nested-decoding variant: failures yield nil
func (s *DataDecoderService) getDataDecodedOrNil(ctx context.Context, data []byte, address *common.Address, chainID *int64) *domain.DataDecoded {
	decoded, err := s.GetDataDecoded(ctx, data, address, chainID)
	if err != nil {
		return nil
	}
	return decoded
}

// decodeParametersData populates value_decoded for MultiSend batches
// and Safe execTransaction inner payloads.
func (s *DataDecoderService) decodeParametersData(ctx context.Context, data []byte, parameters []domain.ParameterDecoded, chainID *int64) []domain.ParameterDecoded {
	selector := domain.SelectorFromData(data)

	if _, isMultisend := multisendSelectors()[selector]; isMultisend && len(parameters) > 0 {
		if decoded := s.decodeMultisendData(ctx, data, chainID); decoded != nil {
			parameters[0].ValueDecoded = decoded
		}
		return parameters
	}

	if selector == execTransactionSelector && len(parameters) > 2 {
		// function execTransaction(address to, uint256 value, bytes data, ...)
		innerTo, okTo := parameters[0].Value.(string)
		innerData, okData := parameters[2].Value.(string)
		if okTo && okData && common.IsHexAddress(innerTo) {
			raw := common.FromHex(innerData)
			if len(raw) > 0 {
				to := common.HexToAddress(innerTo)
				if decoded := s.getDataDecodedOrNil(ctx, raw, &to, chainID); decoded != nil {
					parameters[2].ValueDecoded = decoded
				}
			}
		}
	}
	return parameters
}

// GetDecodingAccuracy classifies how specific the match for the data's
// selector is.
func (s *DataDecoderService) GetDecodingAccuracy(ctx context.Context, data []byte, address *common.Address, chainID *int64) domain.DecodingAccuracy {
	selector := domain.SelectorFromData(data)

	known := len(data) >= 4
	if known {
		s.mu.RLock()
		_, known = s.fnSelectors[selector]
		s.mu.RUnlock()
	}

	accuracy := domain.AccuracyNoMatch
	switch {
	case !known:
		accuracy = domain.AccuracyNoMatch
	case address == nil:
		accuracy = domain.AccuracyOnlyFunctionMatch
	default:
		accuracy = domain.AccuracyOnlyFunctionMatch
		if chainID != nil {
			if selectors := s.getContractSelectors(ctx, *address, chainID, true); selectors != nil {
				if _, ok := selectors[selector]; ok {
					accuracy = domain.AccuracyFullMatch
					break
				}
			}
		}
		if selectors := s.getContractSelectors(ctx, *address, nil, true); selectors != nil {
			if _, ok := selectors[selector]; ok {
				accuracy = domain.AccuracyPartialMatch
			}
		}
	}

	if s.metrics != nil {
		s.metrics.DecodeRequestsTotal.WithLabelValues(string(accuracy)).Inc()
	}
	return accuracy
}
