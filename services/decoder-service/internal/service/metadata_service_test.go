package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// Mock implementations for the metadata pipeline collaborators

type MockContractRepository struct {
	mock.Mock
	fakeContractRepo
}

func (m *MockContractRepository) Get(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, error) {
	args := m.Called(ctx, address, chainID)
	contract, _ := args.Get(0).(*domain.Contract)
	return contract, args.Error(1)
}

func (m *MockContractRepository) GetOrCreate(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, bool, error) {
	args := m.Called(ctx, address, chainID)
	contract, _ := args.Get(0).(*domain.Contract)
	return contract, args.Bool(1), args.Error(2)
}

func (m *MockContractRepository) Update(ctx context.Context, contract *domain.Contract) error {
	args := m.Called(ctx, contract)
	return args.Error(0)
}

type MockAbiRepository struct {
	mock.Mock
	fakeAbiRepo
}

func (m *MockAbiRepository) GetOrCreate(ctx context.Context, abiJSON json.RawMessage, sourceID int64, relevance int) (*domain.Abi, bool, error) {
	args := m.Called(ctx, abiJSON, sourceID, relevance)
	abi, _ := args.Get(0).(*domain.Abi)
	return abi, args.Bool(1), args.Error(2)
}

type MockAbiSourceRepository struct {
	mock.Mock
}

func (m *MockAbiSourceRepository) GetOrCreate(ctx context.Context, name, url string) (*domain.AbiSource, bool, error) {
	args := m.Called(ctx, name, url)
	source, _ := args.Get(0).(*domain.AbiSource)
	return source, args.Bool(1), args.Error(2)
}

func (m *MockAbiSourceRepository) GetByName(ctx context.Context, name string) (*domain.AbiSource, error) {
	args := m.Called(ctx, name)
	source, _ := args.Get(0).(*domain.AbiSource)
	return source, args.Error(1)
}

type MockMetadataFetcher struct {
	mock.Mock
}

func (m *MockMetadataFetcher) GetContractMetadata(ctx context.Context, address common.Address, chainID int64) (*domain.EnhancedContractMetadata, error) {
	args := m.Called(ctx, address, chainID)
	enhanced, _ := args.Get(0).(*domain.EnhancedContractMetadata)
	return enhanced, args.Error(1)
}

type fakeAttemptGate struct {
	allow  bool
	marked int
}

func (g *fakeAttemptGate) ShouldAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) bool {
	return g.allow
}

func (g *fakeAttemptGate) MarkShouldNotAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) error {
	g.marked++
	return nil
}

type fakeInvalidator struct {
	invalidated []common.Address
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, address common.Address) error {
	f.invalidated = append(f.invalidated, address)
	return nil
}

var (
	testAddress        = common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552")
	testImplementation = common.HexToAddress("0x43506849D7C04F9138D1A2050bbF3A0c054402dd")
	testAbi            = json.RawMessage(`[{"type": "function", "name": "ping", "inputs": [], "outputs": []}]`)
)

func newMetadataService(contractRepo *MockContractRepository, abiRepo *MockAbiRepository,
	sourceRepo *MockAbiSourceRepository, fetcher *MockMetadataFetcher,
	gate *fakeAttemptGate, invalidator *fakeInvalidator, enqueuer *recordingEnqueuer) *ContractMetadataService {

	logger := logging.NewLogger(logging.DefaultConfig("metadata-test"))
	return NewContractMetadataService(contractRepo, abiRepo, sourceRepo, fetcher, gate, invalidator, enqueuer, 3, logger)
}

func TestShouldAttemptDownloadGatedByCache(t *testing.T) {
	contractRepo := new(MockContractRepository)
	service := newMetadataService(contractRepo, new(MockAbiRepository), new(MockAbiSourceRepository),
		new(MockMetadataFetcher), &fakeAttemptGate{allow: false}, &fakeInvalidator{}, &recordingEnqueuer{})

	shouldAttempt, err := service.ShouldAttemptDownload(context.Background(), testAddress, 1)
	require.NoError(t, err)
	assert.False(t, shouldAttempt)
	contractRepo.AssertNotCalled(t, "Get")
}

func TestShouldAttemptDownloadMarksExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	gate := &fakeAttemptGate{allow: true}

	contractRepo := new(MockContractRepository)
	contractRepo.On("Get", ctx, testAddress, int64(1)).Return(&domain.Contract{
		Address:      testAddress,
		ChainID:      1,
		FetchRetries: 10,
	}, nil)

	service := newMetadataService(contractRepo, new(MockAbiRepository), new(MockAbiSourceRepository),
		new(MockMetadataFetcher), gate, &fakeInvalidator{}, &recordingEnqueuer{})

	shouldAttempt, err := service.ShouldAttemptDownload(ctx, testAddress, 1)
	require.NoError(t, err)
	assert.False(t, shouldAttempt)
	assert.Equal(t, 1, gate.marked)
}

func TestShouldAttemptDownloadMarksContractWithAbi(t *testing.T) {
	ctx := context.Background()
	gate := &fakeAttemptGate{allow: true}
	abiID := int64(7)

	contractRepo := new(MockContractRepository)
	contractRepo.On("Get", ctx, testAddress, int64(1)).Return(&domain.Contract{
		Address: testAddress,
		ChainID: 1,
		AbiID:   &abiID,
	}, nil)

	service := newMetadataService(contractRepo, new(MockAbiRepository), new(MockAbiSourceRepository),
		new(MockMetadataFetcher), gate, &fakeInvalidator{}, &recordingEnqueuer{})

	shouldAttempt, err := service.ShouldAttemptDownload(ctx, testAddress, 1)
	require.NoError(t, err)
	assert.False(t, shouldAttempt)
	assert.Equal(t, 1, gate.marked)
}

func TestProcessMetadataStoresAbiAndIncrementsRetries(t *testing.T) {
	ctx := context.Background()

	contract := &domain.Contract{Address: testAddress, ChainID: 100}
	contractRepo := new(MockContractRepository)
	contractRepo.On("Get", ctx, testAddress, int64(100)).Return(nil, nil)
	contractRepo.On("GetOrCreate", ctx, testAddress, int64(100)).Return(contract, true, nil)
	contractRepo.On("Update", ctx, contract).Return(nil)

	abiRepo := new(MockAbiRepository)
	abiRepo.On("GetOrCreate", ctx, testAbi, int64(1), 0).Return(&domain.Abi{ID: 42}, true, nil)

	sourceRepo := new(MockAbiSourceRepository)
	sourceRepo.On("GetOrCreate", ctx, "Etherscan", "https://etherscan.io").Return(&domain.AbiSource{ID: 1, Name: "Etherscan"}, false, nil)

	fetcher := new(MockMetadataFetcher)
	fetcher.On("GetContractMetadata", ctx, testAddress, int64(100)).Return(&domain.EnhancedContractMetadata{
		Address: testAddress,
		ChainID: 100,
		Source:  domain.SourceEtherscan,
		Metadata: &domain.ContractMetadata{
			Name:       "Safe",
			Abi:        testAbi,
			IsVerified: true,
		},
	}, nil)

	invalidator := &fakeInvalidator{}
	enqueuer := &recordingEnqueuer{}
	service := newMetadataService(contractRepo, abiRepo, sourceRepo, fetcher,
		&fakeAttemptGate{allow: true}, invalidator, enqueuer)

	require.NoError(t, service.ProcessMetadata(ctx, testAddress, 100, false))

	require.NotNil(t, contract.AbiID)
	assert.Equal(t, int64(42), *contract.AbiID)
	require.NotNil(t, contract.Name)
	assert.Equal(t, "Safe", *contract.Name)
	assert.Equal(t, 1, contract.FetchRetries)
	assert.Equal(t, []common.Address{testAddress}, invalidator.invalidated)
	assert.Empty(t, enqueuer.calls)

	contractRepo.AssertExpectations(t)
	abiRepo.AssertExpectations(t)
	sourceRepo.AssertExpectations(t)
	fetcher.AssertExpectations(t)
}

func TestProcessMetadataWithoutResultStillConsumesRetry(t *testing.T) {
	ctx := context.Background()

	contract := &domain.Contract{Address: testAddress, ChainID: 100, FetchRetries: 2}
	contractRepo := new(MockContractRepository)
	contractRepo.On("Get", ctx, testAddress, int64(100)).Return(nil, nil)
	contractRepo.On("GetOrCreate", ctx, testAddress, int64(100)).Return(contract, false, nil)
	contractRepo.On("Update", ctx, contract).Return(nil)

	fetcher := new(MockMetadataFetcher)
	fetcher.On("GetContractMetadata", ctx, testAddress, int64(100)).Return(&domain.EnhancedContractMetadata{
		Address: testAddress,
		ChainID: 100,
	}, nil)

	service := newMetadataService(contractRepo, new(MockAbiRepository), new(MockAbiSourceRepository),
		fetcher, &fakeAttemptGate{allow: true}, &fakeInvalidator{}, &recordingEnqueuer{})

	require.NoError(t, service.ProcessMetadata(ctx, testAddress, 100, false))

	assert.Nil(t, contract.AbiID)
	assert.Equal(t, 3, contract.FetchRetries)
	contractRepo.AssertExpectations(t)
}

func TestProcessMetadataEnqueuesProxyImplementation(t *testing.T) {
	ctx := context.Background()

	contract := &domain.Contract{Address: testAddress, ChainID: 1}
	contractRepo := new(MockContractRepository)
	contractRepo.On("GetOrCreate", ctx, testAddress, int64(1)).Return(contract, true, nil)
	contractRepo.On("Update", ctx, contract).Return(nil)

	abiRepo := new(MockAbiRepository)
	abiRepo.On("GetOrCreate", ctx, testAbi, int64(1), 0).Return(&domain.Abi{ID: 1}, true, nil)

	sourceRepo := new(MockAbiSourceRepository)
	sourceRepo.On("GetOrCreate", ctx, "Etherscan", "https://etherscan.io").Return(&domain.AbiSource{ID: 1}, false, nil)

	fetcher := new(MockMetadataFetcher)
	fetcher.On("GetContractMetadata", ctx, testAddress, int64(1)).Return(&domain.EnhancedContractMetadata{
		Address: testAddress,
		ChainID: 1,
		Source:  domain.SourceEtherscan,
		Metadata: &domain.ContractMetadata{
			Name:           "Proxy",
			Abi:            testAbi,
			IsVerified:     true,
			Implementation: &testImplementation,
		},
	}, nil)

	enqueuer := &recordingEnqueuer{}
	service := newMetadataService(contractRepo, abiRepo, sourceRepo, fetcher,
		&fakeAttemptGate{allow: true}, &fakeInvalidator{}, enqueuer)

	// skipAttemptCheck avoids the gate and the Get lookup entirely
	require.NoError(t, service.ProcessMetadata(ctx, testAddress, 1, true))

	require.NotNil(t, contract.Implementation)
	assert.Equal(t, testImplementation, *contract.Implementation)

	require.Len(t, enqueuer.calls, 1)
	assert.Equal(t, testImplementation, enqueuer.calls[0].Address)
	assert.Equal(t, int64(1), enqueuer.calls[0].ChainID)
	assert.False(t, enqueuer.calls[0].SkipAttemptCheck)
}
