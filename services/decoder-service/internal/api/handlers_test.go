package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abis"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/cache"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/service"
	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/redis"
)

// stubAbiRepo serves a fixed ABI list to the decoder
type stubAbiRepo struct {
	documents []json.RawMessage
}

func (r *stubAbiRepo) GetByHash(ctx context.Context, hash []byte) (*domain.Abi, error) {
	return nil, nil
}
func (r *stubAbiRepo) GetOrCreate(ctx context.Context, abiJSON json.RawMessage, sourceID int64, relevance int) (*domain.Abi, bool, error) {
	return nil, false, nil
}
func (r *stubAbiRepo) StreamByRelevanceAscending(ctx context.Context, fn func(abiJSON json.RawMessage) error) error {
	for _, document := range r.documents {
		if err := fn(document); err != nil {
			return err
		}
	}
	return nil
}
func (r *stubAbiRepo) StreamCreatedAfter(ctx context.Context, when time.Time, fn func(abiJSON json.RawMessage) error) error {
	return nil
}
func (r *stubAbiRepo) LastCreated(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

// stubContractRepo has no contracts at all
type stubContractRepo struct{}

func (r *stubContractRepo) Get(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, error) {
	return nil, nil
}
func (r *stubContractRepo) GetOrCreate(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, bool, error) {
	return nil, false, nil
}
func (r *stubContractRepo) Update(ctx context.Context, contract *domain.Contract) error { return nil }
func (r *stubContractRepo) List(ctx context.Context, filter domain.ContractsFilter, limit, offset int) ([]*domain.Contract, error) {
	return nil, nil
}
func (r *stubContractRepo) Count(ctx context.Context, filter domain.ContractsFilter) (int, error) {
	return 0, nil
}
func (r *stubContractRepo) AbiFor(ctx context.Context, address common.Address, chainID *int64) (json.RawMessage, error) {
	return nil, nil
}
func (r *stubContractRepo) StreamWithoutAbi(ctx context.Context, maxRetries int, fn func(c *domain.Contract) error) error {
	return nil
}
func (r *stubContractRepo) StreamProxyContracts(ctx context.Context, fn func(c *domain.Contract) error) error {
	return nil
}
func (r *stubContractRepo) UpdateInfo(ctx context.Context, address common.Address, name, displayName string, trustedForDelegateCall bool) (int64, error) {
	return 0, nil
}

func newTestEngine(t *testing.T, documents []json.RawMessage) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger(logging.DefaultConfig("api-test"))
	contractRepo := &stubContractRepo{}

	decoder, err := service.NewDataDecoderService(&stubAbiRepo{documents: documents}, contractRepo, logger, nil)
	require.NoError(t, err)
	require.NoError(t, decoder.Init(context.Background()))

	// An unreachable cache degrades to a pass-through
	redisClient, err := redis.NewRedis(redis.RedisConfig{URL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	responseCache := cache.NewResponseCache(redisClient, time.Minute)

	handlers := NewHandlers(service.NewContractService(contractRepo), decoder, responseCache, logger, "test", "")

	router := NewRouter(RouterConfig{
		Version:     "test",
		Environment: "test",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}, handlers, logger, nil, nil)
	return router.Engine()
}

func postJSON(engine *gin.Engine, path, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(recorder, request)
	return recorder
}

func TestDataDecoderUnknownSelectorReturns404(t *testing.T) {
	engine := newTestEngine(t, nil)

	recorder := postJSON(engine, "/api/v1/data-decoder", `{"data": "0x12345678"}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "Cannot find function selector to decode data", response.Detail)
}

func TestDataDecoderAddOwnerWithThreshold(t *testing.T) {
	engine := newTestEngine(t, abis.SafeContracts())

	body := `{"data": "0x0d582f130000000000000000000000001b9a0da11a5cace4e7035993cbb2e4b1b3b164cf0000000000000000000000000000000000000000000000000000000000000001"}`
	recorder := postJSON(engine, "/api/v1/data-decoder", body)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response DataDecodedResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.Equal(t, "addOwnerWithThreshold", response.Method)
	assert.Equal(t, domain.AccuracyOnlyFunctionMatch, response.Accuracy)
	require.Len(t, response.Parameters, 2)
	assert.Equal(t, "owner", response.Parameters[0].Name)
	assert.Equal(t, "address", response.Parameters[0].Type)
	assert.Equal(t, "0x1b9a0DA11a5caCE4e7035993Cbb2E4B1B3b164Cf", response.Parameters[0].Value)
	assert.Equal(t, "_threshold", response.Parameters[1].Name)
	assert.Equal(t, "uint256", response.Parameters[1].Type)
	assert.Equal(t, "1", response.Parameters[1].Value)
}

func TestDataDecoderValidation(t *testing.T) {
	engine := newTestEngine(t, nil)

	testCases := []struct {
		name     string
		body     string
		expected int
	}{
		{"missing data", `{}`, http.StatusUnprocessableEntity},
		{"data not hex", `{"data": "0xZZ"}`, http.StatusBadRequest},
		{"uppercase data", `{"data": "0xAB"}`, http.StatusBadRequest},
		{"chainId without to", `{"data": "0x12345678", "chainId": 1}`, http.StatusUnprocessableEntity},
		{"to not checksummed", `{"data": "0x12345678", "to": "0xd9db270c1b5e3bd161e8c8503c55ceabee709552"}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := postJSON(engine, "/api/v1/data-decoder", tc.body)
			assert.Equal(t, tc.expected, recorder.Code)
		})
	}
}

func TestGetContractsByAddressRejectsNonChecksummed(t *testing.T) {
	engine := newTestEngine(t, nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/v1/contracts/0xd9db270c1b5e3bd161e8c8503c55ceabee709552", nil)
	engine.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListContractsEmpty(t *testing.T) {
	engine := newTestEngine(t, nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/v1/contracts?chain_ids=1,5", nil)
	engine.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response PaginatedResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Zero(t, response.Count)
	assert.Nil(t, response.Next)
	assert.Nil(t, response.Previous)
}

func TestAbout(t *testing.T) {
	engine := newTestEngine(t, nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/v1/about", nil)
	engine.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"version": "test"}`, recorder.Body.String())
}
