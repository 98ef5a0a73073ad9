package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

var testAddress = common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552")

func TestProviderConstructorsRejectUnsupportedChains(t *testing.T) {
	const unsupportedChain = int64(424242)

	_, err := NewEtherscanClient(unsupportedChain, "", 10, time.Second)
	assert.ErrorIs(t, err, ErrChainNotSupported)

	_, err = NewSourcifyClient(unsupportedChain, 10, time.Second)
	assert.ErrorIs(t, err, ErrChainNotSupported)

	_, err = NewBlockscoutClient(unsupportedChain, "", 10, time.Second)
	assert.ErrorIs(t, err, ErrChainNotSupported)
}

func TestPoolOmitsUnsupportedProviders(t *testing.T) {
	logger := logging.NewLogger(logging.DefaultConfig("providers-test"))
	pool := NewPool(PoolConfig{RequestTimeout: time.Second}, logger)

	assert.Empty(t, pool.enabledProviders(424242))

	mainnet := pool.enabledProviders(1)
	require.Len(t, mainnet, 3)
	assert.Equal(t, domain.SourceEtherscan, mainnet[0].Source())
	assert.Equal(t, domain.SourceSourcify, mainnet[1].Source())
	assert.Equal(t, domain.SourceBlockscout, mainnet[2].Source())
}

func TestEtherscanClientParsesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("chainid"))
		assert.Equal(t, "contract", r.URL.Query().Get("module"))
		assert.Equal(t, "getsourcecode", r.URL.Query().Get("action"))
		assert.Equal(t, testAddress.Hex(), r.URL.Query().Get("address"))

		fmt.Fprint(w, `{
			"status": "1",
			"message": "OK",
			"result": [{
				"ContractName": "GnosisSafeProxy",
				"ABI": "[{\"type\": \"function\", \"name\": \"masterCopy\", \"inputs\": [], \"outputs\": []}]",
				"Implementation": "0x43506849D7C04F9138D1A2050bbF3A0c054402dd",
				"Proxy": "1"
			}]
		}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(1, "test-key", 10, time.Second)
	require.NoError(t, err)
	client.baseURL = server.URL

	metadata, err := client.GetContractMetadata(context.Background(), testAddress)
	require.NoError(t, err)
	require.NotNil(t, metadata)

	assert.Equal(t, "GnosisSafeProxy", metadata.Name)
	assert.True(t, metadata.IsVerified)
	assert.JSONEq(t, `[{"type": "function", "name": "masterCopy", "inputs": [], "outputs": []}]`, string(metadata.Abi))
	require.NotNil(t, metadata.Implementation)
	assert.Equal(t, common.HexToAddress("0x43506849D7C04F9138D1A2050bbF3A0c054402dd"), *metadata.Implementation)
}

func TestEtherscanClientUnverifiedContract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "0", "message": "NOTOK", "result": "Contract source code not verified"}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(1, "", 10, time.Second)
	require.NoError(t, err)
	client.baseURL = server.URL

	metadata, err := client.GetContractMetadata(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestEtherscanClientRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "0", "message": "NOTOK", "result": "Max rate limit reached"}`)
	}))
	defer server.Close()

	client, err := NewEtherscanClient(1, "", 10, time.Second)
	require.NoError(t, err)
	client.baseURL = server.URL

	_, err = client.GetContractMetadata(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSourcifyClientParsesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"status": "full",
			"files": [
				{"name": "Contract.sol", "content": "contract Safe {}"},
				{"name": "metadata.json", "content": "{\"output\": {\"abi\": [{\"type\": \"function\", \"name\": \"ping\", \"inputs\": []}]}, \"settings\": {\"compilationTarget\": {\"Safe.sol\": \"Safe\"}}}"}
			]
		}`)
	}))
	defer server.Close()

	client, err := NewSourcifyClient(1, 10, time.Second)
	require.NoError(t, err)
	client.baseURL = server.URL

	metadata, err := client.GetContractMetadata(context.Background(), testAddress)
	require.NoError(t, err)
	require.NotNil(t, metadata)
	assert.Equal(t, "Safe", metadata.Name)
	assert.True(t, metadata.IsVerified)
}

func TestSourcifyClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewSourcifyClient(1, 10, time.Second)
	require.NoError(t, err)
	client.baseURL = server.URL

	metadata, err := client.GetContractMetadata(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Nil(t, metadata)
}

// fakeProvider scripts pool failover behavior
type fakeProvider struct {
	source   domain.ContractSource
	metadata *domain.ContractMetadata
	err      error
	calls    int
}

func (p *fakeProvider) Source() domain.ContractSource { return p.source }

func (p *fakeProvider) GetContractMetadata(ctx context.Context, address common.Address) (*domain.ContractMetadata, error) {
	p.calls++
	return p.metadata, p.err
}

func TestPoolFailoverOrder(t *testing.T) {
	logger := logging.NewLogger(logging.DefaultConfig("providers-test"))
	pool := NewPool(PoolConfig{}, logger)

	failing := &fakeProvider{source: domain.SourceEtherscan, err: ErrRateLimited}
	winning := &fakeProvider{source: domain.SourceSourcify, metadata: &domain.ContractMetadata{Name: "Safe"}}
	unreached := &fakeProvider{source: domain.SourceBlockscout, metadata: &domain.ContractMetadata{Name: "Other"}}
	pool.byChain[5] = []Provider{failing, winning, unreached}

	enhanced, err := pool.GetContractMetadata(context.Background(), testAddress, 5)
	require.NoError(t, err)

	assert.Equal(t, testAddress, enhanced.Address)
	assert.Equal(t, int64(5), enhanced.ChainID)
	require.NotNil(t, enhanced.Metadata)
	assert.Equal(t, "Safe", enhanced.Metadata.Name)
	assert.Equal(t, domain.SourceSourcify, enhanced.Source)

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, winning.calls)
	assert.Zero(t, unreached.calls)
}

func TestPoolReturnsEmptyResultWhenNothingFound(t *testing.T) {
	logger := logging.NewLogger(logging.DefaultConfig("providers-test"))
	pool := NewPool(PoolConfig{}, logger)
	pool.byChain[5] = []Provider{
		&fakeProvider{source: domain.SourceEtherscan},
		&fakeProvider{source: domain.SourceSourcify, err: fmt.Errorf("boom")},
	}

	enhanced, err := pool.GetContractMetadata(context.Background(), testAddress, 5)
	require.NoError(t, err)
	assert.Nil(t, enhanced.Metadata)
	assert.Empty(t, string(enhanced.Source))
}
