package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

const etherscanBaseURL = "https://api.etherscan.io/v2/api"

// etherscanChains are the chains served by the Etherscan v2 multichain API
var etherscanChains = map[int64]bool{
	1:        true, // Mainnet
	10:       true, // Optimism
	56:       true, // BNB Smart Chain
	100:      true, // Gnosis Chain
	137:      true, // Polygon
	8453:     true, // Base
	42161:    true, // Arbitrum One
	43114:    true, // Avalanche
	11155111: true, // Sepolia
}

// EtherscanClient fetches verified contract metadata from the
// Etherscan v2 multichain API.
type EtherscanClient struct {
	chainID    int64
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *limiter
}

// NewEtherscanClient fails with ErrChainNotSupported for chains the
// Etherscan API does not serve.
func NewEtherscanClient(chainID int64, apiKey string, maxRequests int, timeout time.Duration) (*EtherscanClient, error) {
	if !etherscanChains[chainID] {
		return nil, fmt.Errorf("%w: etherscan does not serve chain %d", ErrChainNotSupported, chainID)
	}
	return &EtherscanClient{
		chainID:    chainID,
		apiKey:     apiKey,
		baseURL:    etherscanBaseURL,
		httpClient: newHTTPClient(timeout),
		limiter:    newLimiter(maxRequests),
	}, nil
}

func (c *EtherscanClient) Source() domain.ContractSource {
	return domain.SourceEtherscan
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanSource struct {
	ContractName   string `json:"ContractName"`
	ABI            string `json:"ABI"`
	Implementation string `json:"Implementation"`
	Proxy          string `json:"Proxy"`
}

func (c *EtherscanClient) GetContractMetadata(ctx context.Context, address common.Address) (*domain.ContractMetadata, error) {
	if err := c.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.release()

	query := url.Values{}
	query.Set("chainid", fmt.Sprintf("%d", c.chainID))
	query.Set("module", "contract")
	query.Set("action", "getsourcecode")
	query.Set("address", address.Hex())
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build etherscan request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("etherscan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("etherscan returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read etherscan response: %w", err)
	}

	var envelope etherscanEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse etherscan response: %w", err)
	}

	if envelope.Status != "1" {
		// The result carries the reason as a plain string
		var reason string
		_ = json.Unmarshal(envelope.Result, &reason)
		if strings.Contains(strings.ToLower(reason), "rate limit") ||
			strings.Contains(strings.ToLower(envelope.Message), "rate limit") {
			return nil, ErrRateLimited
		}
		return nil, nil
	}

	var sources []etherscanSource
	if err := json.Unmarshal(envelope.Result, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse etherscan result: %w", err)
	}
	if len(sources) == 0 {
		return nil, nil
	}

	source := sources[0]
	if source.ABI == "" || strings.Contains(source.ABI, "not verified") {
		return nil, nil
	}

	var abiJSON json.RawMessage
	if err := json.Unmarshal([]byte(source.ABI), &abiJSON); err != nil {
		return nil, fmt.Errorf("etherscan returned malformed abi: %w", err)
	}

	metadata := &domain.ContractMetadata{
		Name:       source.ContractName,
		Abi:        abiJSON,
		IsVerified: true,
	}
	if source.Implementation != "" && common.IsHexAddress(source.Implementation) {
		implementation := common.HexToAddress(source.Implementation)
		if implementation != (common.Address{}) && implementation != address {
			metadata.Implementation = &implementation
		}
	}
	return metadata, nil
}
