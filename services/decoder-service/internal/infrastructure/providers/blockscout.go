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

// blockscoutInstances maps chain ids to public Blockscout deployments
var blockscoutInstances = map[int64]string{
	1:        "https://eth.blockscout.com",
	10:       "https://optimism.blockscout.com",
	100:      "https://gnosis.blockscout.com",
	137:      "https://polygon.blockscout.com",
	8453:     "https://base.blockscout.com",
	42161:    "https://arbitrum.blockscout.com",
	11155111: "https://eth-sepolia.blockscout.com",
}

// BlockscoutClient fetches verified contract metadata from a
// chain-specific Blockscout instance.
type BlockscoutClient struct {
	chainID    int64
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *limiter
}

func NewBlockscoutClient(chainID int64, apiKey string, maxRequests int, timeout time.Duration) (*BlockscoutClient, error) {
	baseURL, ok := blockscoutInstances[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no blockscout instance for chain %d", ErrChainNotSupported, chainID)
	}
	return &BlockscoutClient{
		chainID:    chainID,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
		limiter:    newLimiter(maxRequests),
	}, nil
}

func (c *BlockscoutClient) Source() domain.ContractSource {
	return domain.SourceBlockscout
}

type blockscoutEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		ContractName   string `json:"ContractName"`
		ABI            string `json:"ABI"`
		Implementation string `json:"ImplementationAddress"`
	} `json:"result"`
}

func (c *BlockscoutClient) GetContractMetadata(ctx context.Context, address common.Address) (*domain.ContractMetadata, error) {
	if err := c.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.release()

	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getsourcecode")
	query.Set("address", address.Hex())
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blockscout request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockscout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blockscout returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blockscout response: %w", err)
	}

	var envelope blockscoutEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse blockscout response: %w", err)
	}
	if envelope.Status != "1" || len(envelope.Result) == 0 {
		return nil, nil
	}

	result := envelope.Result[0]
	if result.ABI == "" || strings.Contains(result.ABI, "not verified") {
		return nil, nil
	}

	var abiJSON json.RawMessage
	if err := json.Unmarshal([]byte(result.ABI), &abiJSON); err != nil {
		return nil, fmt.Errorf("blockscout returned malformed abi: %w", err)
	}

	metadata := &domain.ContractMetadata{
		Name:       result.ContractName,
		Abi:        abiJSON,
		IsVerified: true,
	}
	if result.Implementation != "" && common.IsHexAddress(result.Implementation) {
		implementation := common.HexToAddress(result.Implementation)
		if implementation != (common.Address{}) && implementation != address {
			metadata.Implementation = &implementation
		}
	}
	return metadata, nil
}
