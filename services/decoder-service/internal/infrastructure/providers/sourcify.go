package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

const sourcifyBaseURL = "https://sourcify.dev/server"

// sourcifyChains are chains with verification support on the public
// Sourcify server.
var sourcifyChains = map[int64]bool{
	1:        true,
	10:       true,
	56:       true,
	100:      true,
	137:      true,
	8453:     true,
	42161:    true,
	43114:    true,
	11155111: true,
}

// SourcifyClient fetches contract metadata from the Sourcify file tree.
// The ABI lives in the compiler's metadata.json of a full or partial
// match.
type SourcifyClient struct {
	chainID    int64
	baseURL    string
	httpClient *http.Client
	limiter    *limiter
}

func NewSourcifyClient(chainID int64, maxRequests int, timeout time.Duration) (*SourcifyClient, error) {
	if !sourcifyChains[chainID] {
		return nil, fmt.Errorf("%w: sourcify does not serve chain %d", ErrChainNotSupported, chainID)
	}
	return &SourcifyClient{
		chainID:    chainID,
		baseURL:    sourcifyBaseURL,
		httpClient: newHTTPClient(timeout),
		limiter:    newLimiter(maxRequests),
	}, nil
}

func (c *SourcifyClient) Source() domain.ContractSource {
	return domain.SourceSourcify
}

type sourcifyFilesResponse struct {
	Status string `json:"status"`
	Files  []struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"files"`
}

type sourcifyMetadata struct {
	Output struct {
		Abi json.RawMessage `json:"abi"`
	} `json:"output"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
	} `json:"settings"`
}

func (c *SourcifyClient) GetContractMetadata(ctx context.Context, address common.Address) (*domain.ContractMetadata, error) {
	if err := c.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.release()

	endpoint := fmt.Sprintf("%s/files/any/%d/%s", c.baseURL, c.chainID, address.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sourcify request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sourcify request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("sourcify returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sourcify response: %w", err)
	}

	var files sourcifyFilesResponse
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("failed to parse sourcify response: %w", err)
	}

	for _, file := range files.Files {
		if file.Name != "metadata.json" {
			continue
		}

		var metadata sourcifyMetadata
		if err := json.Unmarshal([]byte(file.Content), &metadata); err != nil {
			return nil, fmt.Errorf("sourcify returned malformed metadata: %w", err)
		}
		if len(metadata.Output.Abi) == 0 {
			continue
		}

		var name string
		for _, contractName := range metadata.Settings.CompilationTarget {
			name = contractName
			break
		}

		return &domain.ContractMetadata{
			Name:       name,
			Abi:        metadata.Output.Abi,
			IsVerified: files.Status == "full",
		}, nil
	}
	return nil, nil
}
