package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/cache"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/service"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

var hexDataRe = regexp.MustCompile(`^0x[0-9a-f]*$`)

// Handlers implements the API endpoints over the core services
type Handlers struct {
	contractService *service.ContractService
	decoderService  *service.DataDecoderService
	responseCache   *cache.ResponseCache
	logger          *logging.Logger
	version         string
	logoBaseURL     string
}

// NewHandlers wires the endpoint handlers
func NewHandlers(contractService *service.ContractService, decoderService *service.DataDecoderService,
	responseCache *cache.ResponseCache, logger *logging.Logger, version, logoBaseURL string) *Handlers {
	return &Handlers{
		contractService: contractService,
		decoderService:  decoderService,
		responseCache:   responseCache,
		logger:          logger,
		version:         version,
		logoBaseURL:     logoBaseURL,
	}
}

// About reports the service version
func (h *Handlers) About(c *gin.Context) {
	c.JSON(http.StatusOK, AboutResponse{Version: h.version})
}

// parseChainIDs reads the chain_ids query parameter, accepting both
// repeated parameters and comma-separated lists.
func parseChainIDs(c *gin.Context) ([]int64, bool) {
	var chainIDs []int64
	for _, raw := range c.QueryArray("chain_ids") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chainID, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, false
			}
			chainIDs = append(chainIDs, chainID)
		}
	}
	return chainIDs, true
}

// ListContracts serves GET /api/v1/contracts
func (h *Handlers) ListContracts(c *gin.Context) {
	chainIDs, ok := parseChainIDs(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Invalid chain_ids"})
		return
	}

	filter := domain.ContractsFilter{ChainIDs: chainIDs}
	if rawTrusted := c.Query("trusted_for_delegate_call"); rawTrusted != "" {
		trusted, err := strconv.ParseBool(rawTrusted)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Invalid trusted_for_delegate_call"})
			return
		}
		filter.TrustedForDelegateCall = &trusted
	}

	h.listContracts(c, filter, nil)
}

// GetContractsByAddress serves GET /api/v1/contracts/{address}. The
// response is cached per address; any metadata update for the address
// drops the whole cache entry.
func (h *Handlers) GetContractsByAddress(c *gin.Context) {
	rawAddress := c.Param("address")
	if !isChecksumAddress(rawAddress) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Address is not checksummed"})
		return
	}
	address := common.HexToAddress(rawAddress)

	chainIDs, ok := parseChainIDs(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Invalid chain_ids"})
		return
	}

	field := cache.FieldKey(c.Request.URL.Path, map[string]string{
		"chain_ids": strings.Join(c.QueryArray("chain_ids"), ","),
		"limit":     c.Query("limit"),
		"offset":    c.Query("offset"),
	})
	if cached, ok := h.responseCache.Get(c.Request.Context(), address, field); ok {
		c.Data(http.StatusOK, "application/json", []byte(cached))
		return
	}

	filter := domain.ContractsFilter{Address: &address, ChainIDs: chainIDs}
	h.listContracts(c, filter, func(response PaginatedResponse) {
		serialized, err := json.Marshal(response)
		if err != nil {
			return
		}
		if err := h.responseCache.Set(c.Request.Context(), address, field, string(serialized)); err != nil {
			h.logger.WithContext(c.Request.Context()).WithError(err).Warn("Failed to cache contracts response")
		}
	})
}

// listContracts runs the filtered, paginated query and renders the page
func (h *Handlers) listContracts(c *gin.Context, filter domain.ContractsFilter, onResponse func(PaginatedResponse)) {
	pagination := paginationFromRequest(c.Request)

	contracts, count, err := h.contractService.GetContracts(c.Request.Context(), filter, pagination.Limit, pagination.Offset)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Failed to list contracts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Internal server error"})
		return
	}

	results := make([]ContractPublic, len(contracts))
	for i, contract := range contracts {
		results[i] = toContractPublic(contract, h.logoBaseURL)
	}

	baseURL := proxyAwareURL(c.Request)
	response := PaginatedResponse{
		Count:    count,
		Next:     pagination.NextLink(baseURL, count),
		Previous: pagination.PreviousLink(baseURL),
		Results:  results,
	}
	if onResponse != nil {
		onResponse(response)
	}
	c.JSON(http.StatusOK, response)
}

// DataDecoder serves POST /api/v1/data-decoder
func (h *Handlers) DataDecoder(c *gin.Context) {
	var input DataDecoderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: "Invalid request body"})
		return
	}

	if !hexDataRe.MatchString(input.Data) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Data is not a valid hex string"})
		return
	}
	if input.ChainID != nil && input.To == nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: "chainId requires to"})
		return
	}

	var address *common.Address
	if input.To != nil {
		if !isChecksumAddress(*input.To) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Address is not checksummed"})
			return
		}
		to := common.HexToAddress(*input.To)
		address = &to
	}

	ctx := c.Request.Context()

	// Pick up ABIs stored since the last decode before resolving
	if _, err := h.decoderService.LoadNewAbis(ctx); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to load new ABIs")
	}

	data := common.FromHex(input.Data)
	decoded, err := h.decoderService.GetDataDecoded(ctx, data, address, input.ChainID)
	if err != nil {
		if errors.Is(err, domain.ErrCannotDecode) {
			c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Cannot find function selector to decode data"})
			return
		}
		h.logger.WithContext(ctx).WithError(err).Error("Problem decoding data")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Internal server error"})
		return
	}

	accuracy := h.decoderService.GetDecodingAccuracy(ctx, data, address, input.ChainID)
	c.JSON(http.StatusOK, DataDecodedResponse{
		Method:     decoded.Method,
		Parameters: toParametersPublic(decoded.Parameters),
		Accuracy:   accuracy,
	})
}

// isChecksumAddress reports whether the address carries a valid EIP-55
// checksum.
func isChecksumAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return common.HexToAddress(address).Hex() == address
}
