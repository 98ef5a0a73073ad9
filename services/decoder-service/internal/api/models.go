package api

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

// AboutResponse describes the running service
type AboutResponse struct {
	Version string `json:"version"`
}

// ProjectPublic is the serialized project grouping
type ProjectPublic struct {
	Description string `json:"description"`
	LogoFile    string `json:"logo_file"`
}

// AbiPublic is the serialized ABI document reference
type AbiPublic struct {
	AbiJSON json.RawMessage `json:"abi_json"`
	AbiHash string          `json:"abi_hash"`
}

// ContractPublic is the serialized contract row
type ContractPublic struct {
	Address                string         `json:"address"`
	Name                   *string        `json:"name"`
	DisplayName            *string        `json:"display_name"`
	Description            *string        `json:"description"`
	ChainID                int64          `json:"chain_id"`
	TrustedForDelegateCall bool           `json:"trusted_for_delegate_call"`
	Implementation         *string        `json:"implementation"`
	LogoURL                *string        `json:"logo_url"`
	Project                *ProjectPublic `json:"project"`
	Abi                    *AbiPublic     `json:"abi"`
}

// PaginatedResponse wraps one page of results with browse links
type PaginatedResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// DataDecoderInput is the decode request body. ChainID requires To.
type DataDecoderInput struct {
	Data    string  `json:"data" binding:"required"`
	To      *string `json:"to"`
	ChainID *int64  `json:"chainId"`
}

// ParameterDecodedPublic mirrors domain.ParameterDecoded for responses
type ParameterDecodedPublic struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Value        interface{} `json:"value"`
	ValueDecoded interface{} `json:"value_decoded,omitempty"`
}

// DataDecodedResponse is the decode result with its accuracy class
type DataDecodedResponse struct {
	Method     string                   `json:"method"`
	Parameters []ParameterDecodedPublic `json:"parameters"`
	Accuracy   domain.DecodingAccuracy  `json:"accuracy"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// toContractPublic serializes a contract row, resolving the logo URL
// against the configured base.
func toContractPublic(contract *domain.Contract, logoBaseURL string) ContractPublic {
	public := ContractPublic{
		Address:                contract.Address.Hex(),
		Name:                   contract.Name,
		DisplayName:            contract.DisplayName,
		Description:            contract.Description,
		ChainID:                contract.ChainID,
		TrustedForDelegateCall: contract.TrustedForDelegateCall,
	}
	if contract.Implementation != nil {
		implementation := contract.Implementation.Hex()
		public.Implementation = &implementation
	}
	if logoBaseURL != "" {
		logoURL := strings.TrimSuffix(logoBaseURL, "/") + "/" + strings.ToLower(contract.Address.Hex()) + ".png"
		public.LogoURL = &logoURL
	}
	if contract.Project != nil {
		public.Project = &ProjectPublic{
			Description: contract.Project.Description,
			LogoFile:    contract.Project.LogoFile,
		}
	}
	if contract.Abi != nil {
		public.Abi = &AbiPublic{
			AbiJSON: contract.Abi.AbiJSON,
			AbiHash: "0x" + hex.EncodeToString(contract.Abi.AbiHash),
		}
	}
	return public
}

func toParametersPublic(parameters []domain.ParameterDecoded) []ParameterDecodedPublic {
	public := make([]ParameterDecodedPublic, len(parameters))
	for i, parameter := range parameters {
		public[i] = ParameterDecodedPublic{
			Name:         parameter.Name,
			Type:         parameter.Type,
			Value:        parameter.Value,
			ValueDecoded: parameter.ValueDecoded,
		}
	}
	return public
}
