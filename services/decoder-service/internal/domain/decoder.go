package domain

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Selector is the first 4 bytes of a function call's calldata
type Selector [4]byte

// SelectorFromData extracts the selector from calldata. Data shorter
// than 4 bytes yields a zero selector.
func SelectorFromData(data []byte) Selector {
	var s Selector
	copy(s[:], data)
	return s
}

// ABIInput describes one function input or a tuple component
type ABIInput struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	InternalType string     `json:"internalType,omitempty"`
	Components   []ABIInput `json:"components,omitempty"`
}

// ABIFunction is the decoded form of one function descriptor of an ABI
// document. Only descriptors with type "function" or "fallback" are
// modeled; events and constructors are kept in the raw JSON but ignored
// by the decoder.
type ABIFunction struct {
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Inputs          []ABIInput `json:"inputs"`
	Outputs         []ABIInput `json:"outputs,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
}

// ParameterDecoded is one decoded, normalized calldata argument.
// ValueDecoded carries the nested decoding for MultiSend batches
// ([]MultisendDecoded) or wrapped execTransaction payloads (*DataDecoded).
type ParameterDecoded struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Value        interface{} `json:"value"`
	ValueDecoded interface{} `json:"value_decoded,omitempty"`
}

// DataDecoded is the result of decoding one calldata payload
type DataDecoded struct {
	Method     string             `json:"method"`
	Parameters []ParameterDecoded `json:"parameters"`
}

// MultisendDecoded is one sub-call of a MultiSend batch
type MultisendDecoded struct {
	Operation   int          `json:"operation"`
	To          string       `json:"to"`
	Value       string       `json:"value"`
	Data        *string      `json:"data"`
	DataDecoded *DataDecoded `json:"data_decoded"`
}

// DecodingAccuracy classifies how specific the ABI used for decoding was
type DecodingAccuracy string

const (
	AccuracyFullMatch         DecodingAccuracy = "FULL_MATCH"
	AccuracyPartialMatch      DecodingAccuracy = "PARTIAL_MATCH"
	AccuracyOnlyFunctionMatch DecodingAccuracy = "ONLY_FUNCTION_MATCH"
	AccuracyNoMatch           DecodingAccuracy = "NO_MATCH"
)

// ContractSource identifies the provider that served contract metadata
type ContractSource string

const (
	SourceEtherscan  ContractSource = "Etherscan"
	SourceSourcify   ContractSource = "Sourcify"
	SourceBlockscout ContractSource = "Blockscout"
)

// ContractMetadata is what a block explorer knows about a contract
type ContractMetadata struct {
	Name           string
	Abi            json.RawMessage
	IsVerified     bool
	Implementation *common.Address
}

// EnhancedContractMetadata pairs provider metadata with the request that
// produced it and the provider that won.
type EnhancedContractMetadata struct {
	Address  common.Address
	ChainID  int64
	Metadata *ContractMetadata
	Source   ContractSource
}

// TaskEnqueuer enqueues background work. Implemented by the task runtime.
type TaskEnqueuer interface {
	EnqueueMetadataFetch(ctx context.Context, address common.Address, chainID int64, skipAttemptCheck bool) error
}
