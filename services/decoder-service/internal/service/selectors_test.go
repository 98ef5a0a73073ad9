package service

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abis"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

func TestFunctionSignature(t *testing.T) {
	fn := domain.ABIFunction{
		Name: "addOwnerWithThreshold",
		Type: "function",
		Inputs: []domain.ABIInput{
			{Name: "owner", Type: "address"},
			{Name: "_threshold", Type: "uint256"},
		},
	}
	assert.Equal(t, "addOwnerWithThreshold(address,uint256)", functionSignature(fn))
}

func TestFunctionSignatureWithTuple(t *testing.T) {
	fn := domain.ABIFunction{
		Name: "fill",
		Type: "function",
		Inputs: []domain.ABIInput{
			{
				Name: "order",
				Type: "tuple",
				Components: []domain.ABIInput{
					{Name: "maker", Type: "address"},
					{Name: "amounts", Type: "uint256[]"},
				},
			},
			{Name: "batches", Type: "tuple[]", Components: []domain.ABIInput{
				{Name: "id", Type: "bytes32"},
			}},
		},
	}
	assert.Equal(t, "fill((address,uint256[]),(bytes32)[])", functionSignature(fn))
}

func TestFunctionSelector(t *testing.T) {
	testCases := []struct {
		fn       domain.ABIFunction
		expected string
	}{
		{
			domain.ABIFunction{Name: "addOwnerWithThreshold", Type: "function", Inputs: []domain.ABIInput{
				{Name: "owner", Type: "address"}, {Name: "_threshold", Type: "uint256"},
			}},
			"0d582f13",
		},
		{
			domain.ABIFunction{Name: "multiSend", Type: "function", Inputs: []domain.ABIInput{
				{Name: "transactions", Type: "bytes"},
			}},
			"8d80ff0a",
		},
		{
			domain.ABIFunction{Name: "transfer", Type: "function", Inputs: []domain.ABIInput{
				{Name: "to", Type: "address"}, {Name: "value", Type: "uint256"},
			}},
			"a9059cbb",
		},
		{
			domain.ABIFunction{Name: "setPreSignature", Type: "function", Inputs: []domain.ABIInput{
				{Name: "orderUid", Type: "bytes"}, {Name: "signed", Type: "bool"},
			}},
			"ec6cb13f",
		},
	}

	for _, tc := range testCases {
		selector := functionSelector(tc.fn)
		assert.Equal(t, tc.expected, hex.EncodeToString(selector[:]), tc.fn.Name)
	}
}

func TestExecTransactionSelectorFromBundledABI(t *testing.T) {
	selectors, err := selectorsFromABI(abis.SafeContracts()[0])
	require.NoError(t, err)

	bound, ok := selectors[execTransactionSelector]
	require.True(t, ok, "bundled Safe ABI must contain execTransaction")
	assert.Equal(t, "execTransaction", bound.Fn.Name)
	assert.Len(t, bound.Arguments, 10)
}

func TestSelectorsFromABISkipsEventsAndFallback(t *testing.T) {
	abiJSON := json.RawMessage(`[
		{"type": "event", "name": "Transfer", "inputs": []},
		{"type": "fallback"},
		{"type": "function", "name": "ping", "inputs": []}
	]`)

	selectors, err := selectorsFromABI(abiJSON)
	require.NoError(t, err)
	assert.Len(t, selectors, 1)
	for _, bound := range selectors {
		assert.Equal(t, "ping", bound.Fn.Name)
	}
}

func TestBindFunctionRejectsUnknownType(t *testing.T) {
	_, err := bindFunction(domain.ABIFunction{
		Name: "broken", Type: "function",
		Inputs: []domain.ABIInput{{Name: "x", Type: "uint257"}},
	})
	assert.Error(t, err)
}
