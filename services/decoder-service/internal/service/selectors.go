package service

import (
	"encoding/json"
	"fmt"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

// boundFunction is an ABI function with its selector and the argument
// codec prebuilt, ready for decoding calldata.
type boundFunction struct {
	Fn        domain.ABIFunction
	Selector  domain.Selector
	Arguments ethabi.Arguments
}

// parseABIFunctions extracts the function descriptors of an ABI
// document, skipping events, constructors and errors. Fallback
// descriptors are returned too so callers can synthesize a fallback
// match.
func parseABIFunctions(abiJSON json.RawMessage) ([]domain.ABIFunction, error) {
	var descriptors []domain.ABIFunction
	if err := json.Unmarshal(abiJSON, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse abi document: %w", err)
	}

	functions := descriptors[:0]
	for _, descriptor := range descriptors {
		if descriptor.Type == "function" || descriptor.Type == "fallback" {
			functions = append(functions, descriptor)
		}
	}
	return functions, nil
}

// canonicalType renders the canonical signature form of one input,
// expanding tuples into their component types.
func canonicalType(input domain.ABIInput) string {
	if strings.HasPrefix(input.Type, "tuple") {
		components := make([]string, len(input.Components))
		for i, component := range input.Components {
			components[i] = canonicalType(component)
		}
		return "(" + strings.Join(components, ",") + ")" + input.Type[len("tuple"):]
	}
	return input.Type
}

// functionSignature renders the canonical signature, e.g.
// "addOwnerWithThreshold(address,uint256)"
func functionSignature(fn domain.ABIFunction) string {
	types := make([]string, len(fn.Inputs))
	for i, input := range fn.Inputs {
		types[i] = canonicalType(input)
	}
	return fn.Name + "(" + strings.Join(types, ",") + ")"
}

// functionSelector derives the 4-byte selector from the keccak-256 of
// the canonical signature.
func functionSelector(fn domain.ABIFunction) domain.Selector {
	digest := crypto.Keccak256([]byte(functionSignature(fn)))
	return domain.SelectorFromData(digest)
}

func toArgumentMarshaling(inputs []domain.ABIInput) []ethabi.ArgumentMarshaling {
	marshaling := make([]ethabi.ArgumentMarshaling, len(inputs))
	for i, input := range inputs {
		marshaling[i] = ethabi.ArgumentMarshaling{
			Name:         argumentName(input.Name, i),
			Type:         input.Type,
			InternalType: input.InternalType,
			Components:   toArgumentMarshaling(input.Components),
		}
	}
	return marshaling
}

// argumentName keeps tuple components decodable when the ABI omits
// names; go-ethereum rejects anonymous components.
func argumentName(name string, index int) string {
	if name == "" {
		return fmt.Sprintf("arg%d", index)
	}
	return name
}

// bindFunction builds the argument codec for a function descriptor
func bindFunction(fn domain.ABIFunction) (*boundFunction, error) {
	arguments := make(ethabi.Arguments, len(fn.Inputs))
	for i, input := range fn.Inputs {
		abiType, err := ethabi.NewType(input.Type, input.InternalType, toArgumentMarshaling(input.Components))
		if err != nil {
			return nil, fmt.Errorf("failed to build abi type %q: %w", input.Type, err)
		}
		arguments[i] = ethabi.Argument{Name: argumentName(input.Name, i), Type: abiType}
	}

	return &boundFunction{
		Fn:        fn,
		Selector:  functionSelector(fn),
		Arguments: arguments,
	}, nil
}

// selectorsFromABI maps every function of an ABI document by selector
func selectorsFromABI(abiJSON json.RawMessage) (map[domain.Selector]*boundFunction, error) {
	functions, err := parseABIFunctions(abiJSON)
	if err != nil {
		return nil, err
	}

	selectors := make(map[domain.Selector]*boundFunction, len(functions))
	for _, fn := range functions {
		if fn.Type != "function" {
			continue
		}
		bound, err := bindFunction(fn)
		if err != nil {
			return nil, err
		}
		selectors[bound.Selector] = bound
	}
	return selectors, nil
}
