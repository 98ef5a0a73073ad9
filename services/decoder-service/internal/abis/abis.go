// Package abis bundles the ABI documents the service ships with: the
// Safe contract family, the MultiSend libraries and a handful of
// widely-used third-party contracts. They are inserted into the store
// on startup and the MultiSend ABIs additionally drive nested decoding.
package abis

import (
	"embed"
	"encoding/json"
)

//go:embed *.json
var files embed.FS

func mustRead(name string) json.RawMessage {
	data, err := files.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(data)
}

// SafeContracts returns the Safe wallet ABIs, highest seeding relevance
func SafeContracts() []json.RawMessage {
	return []json.RawMessage{
		mustRead("safe_v1_1_1.json"),
		mustRead("safe_v1_4_1.json"),
	}
}

// SafeLibraries returns the Safe library ABIs (MultiSend and friends)
func SafeLibraries() []json.RawMessage {
	return []json.RawMessage{
		mustRead("multi_send.json"),
		mustRead("multi_send_call_only.json"),
		mustRead("sign_message_lib.json"),
	}
}

// Erc returns the token standard ABIs
func Erc() []json.RawMessage {
	return []json.RawMessage{
		mustRead("erc20.json"),
		mustRead("erc721.json"),
	}
}

// ThirdParties returns well-known third-party protocol ABIs
func ThirdParties() []json.RawMessage {
	return []json.RawMessage{
		mustRead("gnosis_protocol.json"),
	}
}

// MultiSend returns the ABIs whose selectors identify MultiSend batches
func MultiSend() []json.RawMessage {
	return []json.RawMessage{
		mustRead("multi_send.json"),
		mustRead("multi_send_call_only.json"),
	}
}
