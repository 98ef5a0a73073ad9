package service

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
)

// normalizeValue converts a decoded ABI value into a representation
// that survives JSON round-trips in any language: integers become
// decimal strings, byte strings become 0x-prefixed hex, addresses keep
// their checksummed form, booleans render as "True"/"False", and
// composites are mapped recursively.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case string:
		return v
	case int8, int16, int32, int64, int,
		uint8, uint16, uint32, uint64, uint:
		return fmt.Sprintf("%d", v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		// Fixed byte arrays (bytes1..bytes32) become hex strings
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				raw[i] = byte(rv.Index(i).Uint())
			}
			return "0x" + hex.EncodeToString(raw)
		}
		normalized := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			normalized[i] = normalizeValue(rv.Index(i).Interface())
		}
		return normalized
	case reflect.Struct:
		// Tuples decode into anonymous structs; map them to lists
		normalized := make([]interface{}, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			normalized[i] = normalizeValue(rv.Field(i).Interface())
		}
		return normalized
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	}

	return value
}
