package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abis"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

// MultisendTx is one sub-call of a MultiSend batch. The packed wire
// format concatenates (operation:u8, to:20, value:u256, dataLen:u256,
// data:dataLen bytes) tuples.
type MultisendTx struct {
	Operation uint8
	To        common.Address
	Value     *big.Int
	Data      []byte
}

var (
	multisendSelectorsOnce sync.Once
	multisendSelectorSet   map[domain.Selector]*boundFunction
)

func multisendSelectors() map[domain.Selector]*boundFunction {
	multisendSelectorsOnce.Do(func() {
		multisendSelectorSet = make(map[domain.Selector]*boundFunction)
		for _, multisendAbi := range abis.MultiSend() {
			selectors, err := selectorsFromABI(multisendAbi)
			if err != nil {
				panic(fmt.Sprintf("bundled multisend abi is invalid: %v", err))
			}
			for selector, bound := range selectors {
				multisendSelectorSet[selector] = bound
			}
		}
	})
	return multisendSelectorSet
}

// DecodeMultisendCalldata parses full multiSend calldata into its
// sub-calls. Returns an error when the selector is not a MultiSend
// function or the payload is malformed.
func DecodeMultisendCalldata(data []byte) ([]MultisendTx, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short for multisend")
	}

	bound, ok := multisendSelectors()[domain.SelectorFromData(data)]
	if !ok {
		return nil, fmt.Errorf("not a multisend selector")
	}

	values, err := bound.Arguments.UnpackValues(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multisend transactions: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected multisend argument count %d", len(values))
	}
	transactions, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("multisend transactions argument is not bytes")
	}

	return parsePackedTransactions(transactions)
}

// parsePackedTransactions walks the packed tuple concatenation
func parsePackedTransactions(transactions []byte) ([]MultisendTx, error) {
	const headerLen = 1 + 20 + 32 + 32

	var txs []MultisendTx
	for offset := 0; offset < len(transactions); {
		if len(transactions)-offset < headerLen {
			return nil, fmt.Errorf("truncated multisend transaction at offset %d", offset)
		}

		operation := transactions[offset]
		offset++

		to := common.BytesToAddress(transactions[offset : offset+20])
		offset += 20

		value := new(big.Int).SetBytes(transactions[offset : offset+32])
		offset += 32

		dataLen := new(big.Int).SetBytes(transactions[offset : offset+32])
		offset += 32

		if !dataLen.IsInt64() || dataLen.Int64() > int64(len(transactions)-offset) {
			return nil, fmt.Errorf("multisend data length %s out of bounds", dataLen)
		}
		size := int(dataLen.Int64())

		var data []byte
		if size > 0 {
			data = make([]byte, size)
			copy(data, transactions[offset:offset+size])
			offset += size
		}

		txs = append(txs, MultisendTx{
			Operation: operation,
			To:        to,
			Value:     value,
			Data:      data,
		})
	}
	return txs, nil
}

// EncodeMultisendTransactions packs sub-calls into the MultiSend wire
// format (without the ABI offset/length prefix).
func EncodeMultisendTransactions(txs []MultisendTx) []byte {
	var packed []byte
	for _, tx := range txs {
		packed = append(packed, tx.Operation)
		packed = append(packed, tx.To.Bytes()...)

		value := tx.Value
		if value == nil {
			value = big.NewInt(0)
		}
		packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
		packed = append(packed, common.LeftPadBytes(big.NewInt(int64(len(tx.Data))).Bytes(), 32)...)
		packed = append(packed, tx.Data...)
	}
	return packed
}

// decodeMultisendData decodes a MultiSend batch into serializable
// entries, recursively decoding each sub-call against its target.
// Malformed batches yield nil; the outer decoding is still returned to
// the caller.
func (s *DataDecoderService) decodeMultisendData(ctx context.Context, data []byte, chainID *int64) []domain.MultisendDecoded {
	txs, err := DecodeMultisendCalldata(data)
	if err != nil {
		s.logger.WithContext(ctx).Warnf("Problem decoding multisend transaction with data=0x%x: %v", data, err)
		return nil
	}

	decoded := make([]domain.MultisendDecoded, len(txs))
	for i, tx := range txs {
		to := tx.To
		entry := domain.MultisendDecoded{
			Operation: int(tx.Operation),
			To:        to.Hex(),
			Value:     tx.Value.String(),
		}
		if len(tx.Data) > 0 {
			dataHex := "0x" + hex.EncodeToString(tx.Data)
			entry.Data = &dataHex
			entry.DataDecoded = s.getDataDecodedOrNil(ctx, tx.Data, &to, chainID)
		}
		decoded[i] = entry
	}
	return decoded
}
