package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// executedMultisigTransaction is the only event type the service reacts to
const executedMultisigTransaction = "EXECUTED_MULTISIG_TRANSACTION"

var (
	digitsRe  = regexp.MustCompile(`^[0-9]+$`)
	hexDataRe = regexp.MustCompile(`^0x[0-9a-f]*$`)
)

// transactionServiceEvent is the bus envelope published by the
// transaction service.
type transactionServiceEvent struct {
	Type    string  `json:"type"`
	ChainID string  `json:"chainId"`
	To      string  `json:"to"`
	Data    *string `json:"data"`
}

// EventsService turns executed transaction events into metadata
// download tasks for the target contract and, for MultiSend batches,
// every inner target too.
type EventsService struct {
	enqueuer domain.TaskEnqueuer
	logger   *logging.Logger
}

// NewEventsService creates the event processor
func NewEventsService(enqueuer domain.TaskEnqueuer, logger *logging.Logger) *EventsService {
	return &EventsService{enqueuer: enqueuer, logger: logger}
}

// ProcessEvent handles one raw bus message. Messages failing validation
// are logged and dropped; there is no requeue.
func (s *EventsService) ProcessEvent(ctx context.Context, message []byte) {
	var event transactionServiceEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.WithContext(ctx).Errorf("Unsupported message. Cannot parse as JSON: %s", message)
		return
	}

	if !s.isProcessableEvent(&event) {
		return
	}

	chainID, err := strconv.ParseInt(event.ChainID, 10, 64)
	if err != nil {
		s.logger.WithContext(ctx).Errorf("Invalid chainId %q on event", event.ChainID)
		return
	}

	for _, address := range s.collectAddresses(&event) {
		if err := s.enqueuer.EnqueueMetadataFetch(ctx, address, chainID, false); err != nil {
			s.logger.WithContext(ctx).WithError(err).
				Errorf("Failed to enqueue metadata download for %s", address.Hex())
		}
	}
}

// isProcessableEvent validates the envelope: event type, decimal
// chainId, EIP-55 checksummed target and well-formed optional data.
func (s *EventsService) isProcessableEvent(event *transactionServiceEvent) bool {
	if event.Type != executedMultisigTransaction {
		return false
	}
	if !digitsRe.MatchString(event.ChainID) {
		s.logger.Warnf("Dropping event with invalid chainId %q", event.ChainID)
		return false
	}
	if !isChecksumAddress(event.To) {
		s.logger.Warnf("Dropping event with non-checksummed address %q", event.To)
		return false
	}
	if event.Data != nil && !hexDataRe.MatchString(*event.Data) {
		s.logger.Warnf("Dropping event with malformed data for %s", event.To)
		return false
	}
	return true
}

// collectAddresses returns the event target plus the distinct targets
// of an attached MultiSend batch.
func (s *EventsService) collectAddresses(event *transactionServiceEvent) []common.Address {
	to := common.HexToAddress(event.To)
	addresses := []common.Address{to}
	seen := map[common.Address]bool{to: true}

	if event.Data != nil {
		data := common.FromHex(*event.Data)
		if txs, err := DecodeMultisendCalldata(data); err == nil {
			for _, tx := range txs {
				if !seen[tx.To] {
					seen[tx.To] = true
					addresses = append(addresses, tx.To)
				}
			}
		}
	}
	return addresses
}

// isChecksumAddress reports whether the address carries a valid EIP-55
// checksum.
func isChecksumAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return common.HexToAddress(address).Hex() == address
}
