package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AbiSource identifies where an ABI was obtained from (e.g. "Etherscan").
// Rows are seeded once and referenced, never rewritten.
type AbiSource struct {
	ID   int64
	Name string
	URL  string
}

// Abi is a content-addressed ABI document. AbiHash is derived from the
// canonical JSON serialization of AbiJSON, so two rows with equal
// AbiJSON never coexist. Immutable after creation.
type Abi struct {
	ID        int64
	AbiHash   []byte
	AbiJSON   json.RawMessage
	Relevance int
	SourceID  int64
	Created   time.Time
	Modified  time.Time
}

// Project is an optional grouping for contracts
type Project struct {
	ID          int64
	Name        string
	Description string
	LogoFile    string
}

// Contract is a row per (address, chain_id). Created lazily when a
// metadata fetch begins or an event references the address.
type Contract struct {
	ID                     int64
	Address                common.Address
	ChainID                int64
	Name                   *string
	DisplayName            *string
	Description            *string
	TrustedForDelegateCall bool
	Implementation         *common.Address
	FetchRetries           int
	AbiID                  *int64
	ProjectID              *int64
	Created                time.Time
	Modified               time.Time

	// Joined rows, populated by list queries
	Abi     *Abi
	Project *Project
}

// HasAbi reports whether an ABI has been assigned to the contract
func (c *Contract) HasAbi() bool {
	return c.AbiID != nil
}

// ContractsFilter narrows contract list queries
type ContractsFilter struct {
	Address                *common.Address
	ChainIDs               []int64
	TrustedForDelegateCall *bool
	OnlyWithAbi            bool
}

// AbiRepository provides access to stored ABIs
type AbiRepository interface {
	GetByHash(ctx context.Context, hash []byte) (*Abi, error)
	GetOrCreate(ctx context.Context, abiJSON json.RawMessage, sourceID int64, relevance int) (*Abi, bool, error)
	// StreamByRelevanceAscending yields every ABI JSON, the ones with
	// less relevance first, one row at a time.
	StreamByRelevanceAscending(ctx context.Context, fn func(abiJSON json.RawMessage) error) error
	// StreamCreatedAfter yields ABI JSONs created strictly after the
	// given timestamp, oldest first.
	StreamCreatedAfter(ctx context.Context, when time.Time, fn func(abiJSON json.RawMessage) error) error
	LastCreated(ctx context.Context) (*time.Time, error)
}

// AbiSourceRepository provides access to ABI sources
type AbiSourceRepository interface {
	GetOrCreate(ctx context.Context, name, url string) (*AbiSource, bool, error)
	GetByName(ctx context.Context, name string) (*AbiSource, error)
}

// ContractRepository provides access to stored contracts
type ContractRepository interface {
	Get(ctx context.Context, address common.Address, chainID int64) (*Contract, error)
	GetOrCreate(ctx context.Context, address common.Address, chainID int64) (*Contract, bool, error)
	Update(ctx context.Context, contract *Contract) error
	List(ctx context.Context, filter ContractsFilter, limit, offset int) ([]*Contract, error)
	Count(ctx context.Context, filter ContractsFilter) (int, error)
	// AbiFor returns the ABI JSON for the contract at the given address.
	// When chainID is nil, candidates are sorted by ascending chain id
	// and the first one wins.
	AbiFor(ctx context.Context, address common.Address, chainID *int64) (json.RawMessage, error)
	// StreamWithoutAbi yields contracts with no ABI and fetch_retries <= maxRetries
	StreamWithoutAbi(ctx context.Context, maxRetries int, fn func(c *Contract) error) error
	// StreamProxyContracts yields contracts with an implementation address set
	StreamProxyContracts(ctx context.Context, fn func(c *Contract) error) error
	// UpdateInfo updates name, display name and delegate call trust for
	// every chain where the address is known. Returns affected rows.
	UpdateInfo(ctx context.Context, address common.Address, name, displayName string, trustedForDelegateCall bool) (int64, error)
}
