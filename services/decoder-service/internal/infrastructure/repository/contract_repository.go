package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
)

type ContractRepository struct {
	postgresDb *postgres.Postgres
}

// NewContractRepository creates a new PostgreSQL contract repository
func NewContractRepository(postgresDb *postgres.Postgres) domain.ContractRepository {
	return &ContractRepository{postgresDb: postgresDb}
}

const contractColumns = `
	c.id, c.address, c.chain_id, c.name, c.display_name, c.description,
	c.trusted_for_delegate_call, c.implementation, c.fetch_retries,
	c.abi_id, c.project_id, c.created, c.modified
`

func (r *ContractRepository) Get(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM contract c
		WHERE c.address = $1 AND c.chain_id = $2
		LIMIT 1
	`, contractColumns)

	row := r.postgresDb.GetClient().QueryRowContext(ctx, query, address.Bytes(), chainID)
	contract, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}
	return contract, nil
}

func (r *ContractRepository) GetOrCreate(ctx context.Context, address common.Address, chainID int64) (*domain.Contract, bool, error) {
	contract, err := r.Get(ctx, address, chainID)
	if err != nil {
		return nil, false, err
	}
	if contract != nil {
		return contract, false, nil
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO contract (address, chain_id, trusted_for_delegate_call, fetch_retries, created, modified)
		VALUES ($1, $2, FALSE, 0, $3, $3)
		RETURNING id
	`

	contract = &domain.Contract{
		Address:  address,
		ChainID:  chainID,
		Created:  now,
		Modified: now,
	}
	err = r.postgresDb.GetClient().QueryRowContext(ctx, query, address.Bytes(), chainID, now).Scan(&contract.ID)
	if err != nil {
		// Concurrent create on (address, chain_id); reread the winner
		if postgres.IsUniqueViolation(err, postgres.ConstraintContractAddressChain) {
			contract, err = r.Get(ctx, address, chainID)
			if err != nil {
				return nil, false, err
			}
			if contract != nil {
				return contract, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to insert contract: %w", err)
	}
	return contract, true, nil
}

func (r *ContractRepository) Update(ctx context.Context, contract *domain.Contract) error {
	now := time.Now().UTC()
	query := `
		UPDATE contract SET
			name = $1, display_name = $2, description = $3,
			trusted_for_delegate_call = $4, implementation = $5,
			fetch_retries = $6, abi_id = $7, project_id = $8, modified = $9
		WHERE id = $10
	`

	var implementation []byte
	if contract.Implementation != nil {
		implementation = contract.Implementation.Bytes()
	}

	_, err := r.postgresDb.GetClient().ExecContext(ctx, query,
		contract.Name, contract.DisplayName, contract.Description,
		contract.TrustedForDelegateCall, implementation,
		contract.FetchRetries, contract.AbiID, contract.ProjectID, now,
		contract.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	contract.Modified = now
	return nil
}

// buildFilter renders the WHERE clause for a contracts filter
func buildFilter(filter domain.ContractsFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.Address != nil {
		args = append(args, filter.Address.Bytes())
		conditions = append(conditions, fmt.Sprintf("c.address = $%d", len(args)))
	}
	if len(filter.ChainIDs) > 0 {
		placeholders := make([]string, 0, len(filter.ChainIDs))
		for _, chainID := range filter.ChainIDs {
			args = append(args, chainID)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, fmt.Sprintf("c.chain_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.TrustedForDelegateCall != nil {
		args = append(args, *filter.TrustedForDelegateCall)
		conditions = append(conditions, fmt.Sprintf("c.trusted_for_delegate_call = $%d", len(args)))
	}
	if filter.OnlyWithAbi {
		conditions = append(conditions, "c.abi_id IS NOT NULL")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *ContractRepository) List(ctx context.Context, filter domain.ContractsFilter, limit, offset int) ([]*domain.Contract, error) {
	where, args := buildFilter(filter)

	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT %s,
			a.id, a.abi_hash, a.abi_json,
			p.id, p.name, p.description, p.logo_file
		FROM contract c
		LEFT JOIN abi a ON c.abi_id = a.id
		LEFT JOIN project p ON c.project_id = p.id
		%s
		ORDER BY c.address, c.chain_id
		LIMIT $%d OFFSET $%d
	`, contractColumns, where, limitPos, offsetPos)

	rows, err := r.postgresDb.GetClient().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*domain.Contract
	for rows.Next() {
		contract, err := scanContractWithJoins(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

// Count intentionally builds the query without ORDER BY
func (r *ContractRepository) Count(ctx context.Context, filter domain.ContractsFilter) (int, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM contract c %s`, where)

	var count int
	if err := r.postgresDb.GetClient().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return count, nil
}

func (r *ContractRepository) AbiFor(ctx context.Context, address common.Address, chainID *int64) (json.RawMessage, error) {
	var query string
	var args []interface{}

	if chainID != nil {
		query = `
			SELECT a.abi_json
			FROM contract c
			JOIN abi a ON c.abi_id = a.id
			WHERE c.address = $1 AND c.chain_id = $2
			LIMIT 1
		`
		args = []interface{}{address.Bytes(), *chainID}
	} else {
		query = `
			SELECT a.abi_json
			FROM contract c
			JOIN abi a ON c.abi_id = a.id
			WHERE c.address = $1
			ORDER BY c.chain_id
			LIMIT 1
		`
		args = []interface{}{address.Bytes()}
	}

	var abiJSON []byte
	err := r.postgresDb.GetClient().QueryRowContext(ctx, query, args...).Scan(&abiJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract abi: %w", err)
	}
	return json.RawMessage(abiJSON), nil
}

func (r *ContractRepository) StreamWithoutAbi(ctx context.Context, maxRetries int, fn func(c *domain.Contract) error) error {
	query := fmt.Sprintf(`
		SELECT %s
		FROM contract c
		WHERE c.abi_id IS NULL AND c.fetch_retries <= $1
	`, contractColumns)
	return r.streamContracts(ctx, query, fn, maxRetries)
}

func (r *ContractRepository) StreamProxyContracts(ctx context.Context, fn func(c *domain.Contract) error) error {
	query := fmt.Sprintf(`
		SELECT %s
		FROM contract c
		WHERE c.implementation IS NOT NULL
	`, contractColumns)
	return r.streamContracts(ctx, query, fn)
}

// streamContracts iterates rows one at a time; the driver keeps a
// server-side cursor so large result sets are never materialized.
func (r *ContractRepository) streamContracts(ctx context.Context, query string, fn func(c *domain.Contract) error, args ...interface{}) error {
	rows, err := r.postgresDb.GetClient().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to stream contracts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return fmt.Errorf("failed to scan contract row: %w", err)
		}
		if err := fn(contract); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *ContractRepository) UpdateInfo(ctx context.Context, address common.Address, name, displayName string, trustedForDelegateCall bool) (int64, error) {
	now := time.Now().UTC()
	query := `
		UPDATE contract SET
			name = $1, display_name = $2, trusted_for_delegate_call = $3, modified = $4
		WHERE address = $5
	`

	result, err := r.postgresDb.GetClient().ExecContext(ctx, query,
		name, displayName, trustedForDelegateCall, now, address.Bytes(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update contract info: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var contract domain.Contract
	var address, implementation []byte
	var name, displayName, description sql.NullString
	var abiID, projectID sql.NullInt64

	err := row.Scan(
		&contract.ID, &address, &contract.ChainID, &name, &displayName, &description,
		&contract.TrustedForDelegateCall, &implementation, &contract.FetchRetries,
		&abiID, &projectID, &contract.Created, &contract.Modified,
	)
	if err != nil {
		return nil, err
	}

	fillContract(&contract, address, implementation, name, displayName, description, abiID, projectID)
	return &contract, nil
}

func scanContractWithJoins(row rowScanner) (*domain.Contract, error) {
	var contract domain.Contract
	var address, implementation []byte
	var name, displayName, description sql.NullString
	var abiID, projectID sql.NullInt64

	var joinedAbiID sql.NullInt64
	var joinedAbiHash, joinedAbiJSON []byte
	var joinedProjectID sql.NullInt64
	var joinedProjectName, joinedProjectDescription, joinedProjectLogo sql.NullString

	err := row.Scan(
		&contract.ID, &address, &contract.ChainID, &name, &displayName, &description,
		&contract.TrustedForDelegateCall, &implementation, &contract.FetchRetries,
		&abiID, &projectID, &contract.Created, &contract.Modified,
		&joinedAbiID, &joinedAbiHash, &joinedAbiJSON,
		&joinedProjectID, &joinedProjectName, &joinedProjectDescription, &joinedProjectLogo,
	)
	if err != nil {
		return nil, err
	}

	fillContract(&contract, address, implementation, name, displayName, description, abiID, projectID)

	if joinedAbiID.Valid {
		contract.Abi = &domain.Abi{
			ID:      joinedAbiID.Int64,
			AbiHash: joinedAbiHash,
			AbiJSON: json.RawMessage(joinedAbiJSON),
		}
	}
	if joinedProjectID.Valid {
		contract.Project = &domain.Project{
			ID:          joinedProjectID.Int64,
			Name:        joinedProjectName.String,
			Description: joinedProjectDescription.String,
			LogoFile:    joinedProjectLogo.String,
		}
	}
	return &contract, nil
}

func fillContract(contract *domain.Contract, address, implementation []byte,
	name, displayName, description sql.NullString, abiID, projectID sql.NullInt64) {

	contract.Address = common.BytesToAddress(address)
	if len(implementation) > 0 {
		impl := common.BytesToAddress(implementation)
		contract.Implementation = &impl
	}
	if name.Valid {
		contract.Name = &name.String
	}
	if displayName.Valid {
		contract.DisplayName = &displayName.String
	}
	if description.Valid {
		contract.Description = &description.String
	}
	if abiID.Valid {
		id := abiID.Int64
		contract.AbiID = &id
	}
	if projectID.Valid {
		id := projectID.Int64
		contract.ProjectID = &id
	}
}
