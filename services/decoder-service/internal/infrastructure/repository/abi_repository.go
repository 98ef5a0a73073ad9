package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abihash"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
)

type AbiRepository struct {
	postgresDb *postgres.Postgres
}

// NewAbiRepository creates a new PostgreSQL ABI repository
func NewAbiRepository(postgresDb *postgres.Postgres) domain.AbiRepository {
	return &AbiRepository{postgresDb: postgresDb}
}

func (r *AbiRepository) GetByHash(ctx context.Context, hash []byte) (*domain.Abi, error) {
	query := `
		SELECT id, abi_hash, abi_json, relevance, source_id, created, modified
		FROM abi
		WHERE abi_hash = $1
		LIMIT 1
	`

	var abi domain.Abi
	var abiJSON []byte
	err := r.postgresDb.GetClient().QueryRowContext(ctx, query, hash).Scan(
		&abi.ID, &abi.AbiHash, &abiJSON, &abi.Relevance, &abi.SourceID, &abi.Created, &abi.Modified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query abi by hash: %w", err)
	}
	abi.AbiJSON = json.RawMessage(abiJSON)
	return &abi, nil
}

func (r *AbiRepository) GetOrCreate(ctx context.Context, abiJSON json.RawMessage, sourceID int64, relevance int) (*domain.Abi, bool, error) {
	hash, err := abihash.Hash(abiJSON)
	if err != nil {
		return nil, false, err
	}

	existing, err := r.GetByHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO abi (abi_hash, abi_json, relevance, source_id, created, modified)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`

	abi := &domain.Abi{
		AbiHash:   hash,
		AbiJSON:   abiJSON,
		Relevance: relevance,
		SourceID:  sourceID,
		Created:   now,
		Modified:  now,
	}
	err = r.postgresDb.GetClient().QueryRowContext(ctx, query,
		hash, []byte(abiJSON), relevance, sourceID, now,
	).Scan(&abi.ID)
	if err != nil {
		// Lost a race on abi_hash; the existing row is the same content
		if postgres.IsUniqueViolation(err, "") {
			existing, err = r.GetByHash(ctx, hash)
			if err != nil {
				return nil, false, err
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to insert abi: %w", err)
	}
	return abi, true, nil
}

func (r *AbiRepository) StreamByRelevanceAscending(ctx context.Context, fn func(abiJSON json.RawMessage) error) error {
	query := `SELECT abi_json FROM abi ORDER BY relevance`
	return r.streamAbiJSON(ctx, query, fn)
}

func (r *AbiRepository) StreamCreatedAfter(ctx context.Context, when time.Time, fn func(abiJSON json.RawMessage) error) error {
	query := `SELECT abi_json FROM abi WHERE created > $1 ORDER BY created ASC`
	return r.streamAbiJSON(ctx, query, fn, when)
}

// streamAbiJSON iterates the result set row by row so large ABI tables
// are never materialized in memory.
func (r *AbiRepository) streamAbiJSON(ctx context.Context, query string, fn func(abiJSON json.RawMessage) error, args ...interface{}) error {
	rows, err := r.postgresDb.GetClient().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to stream abis: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var abiJSON []byte
		if err := rows.Scan(&abiJSON); err != nil {
			return fmt.Errorf("failed to scan abi row: %w", err)
		}
		if err := fn(json.RawMessage(abiJSON)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *AbiRepository) LastCreated(ctx context.Context) (*time.Time, error) {
	query := `SELECT created FROM abi ORDER BY created DESC LIMIT 1`

	var created time.Time
	err := r.postgresDb.GetClient().QueryRowContext(ctx, query).Scan(&created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last abi creation date: %w", err)
	}
	return &created, nil
}
