package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
)

type AbiSourceRepository struct {
	postgresDb *postgres.Postgres
}

// NewAbiSourceRepository creates a new PostgreSQL ABI source repository
func NewAbiSourceRepository(postgresDb *postgres.Postgres) domain.AbiSourceRepository {
	return &AbiSourceRepository{postgresDb: postgresDb}
}

func (r *AbiSourceRepository) GetOrCreate(ctx context.Context, name, url string) (*domain.AbiSource, bool, error) {
	source, err := r.getByNameAndURL(ctx, name, url)
	if err != nil {
		return nil, false, err
	}
	if source != nil {
		return source, false, nil
	}

	query := `INSERT INTO abi_source (name, url) VALUES ($1, $2) RETURNING id`
	source = &domain.AbiSource{Name: name, URL: url}
	err = r.postgresDb.GetClient().QueryRowContext(ctx, query, name, url).Scan(&source.ID)
	if err != nil {
		// Concurrent insert; the unique constraint is the serialization point
		if postgres.IsUniqueViolation(err, "") {
			source, err = r.getByNameAndURL(ctx, name, url)
			if err != nil {
				return nil, false, err
			}
			return source, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert abi source: %w", err)
	}
	return source, true, nil
}

func (r *AbiSourceRepository) GetByName(ctx context.Context, name string) (*domain.AbiSource, error) {
	query := `SELECT id, name, url FROM abi_source WHERE name = $1 LIMIT 1`

	var source domain.AbiSource
	err := r.postgresDb.GetClient().QueryRowContext(ctx, query, name).Scan(&source.ID, &source.Name, &source.URL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query abi source: %w", err)
	}
	return &source, nil
}

func (r *AbiSourceRepository) getByNameAndURL(ctx context.Context, name, url string) (*domain.AbiSource, error) {
	query := `SELECT id, name, url FROM abi_source WHERE name = $1 AND url = $2 LIMIT 1`

	var source domain.AbiSource
	err := r.postgresDb.GetClient().QueryRowContext(ctx, query, name, url).Scan(&source.ID, &source.Name, &source.URL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query abi source: %w", err)
	}
	return &source, nil
}
