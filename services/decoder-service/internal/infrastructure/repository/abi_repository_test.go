package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abihash"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
)

func newMockAbiRepo(t *testing.T) (*AbiRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := NewAbiRepository(postgres.NewPostgresWithDB(db)).(*AbiRepository)
	return repo, mock, func() { db.Close() }
}

func abiRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "abi_hash", "abi_json", "relevance", "source_id", "created", "modified"})
}

func TestAbiGetOrCreateReturnsExistingByContentHash(t *testing.T) {
	repo, mock, cleanup := newMockAbiRepo(t)
	defer cleanup()

	abiJSON := json.RawMessage(`[{"type": "function", "name": "ping", "inputs": []}]`)
	hash, err := abihash.Hash(abiJSON)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE abi_hash = $1")).
		WithArgs(hash).
		WillReturnRows(abiRows().AddRow(int64(3), hash, []byte(abiJSON), 50, int64(1), now, now))

	abi, created, err := repo.GetOrCreate(context.Background(), abiJSON, 1, 50)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), abi.ID)
	assert.Equal(t, hash, abi.AbiHash)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbiGetOrCreateInserts(t *testing.T) {
	repo, mock, cleanup := newMockAbiRepo(t)
	defer cleanup()

	abiJSON := json.RawMessage(`[{"type": "function", "name": "ping", "inputs": []}]`)
	hash, err := abihash.Hash(abiJSON)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE abi_hash = $1")).
		WithArgs(hash).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO abi")).
		WithArgs(hash, []byte(abiJSON), 100, int64(2), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	abi, created, err := repo.GetOrCreate(context.Background(), abiJSON, 2, 100)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(9), abi.ID)
	assert.Equal(t, 100, abi.Relevance)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbiStreamByRelevanceAscending(t *testing.T) {
	repo, mock, cleanup := newMockAbiRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY relevance")).
		WillReturnRows(sqlmock.NewRows([]string{"abi_json"}).
			AddRow([]byte(`[{"name":"low"}]`)).
			AddRow([]byte(`[{"name":"high"}]`)))

	var streamed []string
	err := repo.StreamByRelevanceAscending(context.Background(), func(abiJSON json.RawMessage) error {
		streamed = append(streamed, string(abiJSON))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`[{"name":"low"}]`, `[{"name":"high"}]`}, streamed)
}

func TestAbiLastCreated(t *testing.T) {
	repo, mock, cleanup := newMockAbiRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created DESC LIMIT 1")).
		WillReturnError(sql.ErrNoRows)

	lastCreated, err := repo.LastCreated(context.Background())
	require.NoError(t, err)
	assert.Nil(t, lastCreated)
}
