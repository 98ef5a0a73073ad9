package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
)

var (
	testAddress = common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552")
	testNow     = time.Now().UTC()
)

func newMockRepo(t *testing.T) (domain.ContractRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := NewContractRepository(postgres.NewPostgresWithDB(db))
	return repo, mock, func() { db.Close() }
}

func contractRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "address", "chain_id", "name", "display_name", "description",
		"trusted_for_delegate_call", "implementation", "fetch_retries",
		"abi_id", "project_id", "created", "modified",
	})
}

func TestContractGet(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	implementation := common.HexToAddress("0x43506849D7C04F9138D1A2050bbF3A0c054402dd")
	mock.ExpectQuery(regexp.QuoteMeta("FROM contract c")).
		WithArgs(testAddress.Bytes(), int64(100)).
		WillReturnRows(contractRows().AddRow(
			1, testAddress.Bytes(), int64(100), "Safe", "Safe 1.3.0", nil,
			true, implementation.Bytes(), 2,
			int64(42), nil, testNow, testNow,
		))

	contract, err := repo.Get(context.Background(), testAddress, 100)
	require.NoError(t, err)
	require.NotNil(t, contract)

	assert.Equal(t, testAddress, contract.Address)
	assert.Equal(t, int64(100), contract.ChainID)
	require.NotNil(t, contract.Name)
	assert.Equal(t, "Safe", *contract.Name)
	assert.True(t, contract.TrustedForDelegateCall)
	require.NotNil(t, contract.Implementation)
	assert.Equal(t, implementation, *contract.Implementation)
	assert.Equal(t, 2, contract.FetchRetries)
	require.NotNil(t, contract.AbiID)
	assert.Equal(t, int64(42), *contract.AbiID)
	assert.Nil(t, contract.ProjectID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContractGetNotFound(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM contract c")).
		WithArgs(testAddress.Bytes(), int64(1)).
		WillReturnError(sql.ErrNoRows)

	contract, err := repo.Get(context.Background(), testAddress, 1)
	require.NoError(t, err)
	assert.Nil(t, contract)
}

func TestContractGetOrCreateInserts(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM contract c")).
		WithArgs(testAddress.Bytes(), int64(1)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO contract")).
		WithArgs(testAddress.Bytes(), int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	contract, created, err := repo.GetOrCreate(context.Background(), testAddress, 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(7), contract.ID)
	assert.Zero(t, contract.FetchRetries)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContractAbiForWithoutChainSortsByChain(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.chain_id")).
		WithArgs(testAddress.Bytes()).
		WillReturnRows(sqlmock.NewRows([]string{"abi_json"}).AddRow([]byte(`[{"type":"function"}]`)))

	abiJSON, err := repo.AbiFor(context.Background(), testAddress, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"function"}]`, string(abiJSON))
}

func TestContractCountHasNoOrderBy(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	trusted := true
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contract c WHERE [^;]*trusted_for_delegate_call = \$1$`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := repo.Count(context.Background(), domain.ContractsFilter{TrustedForDelegateCall: &trusted})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestContractUpdateInfo(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contract SET")).
		WithArgs("MultiSend", "Safe: MultiSend 1.4.1", false, sqlmock.AnyArg(), testAddress.Bytes()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affectedRows, err := repo.UpdateInfo(context.Background(), testAddress, "MultiSend", "Safe: MultiSend 1.4.1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), affectedRows)
}

func TestContractStreamWithoutAbi(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("c.abi_id IS NULL AND c.fetch_retries <= $1")).
		WithArgs(3).
		WillReturnRows(contractRows().
			AddRow(1, testAddress.Bytes(), int64(1), nil, nil, nil, false, nil, 0, nil, nil, testNow, testNow).
			AddRow(2, testAddress.Bytes(), int64(2), nil, nil, nil, false, nil, 1, nil, nil, testNow, testNow))

	var streamed []*domain.Contract
	err := repo.StreamWithoutAbi(context.Background(), 3, func(c *domain.Contract) error {
		streamed = append(streamed, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, streamed, 2)
	assert.Equal(t, int64(1), streamed[0].ChainID)
	assert.Equal(t, int64(2), streamed[1].ChainID)
}
