package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

func TestExportInsertsRowsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewObservationStoreWithPool(mock, "observations")
	require.NoError(t, err)

	rows := []crawler.Observation{
		{Entity: "ALK", From: "10/9/2014", To: "8/9/2015", Fields: []string{"8/8/2015", "1,234.56"}},
		{Entity: "ALK", From: "10/9/2014", To: "8/9/2015", Fields: []string{"8/7/2015", "1,200.00"}},
		{Entity: "KMB", From: "10/9/2014", To: "8/9/2015", Fields: []string{}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("ALK", "10/9/2014", "8/9/2015", 0, []byte(`["8/8/2015","1,234.56"]`), "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("ALK", "10/9/2014", "8/9/2015", 1, []byte(`["8/7/2015","1,200.00"]`), "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Export(context.Background(), "run-1", rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewObservationStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("ALK", "10/9/2014", "8/9/2015", 0, []byte(`["x"]`), "run-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = store.Export(context.Background(), "run-1", []crawler.Observation{
		{Entity: "ALK", From: "10/9/2014", To: "8/9/2015", Fields: []string{"x"}},
	})
	require.ErrorContains(t, err, "insert observation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewObservationStoreWithPool(mock, "mse_history")
	require.NoError(t, err)
	require.Equal(t, "postgres", store.Name())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mse_history").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewObservationStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewObservationStoreWithPool(nil, "observations")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewObservationStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewObservationStore(context.Background(), Config{})
	require.Error(t, err)
}
