package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/pkg/config"
)

func TestPostgresDSNQuotesValues(t *testing.T) {
	dsn := postgresDSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "sync",
		Password: `p@ss word'\`,
		Name:     "classroom_sync",
		SSLMode:  "disable",
	})

	assert.Equal(t, `host='db.internal' port='5432' user='sync' password='p@ss word\'\\' dbname='classroom_sync' sslmode='disable' connect_timeout='5'`, dsn)
}

func TestPostgresDSNSkipsEmptyValues(t *testing.T) {
	dsn := postgresDSN(config.DatabaseConfig{Host: "localhost", Port: 5432, Name: "classroom_sync"})

	assert.NotContains(t, dsn, "password=")
	assert.NotContains(t, dsn, "sslmode=")
}

func TestPreparePostgresBootstrapsOverlayTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS class_overlays")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, preparePostgres(context.Background(), sqlx.NewDb(db, "sqlmock")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparePostgresReportsPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = preparePostgres(context.Background(), sqlx.NewDb(db, "sqlmock"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
}
