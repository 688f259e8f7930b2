package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

func setupMockAggregateDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresAggregateRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresAggregateRepo(db)
}

func TestUpsertHourly_Success(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	ctx := context.Background()
	terrariumID := uuid.New().String()
	hour := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO aggregate_hourly`).
		WithArgs(terrariumID, "TEMPERATURE", hour, int64(3), 22.0, 20.0, 24.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertHourly(ctx, terrariumID, domain.MetricTemperature, hour,
		domain.Stats{Count: 3, Avg: 22.0, Min: 20.0, Max: 24.0})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertHourly_EmptyStatsSkipped(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	// count=0 不应触达数据库
	err := repo.UpsertHourly(context.Background(), uuid.New().String(),
		domain.MetricHumidity, time.Now().UTC(), domain.Stats{})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDaily_Success(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO aggregate_daily`).
		WithArgs(terrariumID, "HUMIDITY", day, int64(2), 55.5, 51.0, 60.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertDaily(context.Background(), terrariumID, domain.MetricHumidity, day,
		domain.Stats{Count: 2, Avg: 55.5, Min: 51.0, Max: 60.0})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertHourOfDay_Success(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()

	mock.ExpectExec(`INSERT INTO aggregate_hour_of_day`).
		WithArgs(terrariumID, "PRESSURE", 15, int64(4), 1013.2, 1012.0, 1014.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertHourOfDay(context.Background(), terrariumID, domain.MetricPressure, 15,
		domain.Stats{Count: 4, Avg: 1013.2, Min: 1012.0, Max: 1014.5})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHourly_WithRange(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	hour := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"terrarium_id", "type", "hour", "sample_count", "avg_value", "min_value", "max_value",
	}).AddRow(terrariumID, "TEMPERATURE", hour, int64(3), 22.0, 20.0, 24.0)

	mock.ExpectQuery(`FROM aggregate_hourly`).
		WithArgs(terrariumID, "TEMPERATURE", from, to, 100).
		WillReturnRows(rows)

	out, err := repo.ListHourly(context.Background(), BucketQuery{
		TerrariumID: terrariumID,
		Type:        domain.MetricTemperature,
		From:        &from,
		To:          &to,
		Limit:       100,
	})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, terrariumID, out[0].TerrariumID)
	assert.Equal(t, domain.MetricTemperature, out[0].Type)
	assert.Equal(t, hour, out[0].Hour)
	assert.Equal(t, int64(3), out[0].Count)
	assert.Equal(t, 22.0, out[0].Avg)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDaily_DefaultLimit(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()

	rows := sqlmock.NewRows([]string{
		"terrarium_id", "type", "day", "sample_count", "avg_value", "min_value", "max_value",
	})

	// Limit 未设置时退回 500
	mock.ExpectQuery(`FROM aggregate_daily`).
		WithArgs(terrariumID, "HUMIDITY", 500).
		WillReturnRows(rows)

	out, err := repo.ListDaily(context.Background(), BucketQuery{
		TerrariumID: terrariumID,
		Type:        domain.MetricHumidity,
	})

	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHourOfDay_DefaultLimit(t *testing.T) {
	db, mock, repo := setupMockAggregateDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()

	rows := sqlmock.NewRows([]string{
		"terrarium_id", "type", "hour_of_day", "sample_count", "avg_value", "min_value", "max_value",
	}).
		AddRow(terrariumID, "TEMPERATURE", 0, int64(10), 18.0, 16.0, 20.0).
		AddRow(terrariumID, "TEMPERATURE", 15, int64(7), 24.0, 23.0, 26.0)

	mock.ExpectQuery(`FROM aggregate_hour_of_day`).
		WithArgs(terrariumID, "TEMPERATURE", 24).
		WillReturnRows(rows)

	out, err := repo.ListHourOfDay(context.Background(), terrariumID, domain.MetricTemperature, 0)

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].HourOfDay)
	assert.Equal(t, 15, out[1].HourOfDay)

	require.NoError(t, mock.ExpectationsWereMet())
}
