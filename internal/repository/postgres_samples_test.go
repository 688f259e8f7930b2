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

func setupMockSampleDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSampleRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresSampleRepo(db)
}

func TestInsertBatch_Success(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()
	ts1 := time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)
	ts2 := time.Date(2026, 3, 14, 15, 5, 0, 0, time.UTC)
	sentAt := time.Date(2026, 3, 14, 15, 6, 0, 0, time.UTC)

	samples := []domain.Sample{
		{TerrariumID: terrariumID, DeviceID: "esp32-01", Ts: ts1, Type: domain.MetricTemperature, Unit: "C", Value: 22.5, SentAt: sentAt},
		{TerrariumID: terrariumID, DeviceID: "esp32-01", Ts: ts2, Type: domain.MetricTemperature, Unit: "C", Value: 23.0, SentAt: sentAt},
	}

	mock.ExpectExec(`INSERT INTO samples`).
		WithArgs(
			terrariumID, "esp32-01", ts1, "TEMPERATURE", "C", 22.5, sentAt,
			terrariumID, "esp32-01", ts2, "TEMPERATURE", "C", 23.0, sentAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.InsertBatch(context.Background(), samples)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_Empty(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	n, err := repo.InsertBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSampleTimes_GroupedQuery(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	id1 := uuid.New().String()
	id2 := uuid.New().String()
	id3 := uuid.New().String()
	last1 := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	last2 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"terrarium_id", "max"}).
		AddRow(id1, last1).
		AddRow(id2, last2)

	// 一次分组查询覆盖全部候选，没写过数据的 id3 不出现在结果里
	mock.ExpectQuery(`GROUP BY terrarium_id`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	out, err := repo.LastSampleTimes(context.Background(), []string{id1, id2, id3})

	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, last1, out[id1])
	assert.Equal(t, last2, out[id2])
	_, ok := out[id3]
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSampleTimes_NoCandidates(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	out, err := repo.LastSampleTimes(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRaw_RangeAndLimit(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	terrariumID := uuid.New().String()
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "terrarium_id", "device_id", "ts", "type", "unit", "value", "sent_at", "created_at",
	}).AddRow(int64(7), terrariumID, "esp32-01", ts, "HUMIDITY", "%", 61.5, now, now)

	mock.ExpectQuery(`FROM samples`).
		WithArgs(terrariumID, "HUMIDITY", from, 50).
		WillReturnRows(rows)

	out, err := repo.ListRaw(context.Background(), RawSampleQuery{
		TerrariumID: terrariumID,
		Type:        domain.MetricHumidity,
		From:        &from,
		Limit:       50,
	})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0].ID)
	assert.Equal(t, domain.MetricHumidity, out[0].Type)
	assert.Equal(t, 61.5, out[0].Value)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan_Success(t *testing.T) {
	db, mock, repo := setupMockSampleDB(t)
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -31)

	mock.ExpectExec(`DELETE FROM samples`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1234))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
