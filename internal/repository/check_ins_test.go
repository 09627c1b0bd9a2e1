package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryCheckInLog_NewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryCheckInLog(3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Append(ctx, models.CheckInLog{
			UserID:       "usr_1",
			ObservedAt:   triggeredAt.Add(time.Duration(i) * time.Minute),
			BatteryLevel: i,
		}))
	}
	require.NoError(t, l.Append(ctx, models.CheckInLog{UserID: "usr_2", ObservedAt: triggeredAt, BatteryLevel: 50}))

	all, err := l.List(ctx, "usr_1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 5, all[0].BatteryLevel)
	assert.Equal(t, 3, all[2].BatteryLevel)

	two, err := l.List(ctx, "usr_1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	require.NoError(t, l.DeleteUser(ctx, "usr_1"))
	gone, err := l.List(ctx, "usr_1", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	other, err := l.List(ctx, "usr_2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryCheckInLog_CopiesLocation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryCheckInLog(0)
	loc := &models.Location{Lat: 1, Lng: 2}
	require.NoError(t, l.Append(ctx, models.CheckInLog{UserID: "usr_1", ObservedAt: triggeredAt, Location: loc}))

	loc.Lat = 99
	list, err := l.List(ctx, "usr_1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, list[0].Location.Lat)
}

func TestMemoryCheckInLog_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryCheckInLog(1000)
	done := make(chan struct{})
	for g := 0; g < 10; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				_ = l.Append(ctx, models.CheckInLog{UserID: fmt.Sprintf("usr_%d", g%2), ObservedAt: triggeredAt})
			}
		}(g)
	}
	for g := 0; g < 10; g++ {
		<-done
	}
	a, _ := l.List(ctx, "usr_0", 0)
	b, _ := l.List(ctx, "usr_1", 0)
	assert.Len(t, a, 250)
	assert.Len(t, b, 250)
}

func TestPostgresCheckInLog_Append(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	l := NewPostgresCheckInLog(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO check_ins`).
		WithArgs("usr_1", triggeredAt, 40, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.Append(context.Background(), models.CheckInLog{
		UserID:       "usr_1",
		ObservedAt:   triggeredAt,
		BatteryLevel: 40,
		Location:     &models.Location{Lat: 1, Lng: 2},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckInLog_List(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	l := NewPostgresCheckInLog(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"user_id", "observed_at", "battery_level", "lat", "lng"}).
		AddRow("usr_1", triggeredAt, 40, 1.0, 2.0).
		AddRow("usr_1", triggeredAt.Add(-time.Hour), 41, nil, nil)
	mock.ExpectQuery(`SELECT user_id, observed_at`).
		WithArgs("usr_1", 10).
		WillReturnRows(rows)

	list, err := l.List(context.Background(), "usr_1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Location)
	assert.Equal(t, 2.0, list[0].Location.Lng)
	assert.Nil(t, list[1].Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckInLog_DeleteUser(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	l := NewPostgresCheckInLog(db, zap.NewNop())

	mock.ExpectExec(`DELETE FROM check_ins`).WithArgs("usr_1").WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, l.DeleteUser(context.Background(), "usr_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
