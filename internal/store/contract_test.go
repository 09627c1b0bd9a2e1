package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newUser(id string, lastCheckIn time.Time) *models.UserRecord {
	return &models.UserRecord{
		ID:           id,
		Name:         "Jane Doe",
		LastCheckIn:  lastCheckIn,
		BatteryLevel: 85,
		LastLocation: &models.Location{Lat: 37.7749, Lng: -122.4194},
		EmergencyContacts: []models.EmergencyContact{
			{ID: "c1", Channel: models.ChannelPhone, Address: "+15551234567"},
			{ID: "c2", Channel: models.ChannelEmail, Address: "sam@example.com"},
		},
		CreatedAt: lastCheckIn,
	}
}

// testLivenessStore runs the behaviour every backend must share
func testLivenessStore(t *testing.T, newStore func(t *testing.T) LivenessStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		got, err := s.Get(ctx, "usr_1")
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", got.Name)
		assert.True(t, got.LastCheckIn.Equal(base))
		assert.Equal(t, 85, got.BatteryLevel)
		require.NotNil(t, got.LastLocation)
		assert.Equal(t, 37.7749, got.LastLocation.Lat)
		require.Len(t, got.EmergencyContacts, 2)
		assert.Equal(t, models.ChannelEmail, got.EmergencyContacts[1].Channel)
		assert.False(t, got.IsEscalated)

		assert.ErrorIs(t, s.Create(ctx, newUser("usr_1", base)), ErrAlreadyExists)
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("check-in updates telemetry", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		rec, err := s.UpsertCheckIn(ctx, models.CheckIn{
			UserID:       "usr_1",
			BatteryLevel: 5,
			ObservedAt:   base.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, 5, rec.BatteryLevel)
		assert.Nil(t, rec.LastLocation)
		assert.True(t, rec.LastCheckIn.Equal(base.Add(time.Hour)))
	})

	t.Run("check-in unknown user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertCheckIn(ctx, models.CheckIn{UserID: "ghost", ObservedAt: base})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale check-in leaves record unchanged", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		_, err := s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: 1, ObservedAt: base.Add(-time.Minute)})
		assert.ErrorIs(t, err, ErrStale)

		got, err := s.Get(ctx, "usr_1")
		require.NoError(t, err)
		assert.True(t, got.LastCheckIn.Equal(base))
		assert.Equal(t, 85, got.BatteryLevel)
	})

	t.Run("escalate once", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		rec, err := s.MarkEscalated(ctx, "usr_1", base)
		require.NoError(t, err)
		assert.True(t, rec.IsEscalated)
		assert.Equal(t, 85, rec.BatteryLevel)

		_, err = s.MarkEscalated(ctx, "usr_1", base)
		assert.ErrorIs(t, err, ErrAlreadyEscalated)

		_, err = s.MarkEscalated(ctx, "ghost", base)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("newer check-in supersedes escalation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		_, err := s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: 50, ObservedAt: base.Add(time.Minute)})
		require.NoError(t, err)

		// scan observed the old value
		_, err = s.MarkEscalated(ctx, "usr_1", base)
		assert.ErrorIs(t, err, ErrSuperseded)

		got, err := s.Get(ctx, "usr_1")
		require.NoError(t, err)
		assert.False(t, got.IsEscalated)
	})

	t.Run("check-in clears escalation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))
		_, err := s.MarkEscalated(ctx, "usr_1", base)
		require.NoError(t, err)

		// replay of the instant the escalation was decided on
		_, err = s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: 70, ObservedAt: base})
		assert.ErrorIs(t, err, ErrStale)

		rec, err := s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: 70, ObservedAt: base.Add(50 * time.Hour)})
		require.NoError(t, err)
		assert.False(t, rec.IsEscalated)
	})

	t.Run("duplicate check-in while live is accepted", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		_, err := s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: 60, ObservedAt: base})
		assert.NoError(t, err)
	})

	t.Run("list all", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Create(ctx, newUser(fmt.Sprintf("usr_%d", i), base)))
		}
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "usr_0", all[0].ID)
		assert.Equal(t, "usr_4", all[4].ID)
	})

	t.Run("delete erases record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))
		require.NoError(t, s.Delete(ctx, "usr_1"))

		_, err := s.Get(ctx, "usr_1")
		assert.ErrorIs(t, err, ErrNotFound)
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.ErrorIs(t, s.Delete(ctx, "usr_1"), ErrNotFound)
	})

	t.Run("concurrent check-in and flip never leave a newer check-in escalated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("usr_1", base)))

		for round := 1; round <= 50; round++ {
			snapshot, err := s.Get(ctx, "usr_1")
			require.NoError(t, err)
			observed := base.Add(time.Duration(round) * time.Hour)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = s.MarkEscalated(ctx, "usr_1", snapshot.LastCheckIn)
			}()
			go func() {
				defer wg.Done()
				_, _ = s.UpsertCheckIn(ctx, models.CheckIn{UserID: "usr_1", BatteryLevel: round, ObservedAt: observed})
			}()
			wg.Wait()

			got, err := s.Get(ctx, "usr_1")
			require.NoError(t, err)
			// the check-in is newer than anything the flip observed, so it must be the last word
			assert.True(t, got.LastCheckIn.Equal(observed))
			assert.False(t, got.IsEscalated, "round %d", round)
			assert.Equal(t, round, got.BatteryLevel)
		}
	})
}
