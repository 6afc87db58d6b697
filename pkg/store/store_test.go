package store

import (
	"context"
	"testing"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/sig"

	"github.com/stretchr/testify/require"
)

func seedEmergency(t *testing.T, st Store, userID string) *models.EmergencyRecord {
	t.Helper()
	rec := &models.EmergencyRecord{
		ID:          "e_test1",
		UserID:      userID,
		Status:      models.StatusActive,
		TriggeredAt: time.Now(),
	}
	require.NoError(t, st.CreateEmergency(context.Background(), rec))
	return rec
}

func TestMemoryStoreLocations(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(sig.NewHub())
	rec := seedEmergency(t, st, "u_1")

	base := time.Now()

	t.Run("timestamps must be non-decreasing", func(t *testing.T) {
		require.NoError(t, st.AppendLocation(ctx, &models.LocationSample{
			EmergencyID: rec.ID, Latitude: 1, Longitude: 2, Timestamp: base,
		}))
		// equal timestamp is allowed
		require.NoError(t, st.AppendLocation(ctx, &models.LocationSample{
			EmergencyID: rec.ID, Latitude: 1.1, Longitude: 2.1, Timestamp: base,
		}))
		err := st.AppendLocation(ctx, &models.LocationSample{
			EmergencyID: rec.ID, Latitude: 1.2, Longitude: 2.2, Timestamp: base.Add(-time.Second),
		})
		require.ErrorIs(t, err, ErrStaleSample)

		seq, err := st.LocationsFor(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, seq, 2)
		for i := 1; i < len(seq); i++ {
			require.False(t, seq[i].Timestamp.Before(seq[i-1].Timestamp))
		}
	})

	t.Run("samples rejected after resolve", func(t *testing.T) {
		now := time.Now()
		rec.Status = models.StatusSafe
		rec.ResolvedAt = &now
		require.NoError(t, st.UpdateEmergency(ctx, rec))

		err := st.AppendLocation(ctx, &models.LocationSample{
			EmergencyID: rec.ID, Timestamp: now.Add(time.Second),
		})
		require.ErrorIs(t, err, ErrEmergencyClosed)
	})

	t.Run("unknown emergency", func(t *testing.T) {
		err := st.AppendLocation(ctx, &models.LocationSample{EmergencyID: "e_nope", Timestamp: base})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreNotifications(t *testing.T) {
	ctx := context.Background()
	hub := sig.NewHub()
	st := NewMemoryStore(hub)

	var topics []string
	for _, topic := range []string{
		models.SigEmergencyTriggered,
		models.SigEmergencyResolved,
		models.SigLocationAppended,
	} {
		topic := topic
		hub.Connect(topic, func(any, ...any) { topics = append(topics, topic) })
	}

	rec := seedEmergency(t, st, "u_1")
	require.NoError(t, st.AppendLocation(ctx, &models.LocationSample{
		EmergencyID: rec.ID, Timestamp: time.Now(),
	}))
	now := time.Now()
	rec.Status = models.StatusSafe
	rec.ResolvedAt = &now
	require.NoError(t, st.UpdateEmergency(ctx, rec))

	require.Equal(t, []string{
		models.SigEmergencyTriggered,
		models.SigLocationAppended,
		models.SigEmergencyResolved,
	}, topics)
}

func TestMemoryStoreActive(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(sig.NewHub())

	a := &models.EmergencyRecord{ID: "e_a", UserID: "u_a", Status: models.StatusActive, TriggeredAt: time.Now()}
	b := &models.EmergencyRecord{ID: "e_b", UserID: "u_b", Status: models.StatusActive, TriggeredAt: time.Now()}
	require.NoError(t, st.CreateEmergency(ctx, a))
	require.NoError(t, st.CreateEmergency(ctx, b))

	// different users may be ACTIVE at the same time
	all, err := st.ActiveEmergencies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := st.ActiveEmergencyFor(ctx, "u_a")
	require.NoError(t, err)
	require.Equal(t, "e_a", got.ID)

	none, err := st.ActiveEmergencyFor(ctx, "u_missing")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(sig.NewHub())
	rec := seedEmergency(t, st, "u_1")
	require.NoError(t, st.AppendLocation(ctx, &models.LocationSample{EmergencyID: rec.ID, Timestamp: time.Now()}))

	resolved := time.Now().Add(-48 * time.Hour)
	rec.Status = models.StatusSafe
	rec.ResolvedAt = &resolved
	require.NoError(t, st.UpdateEmergency(ctx, rec))

	purged, err := st.PurgeResolvedLocations(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	seq, err := st.LocationsFor(ctx, rec.ID)
	require.NoError(t, err)
	require.Empty(t, seq)
}
