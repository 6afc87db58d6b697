package telemetry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/sig"
	"safevoice/pkg/store"

	"github.com/stretchr/testify/require"
)

// scriptedSource replays a fixed set of positions and faults.
type scriptedSource struct {
	positions chan Position
	faults    chan error
	released  atomic.Bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		positions: make(chan Position, 16),
		faults:    make(chan error, 16),
	}
}

func (s *scriptedSource) Watch(context.Context) (<-chan Position, <-chan error, func(), error) {
	return s.positions, s.faults, func() { s.released.Store(true) }, nil
}

func activeEmergency(t *testing.T, st store.Store) *models.EmergencyRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, &models.UserProfile{ID: "u_1", Name: "Ada"}))
	rec := &models.EmergencyRecord{
		ID: "e_1", UserID: "u_1", Status: models.StatusActive, TriggeredAt: time.Now(),
	}
	require.NoError(t, st.CreateEmergency(ctx, rec))
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTrackerLoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(sig.NewHub())
	rec := activeEmergency(t, st)
	src := newScriptedSource()
	tr := NewTracker(st, src)

	base := time.Now()
	tr.Start(rec.ID)

	t.Run("accepts ordered, drops stale", func(t *testing.T) {
		src.positions <- Position{Latitude: 1, Longitude: 1, Timestamp: base}
		src.positions <- Position{Latitude: 2, Longitude: 2, Timestamp: base.Add(time.Second)}
		src.positions <- Position{Latitude: 9, Longitude: 9, Timestamp: base.Add(-time.Second)} // stale
		src.positions <- Position{Latitude: 3, Longitude: 3, Timestamp: base.Add(2 * time.Second)}

		waitFor(t, func() bool {
			seq, _ := st.LocationsFor(ctx, rec.ID)
			return len(seq) == 3
		})
		seq, err := st.LocationsFor(ctx, rec.ID)
		require.NoError(t, err)
		require.Equal(t, []float64{1, 2, 3}, []float64{seq[0].Latitude, seq[1].Latitude, seq[2].Latitude})
	})

	t.Run("transient fault keeps the loop alive", func(t *testing.T) {
		src.faults <- context.Canceled // any non-permanent error
		src.positions <- Position{Latitude: 4, Longitude: 4, Timestamp: base.Add(3 * time.Second)}
		waitFor(t, func() bool {
			seq, _ := st.LocationsFor(ctx, rec.ID)
			return len(seq) == 4
		})
	})

	t.Run("stop releases the subscription", func(t *testing.T) {
		tr.Stop(rec.ID)
		waitFor(t, func() bool { return src.released.Load() })
	})
}

func TestTrackerPermanentError(t *testing.T) {
	st := store.NewMemoryStore(sig.NewHub())
	rec := activeEmergency(t, st)
	src := newScriptedSource()
	tr := NewTracker(st, src)

	tr.Start(rec.ID)
	src.faults <- ErrPermissionDenied
	waitFor(t, func() bool { return src.released.Load() })

	// loop is gone; Start may begin a fresh one
	tr.mu.Lock()
	_, running := tr.active[rec.ID]
	tr.mu.Unlock()
	require.False(t, running)
}

func TestTrackerFaultStreamClosed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(sig.NewHub())
	rec := activeEmergency(t, st)
	src := newScriptedSource()
	tr := NewTracker(st, src)

	base := time.Now()
	tr.Start(rec.ID)

	// A source done reporting faults closes the stream; the loop must
	// keep consuming positions instead of reading zero errors forever.
	close(src.faults)
	src.positions <- Position{Latitude: 1, Longitude: 1, Timestamp: base}
	src.positions <- Position{Latitude: 2, Longitude: 2, Timestamp: base.Add(time.Second)}
	waitFor(t, func() bool {
		seq, _ := st.LocationsFor(ctx, rec.ID)
		return len(seq) == 2
	})
	require.False(t, src.released.Load())

	tr.Stop(rec.ID)
	waitFor(t, func() bool { return src.released.Load() })
}

func TestTrackerStopsWhenResolved(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(sig.NewHub())
	rec := activeEmergency(t, st)
	src := newScriptedSource()
	tr := NewTracker(st, src)

	tr.Start(rec.ID)
	now := time.Now()
	rec.Status = models.StatusSafe
	rec.ResolvedAt = &now
	require.NoError(t, st.UpdateEmergency(ctx, rec))

	// next callback hits the closed emergency and winds the loop down
	src.positions <- Position{Latitude: 1, Longitude: 1, Timestamp: now}
	waitFor(t, func() bool { return src.released.Load() })

	seq, err := st.LocationsFor(ctx, rec.ID)
	require.NoError(t, err)
	require.Empty(t, seq)
}

func TestIngestWithoutSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(sig.NewHub())
	rec := activeEmergency(t, st)
	tr := NewTracker(st, nil)

	tr.Start(rec.ID) // no-op without a source
	require.NoError(t, tr.Ingest(ctx, rec.ID, Position{Latitude: 1, Longitude: 2, Timestamp: time.Now()}))

	seq, err := st.LocationsFor(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, seq, 1)
}
