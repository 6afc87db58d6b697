// Package telemetry streams device position samples into an active
// emergency. The loop has no fixed timeout: it runs until the emergency
// is resolved or the tracker is shut down, and the underlying sensor
// subscription is released on every exit path.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"safevoice/internal/models"
	pkgerrors "safevoice/pkg/errors"
	"safevoice/pkg/logger"
	"safevoice/pkg/metrics"
	"safevoice/pkg/store"

	"go.uber.org/zap"
)

// ErrPermissionDenied is the permanent sensor error: the position
// stream can never resume, so the loop stops and reports it.
var ErrPermissionDenied = pkgerrors.WithCode(pkgerrors.CodeSensorPermanent, "location permission denied")

// Position is one sensor callback from the platform position source.
type Position struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// PositionSource abstracts the platform's continuous high-accuracy
// position stream. Watch returns the sample stream, an error stream for
// sensor faults, and a release func that must free the subscription.
// A source may close the fault stream early when it will report no more
// faults; the sample stream stays authoritative for loop lifetime and
// ends the loop when it closes.
type PositionSource interface {
	Watch(ctx context.Context) (<-chan Position, <-chan error, func(), error)
}

// Tracker runs one telemetry loop per active emergency. Deployments
// without an in-process sensor (the plain HTTP server) leave source nil
// and feed samples through Ingest instead.
type Tracker struct {
	store  store.Store
	source PositionSource
	m      *metrics.Metrics

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewTracker(st store.Store, source PositionSource) *Tracker {
	return &Tracker{
		store:  st,
		source: source,
		m:      metrics.Default(),
		active: make(map[string]context.CancelFunc),
	}
}

// Start begins streaming for an emergency. Without a configured source
// it is a no-op; samples then arrive via Ingest. Starting an already
// tracked emergency is a no-op.
func (t *Tracker) Start(emergencyID string) {
	if t.source == nil {
		return
	}
	t.mu.Lock()
	if _, running := t.active[emergencyID]; running {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.active[emergencyID] = cancel
	t.mu.Unlock()

	go t.run(ctx, emergencyID)
}

// Stop ends the loop for one emergency; called on resolve.
func (t *Tracker) Stop(emergencyID string) {
	t.mu.Lock()
	cancel, ok := t.active[emergencyID]
	if ok {
		delete(t.active, emergencyID)
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close tears down every running loop.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.active))
	for id, cancel := range t.active {
		cancels = append(cancels, cancel)
		delete(t.active, id)
	}
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (t *Tracker) run(ctx context.Context, emergencyID string) {
	defer t.Stop(emergencyID)

	positions, faults, release, err := t.source.Watch(ctx)
	if err != nil {
		logger.Error("position source unavailable",
			zap.String("emergencyId", emergencyID), zap.Error(err))
		return
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-faults:
			if !ok {
				// Source closed its fault stream; a nil channel never
				// fires, so positions keep the loop alive alone.
				faults = nil
				continue
			}
			if errors.Is(err, ErrPermissionDenied) || pkgerrors.GetCode(err) == pkgerrors.CodeSensorPermanent {
				logger.Error("permanent sensor error, telemetry stopped",
					zap.String("emergencyId", emergencyID), zap.Error(err))
				return
			}
			// transient: log and keep listening
			logger.Warn("transient sensor error",
				zap.String("emergencyId", emergencyID), zap.Error(err))
		case pos, ok := <-positions:
			if !ok {
				return
			}
			if err := t.Ingest(ctx, emergencyID, pos); err == store.ErrEmergencyClosed {
				// resolved underneath us, wind down
				return
			}
		}
	}
}

// Ingest validates and appends a single sample. Out-of-order samples
// are dropped (the store enforces the monotone-timestamp invariant);
// samples for a SAFE emergency are rejected with ErrEmergencyClosed.
func (t *Tracker) Ingest(ctx context.Context, emergencyID string, pos Position) error {
	sample := &models.LocationSample{
		EmergencyID: emergencyID,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Timestamp:   pos.Timestamp,
	}
	err := t.store.AppendLocation(ctx, sample)
	switch err {
	case nil:
		t.m.SampleAccepted()
		return nil
	case store.ErrStaleSample:
		t.m.SampleRejected("stale")
		logger.Debug("stale sample dropped",
			zap.String("emergencyId", emergencyID),
			zap.Time("timestamp", pos.Timestamp))
		return err
	case store.ErrEmergencyClosed:
		t.m.SampleRejected("closed")
		return err
	default:
		return err
	}
}
