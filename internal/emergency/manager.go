// Package emergency owns the emergency record lifecycle. The state
// machine is INACTIVE -> ACTIVE (trigger) -> SAFE (resolve, terminal);
// no other transitions exist.
package emergency

import (
	"context"
	"sync"
	"time"

	"safevoice/internal/dispatch"
	"safevoice/internal/models"
	"safevoice/pkg/errors"
	"safevoice/pkg/logger"
	"safevoice/pkg/metrics"
	"safevoice/pkg/store"
	"safevoice/pkg/util"

	"go.uber.org/zap"
)

// Trigger sources, for metrics and audit logs only.
const (
	SourceManual = "manual"
	SourceVoice  = "voice"
)

var (
	ErrUserNotFound    = errors.WithCode(errors.CodeNotFound, "user not found")
	ErrAlreadyResolved = errors.WithCode(errors.CodeConflict, "emergency already resolved")
)

// Broadcaster is the alert dispatcher seen from the manager: invoked at
// most once per trigger event, fire-and-forget.
type Broadcaster interface {
	Broadcast(ctx context.Context, a dispatch.Alert) dispatch.Report
}

// LocationTracker is the telemetry loop seen from the manager.
type LocationTracker interface {
	Start(emergencyID string)
	Stop(emergencyID string)
}

// Manager enforces the at-most-one-ACTIVE-per-user invariant at the
// trigger boundary and drives the dispatch/telemetry side effects.
type Manager struct {
	store           store.Store
	broadcaster     Broadcaster
	tracker         LocationTracker
	dispatchTimeout time.Duration
	m               *metrics.Metrics

	// mu serializes the check-then-create window in Trigger so rapid
	// duplicate triggers collapse onto one record.
	mu sync.Mutex
}

func NewManager(st store.Store, b Broadcaster, t LocationTracker, dispatchTimeout time.Duration) *Manager {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 10 * time.Second
	}
	return &Manager{
		store:           st,
		broadcaster:     b,
		tracker:         t,
		dispatchTimeout: dispatchTimeout,
		m:               metrics.Default(),
	}
}

// Trigger creates an ACTIVE record for the user or returns the existing
// one unchanged. A duplicate trigger is not an error and causes no
// second dispatch. Dispatch failure never fails Trigger.
func (m *Manager) Trigger(ctx context.Context, userID, source string) (*models.EmergencyRecord, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	m.mu.Lock()
	existing, err := m.store.ActiveEmergencyFor(ctx, userID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if existing != nil {
		m.mu.Unlock()
		m.m.DuplicateTrigger()
		logger.Info("duplicate trigger absorbed",
			zap.String("userId", userID),
			zap.String("emergencyId", existing.ID))
		return existing, nil
	}

	rec := &models.EmergencyRecord{
		ID:          util.NewID("e"),
		UserID:      userID,
		Status:      models.StatusActive,
		TriggeredAt: time.Now(),
	}
	if err := m.store.CreateEmergency(ctx, rec); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.m.Trigger(source)
	m.m.IncActive()
	logger.Info("emergency triggered",
		zap.String("emergencyId", rec.ID),
		zap.String("userId", userID),
		zap.String("source", source))

	if m.tracker != nil {
		m.tracker.Start(rec.ID)
	}
	if m.broadcaster != nil {
		go m.dispatchOnce(user, rec)
	}
	return rec, nil
}

// dispatchOnce runs in its own goroutine with its own deadline; the
// trigger that spawned it has already returned.
func (m *Manager) dispatchOnce(user *models.UserProfile, rec *models.EmergencyRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panicked", zap.Any("panic", r), zap.String("emergencyId", rec.ID))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.dispatchTimeout)
	defer cancel()

	contacts, err := m.store.ContactsFor(ctx, user.ID)
	if err != nil {
		logger.Error("contact lookup failed, alert not sent",
			zap.String("emergencyId", rec.ID), zap.Error(err))
		return
	}
	report := m.broadcaster.Broadcast(ctx, dispatch.Alert{
		UserName:    user.Name,
		EmergencyID: rec.ID,
		Contacts:    contacts,
	})
	if report.SystemFailure != "" {
		logger.Warn("alert broadcast degraded",
			zap.String("emergencyId", rec.ID),
			zap.String("failure", report.SystemFailure))
		return
	}
	sent := 0
	for _, r := range report.Results {
		if r.Status == models.DispatchSent {
			sent++
		}
	}
	logger.Info("alert broadcast settled",
		zap.String("emergencyId", rec.ID),
		zap.Int("contacts", len(report.Results)),
		zap.Int("sent", sent),
		zap.Bool("simulated", report.Simulated))
}

// Resolve marks an ACTIVE record SAFE. Resolving an already-SAFE or
// absent record reports the condition without creating side effects.
func (m *Manager) Resolve(ctx context.Context, emergencyID string) error {
	rec, err := m.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return err
	}
	if !rec.Active() {
		return ErrAlreadyResolved
	}
	now := time.Now()
	rec.Status = models.StatusSafe
	rec.ResolvedAt = &now
	if err := m.store.UpdateEmergency(ctx, rec); err != nil {
		return err
	}
	m.m.Resolve()
	m.m.DecActive()
	if m.tracker != nil {
		m.tracker.Stop(emergencyID)
	}
	logger.Info("emergency resolved",
		zap.String("emergencyId", emergencyID),
		zap.String("userId", rec.UserID))
	return nil
}

// ActiveFor returns the user's ACTIVE record, nil when none.
func (m *Manager) ActiveFor(ctx context.Context, userID string) (*models.EmergencyRecord, error) {
	return m.store.ActiveEmergencyFor(ctx, userID)
}

// AllActive returns the whole fleet of ACTIVE emergencies for the
// trusted-contact console.
func (m *Manager) AllActive(ctx context.Context) ([]models.EmergencyRecord, error) {
	return m.store.ActiveEmergencies(ctx)
}
