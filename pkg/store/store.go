// Package store is the injected persistence abstraction: a document
// store for users, contacts, emergencies and location samples whose
// every write fires a change-notification signal. Production runs on
// gorm; tests substitute the in-memory implementation.
package store

import (
	"context"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/errors"
	"safevoice/pkg/sig"
)

var (
	ErrNotFound = errors.WithCode(errors.CodeNotFound, "record not found")

	// ErrStaleSample rejects a location sample whose timestamp is older
	// than the last accepted one for the same emergency. This is the
	// only safety net against out-of-order sensor callbacks.
	ErrStaleSample = errors.WithCode(errors.CodeValidation, "stale location sample")

	// ErrEmergencyClosed rejects samples for a SAFE emergency.
	ErrEmergencyClosed = errors.WithCode(errors.CodeConflict, "emergency already resolved")
)

type Store interface {
	CreateUser(ctx context.Context, u *models.UserProfile) error
	SaveUser(ctx context.Context, u *models.UserProfile) error
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)

	AddContact(ctx context.Context, c *models.Contact) error
	ContactsFor(ctx context.Context, userID string) ([]models.Contact, error)

	CreateEmergency(ctx context.Context, rec *models.EmergencyRecord) error
	GetEmergency(ctx context.Context, id string) (*models.EmergencyRecord, error)
	UpdateEmergency(ctx context.Context, rec *models.EmergencyRecord) error
	// ActiveEmergencyFor returns (nil, nil) when the user has no ACTIVE
	// record; an absent record is not an error here.
	ActiveEmergencyFor(ctx context.Context, userID string) (*models.EmergencyRecord, error)
	ActiveEmergencies(ctx context.Context) ([]models.EmergencyRecord, error)

	// AppendLocation enforces the per-emergency invariants: monotone
	// non-decreasing timestamps (ErrStaleSample) and no appends once
	// SAFE (ErrEmergencyClosed).
	AppendLocation(ctx context.Context, s *models.LocationSample) error
	LastLocation(ctx context.Context, emergencyID string) (*models.LocationSample, error)
	LocationsFor(ctx context.Context, emergencyID string) ([]models.LocationSample, error)

	// PurgeResolvedLocations deletes samples belonging to emergencies
	// resolved before the cutoff. Used by the retention cron.
	PurgeResolvedLocations(ctx context.Context, before time.Time) (int64, error)

	// Notifier is the change-notification hook fired after every write.
	Notifier() *sig.Hub

	Close() error
}
