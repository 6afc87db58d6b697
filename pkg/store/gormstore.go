package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/sig"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore is the production implementation over sqlite/mysql/postgres.
type GormStore struct {
	db  *gorm.DB
	hub *sig.Hub

	// appendMu serializes AppendLocation's read-check-insert so the
	// monotonicity check cannot race with itself. sqlite has no row
	// locks to lean on, and the engine is single-writer by design.
	appendMu sync.Mutex
}

// Open connects by driver name, migrates the schema and wires the
// change-notification hub.
func Open(driver, dsn string, hub *sig.Hub) (*GormStore, error) {
	if hub == nil {
		hub = sig.Default()
	}
	var dial gorm.Dialector
	switch driver {
	case "", "sqlite":
		dial = sqlite.Open(dsn)
	case "mysql":
		dial = mysql.Open(dsn)
	case "postgres":
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.UserProfile{},
		&models.Contact{},
		&models.EmergencyRecord{},
		&models.LocationSample{},
	); err != nil {
		return nil, err
	}
	return &GormStore{db: db, hub: hub}, nil
}

func (g *GormStore) Notifier() *sig.Hub { return g.hub }

func (g *GormStore) CreateUser(ctx context.Context, u *models.UserProfile) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if err := g.db.WithContext(ctx).Create(u).Error; err != nil {
		return err
	}
	g.hub.Emit(models.SigUserUpdated, u)
	return nil
}

func (g *GormStore) SaveUser(ctx context.Context, u *models.UserProfile) error {
	if err := g.db.WithContext(ctx).Save(u).Error; err != nil {
		return err
	}
	g.hub.Emit(models.SigUserUpdated, u)
	return nil
}

func (g *GormStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	var u models.UserProfile
	err := g.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *GormStore) AddContact(ctx context.Context, c *models.Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return g.db.WithContext(ctx).Create(c).Error
}

func (g *GormStore) ContactsFor(ctx context.Context, userID string) ([]models.Contact, error) {
	var out []models.Contact
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&out).Error
	return out, err
}

func (g *GormStore) CreateEmergency(ctx context.Context, rec *models.EmergencyRecord) error {
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	g.hub.Emit(models.SigEmergencyTriggered, rec)
	return nil
}

func (g *GormStore) GetEmergency(ctx context.Context, id string) (*models.EmergencyRecord, error) {
	var rec models.EmergencyRecord
	err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (g *GormStore) UpdateEmergency(ctx context.Context, rec *models.EmergencyRecord) error {
	if err := g.db.WithContext(ctx).Save(rec).Error; err != nil {
		return err
	}
	if rec.Status == models.StatusSafe {
		g.hub.Emit(models.SigEmergencyResolved, rec)
	} else {
		g.hub.Emit(models.SigEmergencyTriggered, rec)
	}
	return nil
}

func (g *GormStore) ActiveEmergencyFor(ctx context.Context, userID string) (*models.EmergencyRecord, error) {
	var rec models.EmergencyRecord
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusActive).
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (g *GormStore) ActiveEmergencies(ctx context.Context) ([]models.EmergencyRecord, error) {
	var out []models.EmergencyRecord
	err := g.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Order("triggered_at").
		Find(&out).Error
	return out, err
}

func (g *GormStore) AppendLocation(ctx context.Context, s *models.LocationSample) error {
	g.appendMu.Lock()
	defer g.appendMu.Unlock()

	rec, err := g.GetEmergency(ctx, s.EmergencyID)
	if err != nil {
		return err
	}
	if !rec.Active() {
		return ErrEmergencyClosed
	}
	last, err := g.LastLocation(ctx, s.EmergencyID)
	if err != nil {
		return err
	}
	if last != nil && s.Timestamp.Before(last.Timestamp) {
		return ErrStaleSample
	}
	if err := g.db.WithContext(ctx).Create(s).Error; err != nil {
		return err
	}
	g.hub.Emit(models.SigLocationAppended, s)
	return nil
}

func (g *GormStore) LastLocation(ctx context.Context, emergencyID string) (*models.LocationSample, error) {
	var s models.LocationSample
	err := g.db.WithContext(ctx).
		Where("emergency_id = ?", emergencyID).
		Order("timestamp DESC, id DESC").
		First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *GormStore) LocationsFor(ctx context.Context, emergencyID string) ([]models.LocationSample, error) {
	var out []models.LocationSample
	err := g.db.WithContext(ctx).
		Where("emergency_id = ?", emergencyID).
		Order("timestamp, id").
		Find(&out).Error
	return out, err
}

func (g *GormStore) PurgeResolvedLocations(ctx context.Context, before time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Where("emergency_id IN (?)",
			g.db.Model(&models.EmergencyRecord{}).
				Select("id").
				Where("status = ? AND resolved_at < ?", models.StatusSafe, before),
		).
		Delete(&models.LocationSample{})
	return res.RowsAffected, res.Error
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
