package txstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore persists records in postgres
type GormStore struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time
}

// OpenGormStore connects to the postgres database at dsn and migrates the schema
func OpenGormStore(dsn string, retention time.Duration) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return NewGormStore(db, retention)
}

// NewGormStore wraps an open connection and migrates the schema
func NewGormStore(db *gorm.DB, retention time.Duration) (*GormStore, error) {
	if err := db.AutoMigrate(&models.TransactionState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate transaction states: %v", err)
	}
	if retention <= 0 {
		retention = DefaultPendingRetention
	}
	return &GormStore{db: db, retention: retention, now: time.Now}, nil
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Upsert(ctx context.Context, id string, patch models.Patch) (*models.TransactionState, error) {
	var result *models.TransactionState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TransactionState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "id = ?", id).Error

		var current *models.TransactionState
		switch {
		case err == nil:
			current = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		rec, changed, err := merge(current, id, patch, s.now().UTC())
		if err != nil {
			return err
		}
		result = rec
		if !changed {
			return nil
		}
		if current == nil {
			return tx.Create(rec).Error
		}
		return tx.Save(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.TransactionState, error) {
	var rec models.TransactionState
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) List(ctx context.Context, filter models.ListFilter) ([]*models.TransactionState, error) {
	query := s.db.WithContext(ctx).Model(&models.TransactionState{})
	if filter.User != "" {
		query = query.Where("LOWER(user_address) = LOWER(?)", filter.User)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	cutoff := s.now().UTC().Add(-s.retention)
	switch filter.View {
	case models.ViewPending:
		query = query.Where("status = ? AND created_at >= ?", models.StatusPending, cutoff)
	case models.ViewHistory:
		query = query.Where("status <> ? OR created_at < ?", models.StatusPending, cutoff)
	}

	recs := make([]*models.TransactionState, 0)
	if err := query.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
