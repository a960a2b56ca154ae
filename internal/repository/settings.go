package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/database"
	"github.com/derm-diagnosis-server/internal/domain"
)

const (
	settingsCacheSize = 1024
	settingsCacheTTL  = 5 * time.Minute
)

// SettingsRepository resolves per-clinician analysis preferences from
// PostgreSQL with a small expiring in-process cache in front, since the
// threshold is read on every analysis but changes rarely. Missing rows
// resolve to the defaults rather than an error.
type SettingsRepository struct {
	db    *database.DB
	cache *expirable.LRU[string, *domain.UserSettings]
	log   *logrus.Logger
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *database.DB, logger *logrus.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:    db,
		cache: expirable.NewLRU[string, *domain.UserSettings](settingsCacheSize, nil, settingsCacheTTL),
		log:   logger,
	}
}

// Get returns the clinician's saved settings, or the defaults when none were
// ever saved.
func (r *SettingsRepository) Get(ctx context.Context, ownerID string) (*domain.UserSettings, error) {
	if cached, ok := r.cache.Get(ownerID); ok {
		return cached, nil
	}

	query := `
		SELECT owner_id, confidence_threshold, updated_at
		FROM user_settings
		WHERE owner_id = $1`

	var s domain.UserSettings
	err := r.db.Pool.QueryRow(ctx, query, ownerID).Scan(&s.OwnerID, &s.ConfidenceThreshold, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			defaults := &domain.UserSettings{
				OwnerID:             ownerID,
				ConfidenceThreshold: domain.DefaultConfidenceThreshold,
			}
			r.cache.Add(ownerID, defaults)
			return defaults, nil
		}
		r.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"error":    err,
		}).Error("Failed to load user settings")
		return nil, fmt.Errorf("loading user settings: %w", err)
	}

	r.cache.Add(ownerID, &s)
	return &s, nil
}

// Put upserts the clinician's settings and refreshes the cache.
func (r *SettingsRepository) Put(ctx context.Context, s *domain.UserSettings) error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 100 {
		return domain.NewValidationError("confidence_threshold", "must be between 0 and 100", s.ConfidenceThreshold)
	}

	query := `
		INSERT INTO user_settings (owner_id, confidence_threshold, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id)
		DO UPDATE SET confidence_threshold = EXCLUDED.confidence_threshold, updated_at = EXCLUDED.updated_at`

	s.UpdatedAt = time.Now().UTC()
	if _, err := r.db.Pool.Exec(ctx, query, s.OwnerID, s.ConfidenceThreshold, s.UpdatedAt); err != nil {
		r.log.WithFields(logrus.Fields{
			"owner_id": s.OwnerID,
			"error":    err,
		}).Error("Failed to save user settings")
		return fmt.Errorf("saving user settings: %w", err)
	}

	r.cache.Add(s.OwnerID, s)
	r.log.WithFields(logrus.Fields{
		"owner_id":  s.OwnerID,
		"threshold": s.ConfidenceThreshold,
	}).Info("User settings saved")
	return nil
}
