package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/database"
	"github.com/derm-diagnosis-server/internal/domain"
)

// LesionRepository handles tracked lesions, their snapshots and the immutable
// comparison history. Ownership is enforced through the lesion row; snapshots
// and comparisons join against it.
type LesionRepository struct {
	db  *database.DB
	log *logrus.Logger
}

// NewLesionRepository creates a new lesion repository.
func NewLesionRepository(db *database.DB, logger *logrus.Logger) *LesionRepository {
	return &LesionRepository{db: db, log: logger}
}

// CreateLesion inserts a new tracked lesion.
func (r *LesionRepository) CreateLesion(ctx context.Context, l *domain.TrackedLesion) error {
	query := `
		INSERT INTO tracked_lesions (id, owner_id, patient_id, label, body_site, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	l.CreatedAt = time.Now().UTC()
	_, err := r.db.Pool.Exec(ctx, query, l.ID, l.OwnerID, l.PatientID, l.Label, l.BodySite, l.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"lesion_id": l.ID,
			"error":     err,
		}).Error("Failed to create tracked lesion")
		return fmt.Errorf("creating tracked lesion: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"lesion_id":  l.ID,
		"patient_id": l.PatientID,
	}).Info("Tracked lesion created")
	return nil
}

// GetLesion retrieves a tracked lesion scoped to the owner.
func (r *LesionRepository) GetLesion(ctx context.Context, id, ownerID string) (*domain.TrackedLesion, error) {
	query := `
		SELECT id, owner_id, patient_id, label, body_site, created_at
		FROM tracked_lesions
		WHERE id = $1 AND owner_id = $2`

	var l domain.TrackedLesion
	err := r.db.Pool.QueryRow(ctx, query, id, ownerID).Scan(
		&l.ID, &l.OwnerID, &l.PatientID, &l.Label, &l.BodySite, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tracked lesion not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting tracked lesion: %w", err)
	}
	return &l, nil
}

// AddSnapshot inserts a dated snapshot for an owned lesion.
func (r *LesionRepository) AddSnapshot(ctx context.Context, ownerID string, s *domain.LesionSnapshot) error {
	query := `
		INSERT INTO lesion_snapshots (id, lesion_id, image_ref, taken_at)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM tracked_lesions WHERE id = $2 AND owner_id = $5)`

	result, err := r.db.Pool.Exec(ctx, query, s.ID, s.LesionID, s.ImageRef, s.TakenAt, ownerID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"snapshot_id": s.ID,
			"lesion_id":   s.LesionID,
			"error":       err,
		}).Error("Failed to add snapshot")
		return fmt.Errorf("adding snapshot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("tracked lesion not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"snapshot_id": s.ID,
		"lesion_id":   s.LesionID,
	}).Info("Snapshot added")
	return nil
}

// GetSnapshot retrieves a snapshot, owner-scoped through its lesion.
func (r *LesionRepository) GetSnapshot(ctx context.Context, id, ownerID string) (*domain.LesionSnapshot, error) {
	query := `
		SELECT s.id, s.lesion_id, s.image_ref, s.taken_at
		FROM lesion_snapshots s
		JOIN tracked_lesions l ON l.id = s.lesion_id
		WHERE s.id = $1 AND l.owner_id = $2`

	var s domain.LesionSnapshot
	err := r.db.Pool.QueryRow(ctx, query, id, ownerID).Scan(&s.ID, &s.LesionID, &s.ImageRef, &s.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("snapshot not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return &s, nil
}

// LatestSnapshots returns the n most recent snapshots of a lesion, newest
// first.
func (r *LesionRepository) LatestSnapshots(ctx context.Context, lesionID, ownerID string, n int) ([]*domain.LesionSnapshot, error) {
	query := `
		SELECT s.id, s.lesion_id, s.image_ref, s.taken_at
		FROM lesion_snapshots s
		JOIN tracked_lesions l ON l.id = s.lesion_id
		WHERE s.lesion_id = $1 AND l.owner_id = $2
		ORDER BY s.taken_at DESC
		LIMIT $3`

	rows, err := r.db.Pool.Query(ctx, query, lesionID, ownerID, n)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.LesionSnapshot
	for rows.Next() {
		var s domain.LesionSnapshot
		if err := rows.Scan(&s.ID, &s.LesionID, &s.ImageRef, &s.TakenAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return snapshots, nil
}

// SaveComparison persists an immutable comparison record for an owned lesion.
func (r *LesionRepository) SaveComparison(ctx context.Context, ownerID string, c *domain.LesionComparison) error {
	recs, err := json.Marshal(c.Recommendations)
	if err != nil {
		return fmt.Errorf("marshaling recommendations: %w", err)
	}

	query := `
		INSERT INTO lesion_comparisons
			(id, lesion_id, previous_snapshot_id, current_snapshot_id, change_detected,
			 size_change, color_change, border_change, texture_change,
			 overall_progression, risk_level, recommendations, detailed_analysis,
			 time_elapsed, analysis_time_seconds, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		WHERE EXISTS (SELECT 1 FROM tracked_lesions WHERE id = $2 AND owner_id = $17)`

	result, err := r.db.Pool.Exec(ctx, query,
		c.ID, c.LesionID, c.PreviousSnapshotID, c.CurrentSnapshotID, c.ChangeDetected,
		c.SizeChange, c.ColorChange, c.BorderChange, c.TextureChange,
		c.OverallProgression, c.RiskLevel, recs, c.DetailedAnalysis,
		c.TimeElapsed, c.AnalysisTimeSeconds, c.CreatedAt, ownerID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"comparison_id": c.ID,
			"lesion_id":     c.LesionID,
			"error":         err,
		}).Error("Failed to save comparison")
		return fmt.Errorf("saving comparison: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("tracked lesion not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"comparison_id": c.ID,
		"lesion_id":     c.LesionID,
		"risk_level":    c.RiskLevel,
	}).Info("Comparison saved")
	return nil
}

// ListComparisons returns a lesion's comparison history, newest first.
func (r *LesionRepository) ListComparisons(ctx context.Context, lesionID, ownerID string) ([]*domain.LesionComparison, error) {
	query := `
		SELECT c.id, c.lesion_id, c.previous_snapshot_id, c.current_snapshot_id, c.change_detected,
		       c.size_change, c.color_change, c.border_change, c.texture_change,
		       c.overall_progression, c.risk_level, c.recommendations, c.detailed_analysis,
		       c.time_elapsed, c.analysis_time_seconds, c.created_at
		FROM lesion_comparisons c
		JOIN tracked_lesions l ON l.id = c.lesion_id
		WHERE c.lesion_id = $1 AND l.owner_id = $2
		ORDER BY c.created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, lesionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing comparisons: %w", err)
	}
	defer rows.Close()

	var comparisons []*domain.LesionComparison
	for rows.Next() {
		var (
			c    domain.LesionComparison
			recs []byte
		)
		err := rows.Scan(&c.ID, &c.LesionID, &c.PreviousSnapshotID, &c.CurrentSnapshotID, &c.ChangeDetected,
			&c.SizeChange, &c.ColorChange, &c.BorderChange, &c.TextureChange,
			&c.OverallProgression, &c.RiskLevel, &recs, &c.DetailedAnalysis,
			&c.TimeElapsed, &c.AnalysisTimeSeconds, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning comparison row: %w", err)
		}
		if err := json.Unmarshal(recs, &c.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshaling recommendations: %w", err)
		}
		comparisons = append(comparisons, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comparison rows: %w", err)
	}
	return comparisons, nil
}
