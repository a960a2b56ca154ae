package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/database"
	"github.com/derm-diagnosis-server/internal/domain"
)

// PatientRepository handles patient demographic persistence.
type PatientRepository struct {
	db  *database.DB
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository.
func NewPatientRepository(db *database.DB, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{db: db, log: logger}
}

// Create inserts a new patient record.
func (r *PatientRepository) Create(ctx context.Context, p *domain.Patient) error {
	query := `
		INSERT INTO patients (id, owner_id, full_name, date_of_birth, skin_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	p.CreatedAt = time.Now().UTC()
	_, err := r.db.Pool.Exec(ctx, query, p.ID, p.OwnerID, p.FullName, p.DateOfBirth, p.SkinType, p.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": p.ID,
			"error":      err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithField("patient_id", p.ID).Info("Patient created")
	return nil
}

// GetByID retrieves a patient scoped to the owner.
func (r *PatientRepository) GetByID(ctx context.Context, id, ownerID string) (*domain.Patient, error) {
	query := `
		SELECT id, owner_id, full_name, date_of_birth, skin_type, created_at
		FROM patients
		WHERE id = $1 AND owner_id = $2`

	var p domain.Patient
	err := r.db.Pool.QueryRow(ctx, query, id, ownerID).Scan(
		&p.ID, &p.OwnerID, &p.FullName, &p.DateOfBirth, &p.SkinType, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to get patient")
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return &p, nil
}

// ListByOwner retrieves all patients for one clinician, newest first.
func (r *PatientRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Patient, error) {
	query := `
		SELECT id, owner_id, full_name, date_of_birth, skin_type, created_at
		FROM patients
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"error":    err,
		}).Error("Failed to list patients")
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		var p domain.Patient
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.FullName, &p.DateOfBirth, &p.SkinType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning patient row: %w", err)
		}
		patients = append(patients, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient rows: %w", err)
	}
	return patients, nil
}
