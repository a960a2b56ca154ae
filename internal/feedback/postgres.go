package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL for shared deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection. The schema must already
// exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a connection from a postgres:// URL and
// ensures the schema exists.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS diagnosis_feedback (
			id BIGSERIAL PRIMARY KEY,
			case_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			suggested_diagnosis TEXT NOT NULL,
			clinician_diagnosis TEXT NOT NULL,
			agreed BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (case_id, owner_id)
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores or updates a clinician's verdict for a case.
func (s *PostgresStore) Save(ctx context.Context, fb *Feedback) error {
	now := time.Now()

	query := `
		INSERT INTO diagnosis_feedback (
			case_id, owner_id, suggested_diagnosis, clinician_diagnosis,
			agreed, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (case_id, owner_id) DO UPDATE SET
			suggested_diagnosis = EXCLUDED.suggested_diagnosis,
			clinician_diagnosis = EXCLUDED.clinician_diagnosis,
			agreed = EXCLUDED.agreed,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		fb.CaseID, fb.OwnerID, fb.SuggestedDiagnosis, fb.ClinicianDiagnosis,
		fb.Agreed, fb.Notes, now, now,
	).Scan(&fb.ID, &fb.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	fb.UpdatedAt = now
	return nil
}

// Get retrieves the verdict for a case by one clinician.
func (s *PostgresStore) Get(ctx context.Context, caseID, ownerID string) (*Feedback, error) {
	query := `
		SELECT id, case_id, owner_id, suggested_diagnosis, clinician_diagnosis,
			agreed, notes, created_at, updated_at
		FROM diagnosis_feedback
		WHERE case_id = $1 AND owner_id = $2
		LIMIT 1
	`

	fb := &Feedback{}
	err := s.db.QueryRowContext(ctx, query, caseID, ownerID).Scan(
		&fb.ID, &fb.CaseID, &fb.OwnerID,
		&fb.SuggestedDiagnosis, &fb.ClinicianDiagnosis, &fb.Agreed,
		&fb.Notes, &fb.CreatedAt, &fb.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return fb, nil
}

// List returns a clinician's feedback entries with pagination.
func (s *PostgresStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*Feedback, error) {
	query := `
		SELECT id, case_id, owner_id, suggested_diagnosis, clinician_diagnosis,
			agreed, notes, created_at, updated_at
		FROM diagnosis_feedback
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb := &Feedback{}
		err := rows.Scan(
			&fb.ID, &fb.CaseID, &fb.OwnerID,
			&fb.SuggestedDiagnosis, &fb.ClinicianDiagnosis, &fb.Agreed,
			&fb.Notes, &fb.CreatedAt, &fb.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM diagnosis_feedback").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// Delete removes a feedback entry by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM diagnosis_feedback WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

const pgMaxExportLimit = 1000000

// ExportJSON exports all feedback to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, owner_id, suggested_diagnosis, clinician_diagnosis,
			agreed, notes, created_at, updated_at
		FROM diagnosis_feedback
		ORDER BY created_at DESC
		LIMIT $1
	`, pgMaxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var all []*Feedback
	for rows.Next() {
		fb := &Feedback{}
		err := rows.Scan(
			&fb.ID, &fb.CaseID, &fb.OwnerID,
			&fb.SuggestedDiagnosis, &fb.ClinicianDiagnosis, &fb.Agreed,
			&fb.Notes, &fb.CreatedAt, &fb.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		all = append(all, fb)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports feedback from a JSON reader, skipping existing entries.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		existing, err := s.Get(ctx, fb.CaseID, fb.OwnerID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
