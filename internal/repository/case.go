// Package repository implements PostgreSQL persistence for patients, cases,
// tracked lesions and per-user settings.
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

// CaseRepository handles diagnostic case persistence. The ranked differential
// lives in its own table so the analysis update can replace it atomically
// alongside the raw provider payloads and the status flip.
type CaseRepository struct {
	db  *database.DB
	log *logrus.Logger
}

// NewCaseRepository creates a new case repository.
func NewCaseRepository(db *database.DB, logger *logrus.Logger) *CaseRepository {
	return &CaseRepository{db: db, log: logger}
}

// Create inserts a new pending case.
func (r *CaseRepository) Create(ctx context.Context, c *domain.Case) error {
	symptoms, err := json.Marshal(c.SymptomContext)
	if err != nil {
		return fmt.Errorf("marshaling symptom context: %w", err)
	}
	refs, err := json.Marshal(c.ImageRefs)
	if err != nil {
		return fmt.Errorf("marshaling image refs: %w", err)
	}

	query := `
		INSERT INTO cases (id, patient_id, owner_id, image_refs, symptom_context, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = r.db.Pool.Exec(ctx, query, c.ID, c.PatientID, c.OwnerID, refs, symptoms, c.Status, now)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": c.ID,
			"error":   err,
		}).Error("Failed to create case")
		return fmt.Errorf("creating case: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"case_id":    c.ID,
		"patient_id": c.PatientID,
	}).Info("Case created")

	return nil
}

// GetByID retrieves a case with its ranked differential, scoped to the owner.
func (r *CaseRepository) GetByID(ctx context.Context, id, ownerID string) (*domain.Case, error) {
	query := `
		SELECT id, patient_id, owner_id, image_refs, symptom_context, status,
		       gemini_analysis, openai_analysis, created_at, updated_at, last_analyzed_at
		FROM cases
		WHERE id = $1 AND owner_id = $2`

	c, err := scanCase(r.db.Pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("case not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": id,
			"error":   err,
		}).Error("Failed to get case")
		return nil, fmt.Errorf("getting case: %w", err)
	}

	if c.FinalDiagnoses, err = r.loadDiagnoses(ctx, r.db.Pool, id); err != nil {
		return nil, err
	}
	return c, nil
}

// ListByOwner retrieves cases for one clinician, newest first, without the
// per-case differential.
func (r *CaseRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Case, error) {
	query := `
		SELECT id, patient_id, owner_id, image_refs, symptom_context, status,
		       gemini_analysis, openai_analysis, created_at, updated_at, last_analyzed_at
		FROM cases
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"error":    err,
		}).Error("Failed to list cases")
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning case row: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating case rows: %w", err)
	}
	return cases, nil
}

// UpdateAnalysis writes the analysis outcome as one transaction: both raw
// provider payloads, the replaced ranked differential and the status flip
// either all land or none do.
func (r *CaseRepository) UpdateAnalysis(ctx context.Context, c *domain.Case) error {
	symptoms, err := json.Marshal(c.SymptomContext)
	if err != nil {
		return fmt.Errorf("marshaling symptom context: %w", err)
	}
	refs, err := json.Marshal(c.ImageRefs)
	if err != nil {
		return fmt.Errorf("marshaling image refs: %w", err)
	}
	gemini, err := marshalNullable(c.GeminiAnalysis)
	if err != nil {
		return fmt.Errorf("marshaling gemini analysis: %w", err)
	}
	openai, err := marshalNullable(c.OpenAIAnalysis)
	if err != nil {
		return fmt.Errorf("marshaling openai analysis: %w", err)
	}

	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE cases
			SET image_refs = $3, symptom_context = $4, status = $5,
			    gemini_analysis = $6, openai_analysis = $7,
			    updated_at = $8, last_analyzed_at = $9
			WHERE id = $1 AND owner_id = $2`,
			c.ID, c.OwnerID, refs, symptoms, c.Status, gemini, openai, c.UpdatedAt, c.LastAnalyzedAt)
		if err != nil {
			return fmt.Errorf("updating case: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("case not found: %w", domain.ErrNotFound)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM case_final_diagnoses WHERE case_id = $1`, c.ID); err != nil {
			return fmt.Errorf("clearing previous differential: %w", err)
		}

		for _, d := range c.FinalDiagnoses {
			features, err := json.Marshal(d.KeyFeatures)
			if err != nil {
				return fmt.Errorf("marshaling key features: %w", err)
			}
			recs, err := json.Marshal(d.Recommendations)
			if err != nil {
				return fmt.Errorf("marshaling recommendations: %w", err)
			}
			sources, err := json.Marshal(d.Sources)
			if err != nil {
				return fmt.Errorf("marshaling sources: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO case_final_diagnoses
					(case_id, rank, name, confidence, description, key_features, recommendations, is_urgent, sources)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				c.ID, d.Rank, d.Name, d.Confidence, d.Description, features, recs, d.IsUrgent, sources)
			if err != nil {
				return fmt.Errorf("inserting diagnosis rank %d: %w", d.Rank, err)
			}
		}
		return nil
	})

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": c.ID,
			"error":   err,
		}).Error("Failed to persist analysis")
		return err
	}

	r.log.WithFields(logrus.Fields{
		"case_id":   c.ID,
		"status":    c.Status,
		"diagnoses": len(c.FinalDiagnoses),
	}).Info("Analysis persisted")

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var (
		c        domain.Case
		refs     []byte
		symptoms []byte
		gemini   []byte
		openai   []byte
	)
	err := row.Scan(&c.ID, &c.PatientID, &c.OwnerID, &refs, &symptoms, &c.Status,
		&gemini, &openai, &c.CreatedAt, &c.UpdatedAt, &c.LastAnalyzedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(refs, &c.ImageRefs); err != nil {
		return nil, fmt.Errorf("unmarshaling image refs: %w", err)
	}
	if err := json.Unmarshal(symptoms, &c.SymptomContext); err != nil {
		return nil, fmt.Errorf("unmarshaling symptom context: %w", err)
	}
	if gemini != nil {
		c.GeminiAnalysis = &domain.ProviderResult{}
		if err := json.Unmarshal(gemini, c.GeminiAnalysis); err != nil {
			return nil, fmt.Errorf("unmarshaling gemini analysis: %w", err)
		}
	}
	if openai != nil {
		c.OpenAIAnalysis = &domain.ProviderResult{}
		if err := json.Unmarshal(openai, c.OpenAIAnalysis); err != nil {
			return nil, fmt.Errorf("unmarshaling openai analysis: %w", err)
		}
	}
	return &c, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *CaseRepository) loadDiagnoses(ctx context.Context, q querier, caseID string) ([]domain.FinalDiagnosis, error) {
	rows, err := q.Query(ctx, `
		SELECT rank, name, confidence, description, key_features, recommendations, is_urgent, sources
		FROM case_final_diagnoses
		WHERE case_id = $1
		ORDER BY rank ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("loading differential: %w", err)
	}
	defer rows.Close()

	var diagnoses []domain.FinalDiagnosis
	for rows.Next() {
		var (
			d        domain.FinalDiagnosis
			features []byte
			recs     []byte
			sources  []byte
		)
		if err := rows.Scan(&d.Rank, &d.Name, &d.Confidence, &d.Description, &features, &recs, &d.IsUrgent, &sources); err != nil {
			return nil, fmt.Errorf("scanning diagnosis row: %w", err)
		}
		if err := json.Unmarshal(features, &d.KeyFeatures); err != nil {
			return nil, fmt.Errorf("unmarshaling key features: %w", err)
		}
		if err := json.Unmarshal(recs, &d.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshaling recommendations: %w", err)
		}
		if sources != nil {
			if err := json.Unmarshal(sources, &d.Sources); err != nil {
				return nil, fmt.Errorf("unmarshaling sources: %w", err)
			}
		}
		diagnoses = append(diagnoses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnosis rows: %w", err)
	}
	return diagnoses, nil
}

// marshalNullable keeps absent provider payloads as SQL NULL instead of the
// JSON literal null.
func marshalNullable(result *domain.ProviderResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}
