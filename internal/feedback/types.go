// Package feedback stores clinician verdicts on AI-suggested diagnoses.
// Agreements and corrections are kept for later review of provider quality.
package feedback

import (
	"context"
	"io"
	"time"
)

// Feedback represents one clinician's verdict on the top-ranked diagnosis of
// a case. One verdict per clinician per case; re-submitting replaces it.
type Feedback struct {
	ID                 int64     `json:"id,omitempty"`
	CaseID             string    `json:"case_id"`
	OwnerID            string    `json:"owner_id"`
	SuggestedDiagnosis string    `json:"suggested_diagnosis"` // system's top-ranked name
	ClinicianDiagnosis string    `json:"clinician_diagnosis"` // clinician's decision
	Agreed             bool      `json:"agreed"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store defines the interface for feedback storage operations. Two backends
// exist: an embedded SQLite file for single-node deployments and PostgreSQL
// for shared ones.
type Store interface {
	// Save stores or updates a clinician's verdict for a case.
	Save(ctx context.Context, fb *Feedback) error

	// Get retrieves the verdict for a case by one clinician. Returns nil
	// without error when none exists.
	Get(ctx context.Context, caseID, ownerID string) (*Feedback, error)

	// List returns a clinician's feedback entries with pagination, newest
	// first.
	List(ctx context.Context, ownerID string, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader, skipping entries that
	// already exist. Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export is the JSON export envelope.
type Export struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}
