package feedback

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleFeedback() *Feedback {
	return &Feedback{
		CaseID:             "case-1",
		OwnerID:            "clinician-1",
		SuggestedDiagnosis: "Eczema",
		ClinicianDiagnosis: "Eczema",
		Agreed:             true,
		Notes:              "Matches presentation",
	}
}

func TestSQLiteStore_Save(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fb := sampleFeedback()
	require.NoError(t, store.Save(ctx, fb))
	assert.NotZero(t, fb.ID)
	assert.NotZero(t, fb.CreatedAt)
}

func TestSQLiteStore_SaveUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fb := sampleFeedback()
	require.NoError(t, store.Save(ctx, fb))
	originalID := fb.ID

	// Re-submitting for the same case replaces the verdict.
	fb.ClinicianDiagnosis = "Contact Dermatitis"
	fb.Agreed = false
	require.NoError(t, store.Save(ctx, fb))
	assert.Equal(t, originalID, fb.ID)

	loaded, err := store.Get(ctx, "case-1", "clinician-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Contact Dermatitis", loaded.ClinicianDiagnosis)
	assert.False(t, loaded.Agreed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	fb, err := store.Get(context.Background(), "no-such-case", "clinician-1")
	require.NoError(t, err)
	assert.Nil(t, fb)
}

func TestSQLiteStore_ListScopedToOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleFeedback()))
	other := sampleFeedback()
	other.CaseID = "case-2"
	other.OwnerID = "clinician-2"
	require.NoError(t, store.Save(ctx, other))

	mine, err := store.List(ctx, "clinician-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "case-1", mine[0].CaseID)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fb := sampleFeedback()
	require.NoError(t, store.Save(ctx, fb))
	require.NoError(t, store.Delete(ctx, fb.ID))

	loaded, err := store.Get(ctx, fb.CaseID, fb.OwnerID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleFeedback()))
	second := sampleFeedback()
	second.CaseID = "case-2"
	second.Agreed = false
	require.NoError(t, store.Save(ctx, second))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	target := newTestStore(t)
	imported, skipped, err := target.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	// Importing the same export again skips everything.
	imported, skipped, err = target.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 2, skipped)
}
