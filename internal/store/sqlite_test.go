package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-trainer/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_MetricsHistoryCapped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := range MetricsHistoryCap + 5 {
		require.NoError(t, st.RecordMetrics(ctx, model.MetricsSnapshot{Found: i}))
	}

	history, err := st.MetricsHistory(ctx, MetricsHistoryCap*2)
	require.NoError(t, err)
	require.Len(t, history, MetricsHistoryCap)
	assert.Equal(t, MetricsHistoryCap+4, history[0].Found)
	assert.Equal(t, 5, history[len(history)-1].Found)
}

func TestSQLite_CorruptRecordIsStorageError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ex, err := st.CreateExample(ctx, sampleSource(0), sampleScored(), "", 0)
	require.NoError(t, err)

	_, err = st.db.ExecContext(ctx, `UPDATE examples SET record = '{not json' WHERE id = ?`, ex.ID)
	require.NoError(t, err)

	_, err = st.GetExample(ctx, ex.ID)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))

	_, err = st.ListUnvalidated(ctx)
	assert.True(t, model.IsStorageError(err))
}

func TestSQLite_CorruptGroundTruthIsStorageError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ex, err := st.CreateExample(ctx, sampleSource(0), sampleScored(), "", 0)
	require.NoError(t, err)
	_, err = st.AttachValidation(ctx, ex.ID, sampleScored().Record)
	require.NoError(t, err)

	_, err = st.db.ExecContext(ctx, `UPDATE validations SET ground_truth = '[' WHERE example_id = ?`, ex.ID)
	require.NoError(t, err)

	_, err = st.ListValidated(ctx, nil)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))
}

func TestSQLite_ErrorsRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scored := sampleScored()
	scored.Record.Code = nil
	scored.Confidence[model.FieldCode] = 0
	scored.Errors = []model.FieldError{{Field: model.FieldCode, Message: "invalid fixed-length code"}}

	ex, err := st.CreateExample(ctx, sampleSource(3), scored, "", 1)
	require.NoError(t, err)

	got, err := st.GetExample(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "code: invalid fixed-length code", got.Errors[0].Error())
	assert.True(t, got.NeedsReview(0.8))
	assert.Equal(t, 1, got.Iteration)
}

func TestSQLite_ClosedStoreFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "closed.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	ctx := context.Background()
	_, err = st.CreateExample(ctx, sampleSource(0), sampleScored(), "", 0)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))
	assert.Contains(t, err.Error(), "sqlite: insert example")

	_, err = st.AttachValidation(ctx, "any", sampleScored().Record)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))

	_, err = st.CreateValidatedExample(ctx, sampleSource(0), sampleScored(), "", 1, sampleScored().Record)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))

	_, err = st.StartSession(ctx)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))

	err = st.RecordMetrics(ctx, model.MetricsSnapshot{Found: 1})
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))

	_, err = st.ListValidated(ctx, nil)
	require.Error(t, err)
	assert.True(t, model.IsStorageError(err))
}

func TestSQLite_CreateValidatedExample(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	truth := sampleScored().Record
	truth.Code = model.String("010303")
	ex, err := st.CreateValidatedExample(ctx, sampleSource(0), sampleScored(), "raw", 2, truth)
	require.NoError(t, err)
	assert.True(t, ex.Validated())
	require.NotNil(t, ex.ValidatedAt)

	got, err := st.GetExample(ctx, ex.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GroundTruth)
	assert.Equal(t, "010303", *got.GroundTruth.Code)
	assert.Equal(t, 2, got.Iteration)
	assert.Equal(t, "raw", got.RawResponse)

	unvalidated, err := st.ListUnvalidated(ctx)
	require.NoError(t, err)
	assert.Empty(t, unvalidated)
}
