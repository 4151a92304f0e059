package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/intentd/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, store.DialectSQLite)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func seedIntent(t *testing.T, s *store.Store, intentID string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := s.UpsertIntent(ctx, store.IntentRecord{
		IntentID:       intentID,
		Status:         "ready",
		IdempotencyKey: "key-" + intentID,
		RawPacket:      json.RawMessage(`{"kind":"intent"}`),
		CorrelationID:  "cor-" + intentID,
	})
	require.NoError(t, err)

	for _, status := range []string{"received", "ready"} {
		_, err := s.AppendArtifact(ctx, store.ArtifactRecord{
			IntentID:        intentID,
			CorrelationID:   "cor-" + intentID,
			Kind:            "intent",
			IntentType:      "create_task",
			Status:          status,
			IdempotencyKey:  "key-" + intentID,
			ArtifactVersion: 1,
			Artifact:        json.RawMessage(`{"intent_id":"` + intentID + `","status":"` + status + `"}`),
		})
		require.NoError(t, err)
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := sink.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Contains(t, hash, "sha256:")

	// Idempotent re-put.
	again, err := sink.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	data, err := sink.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	ok, err := sink.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sink.Delete(ctx, hash))
	ok, err = sink.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSinkRejectsMalformedHash(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = sink.Get(ctx, "not-a-hash")
	assert.Error(t, err)
	_, err = sink.Get(ctx, "sha256:zzzz")
	assert.Error(t, err)
	_, err = sink.Exists(ctx, "md5:abcd")
	assert.Error(t, err)
}

func TestExportBundlesJournal(t *testing.T) {
	s := newTestStore(t)
	seedIntent(t, s, "int_exp1")
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	exp := NewExporter(s, sink, nil)
	receipt, err := exp.Export(context.Background(), "int_exp1")
	require.NoError(t, err)
	assert.Equal(t, "int_exp1", receipt.IntentID)
	assert.Equal(t, 2, receipt.ArtifactCount)

	data, err := sink.Get(context.Background(), receipt.BundleHash)
	require.NoError(t, err)

	var bundle map[string]any
	require.NoError(t, json.Unmarshal(data, &bundle))
	assert.Equal(t, float64(BundleVersion), bundle["bundle_version"])
	assert.Equal(t, "int_exp1", bundle["intent_id"])
	assert.Equal(t, "ready", bundle["status"])
	assert.Len(t, bundle["artifacts"].([]any), 2)
}

func TestExportIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	seedIntent(t, s, "int_exp2")
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	exp := NewExporter(s, sink, nil)
	first, err := exp.Export(context.Background(), "int_exp2")
	require.NoError(t, err)
	second, err := exp.Export(context.Background(), "int_exp2")
	require.NoError(t, err)
	assert.Equal(t, first.BundleHash, second.BundleHash)
}

func TestExportDetectsTamperedJournal(t *testing.T) {
	s := newTestStore(t)
	seedIntent(t, s, "int_exp3")

	_, err := s.DB().Exec(
		`UPDATE intent_artifacts SET artifact = '{"forged":true}' WHERE intent_id = 'int_exp3'`)
	require.NoError(t, err)

	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	exp := NewExporter(s, sink, nil)

	_, err = exp.Export(context.Background(), "int_exp3")
	assert.ErrorIs(t, err, ErrBundleIntegrity)
}

func TestOpenSinkSchemes(t *testing.T) {
	ctx := context.Background()

	sink, err := OpenSink(ctx, t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	sink, err = OpenSink(ctx, "file://"+t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	_, err = OpenSink(ctx, "", "")
	assert.Error(t, err)
}

func TestSplitBucketURL(t *testing.T) {
	bucket, prefix := splitBucketURL("my-bucket/exports/intents")
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "exports/intents/", prefix)

	bucket, prefix = splitBucketURL("my-bucket")
	assert.Equal(t, "my-bucket", bucket)
	assert.Empty(t, prefix)
}

func TestExportUnknownIntent(t *testing.T) {
	s := newTestStore(t)
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	exp := NewExporter(s, sink, nil)

	_, err = exp.Export(context.Background(), "int_missing")
	assert.Error(t, err)
}
