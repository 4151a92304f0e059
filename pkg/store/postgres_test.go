package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intentCols = []string{
	"intent_id", "created_at", "updated_at", "status", "idempotency_key", "actor_id",
	"raw_packet", "canonical_draft", "final_canonical", "correlation_id", "trace_id", "response_envelope",
}

func TestUpsertIntentPostgresSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, DialectPostgres)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO intents .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM intents WHERE idempotency_key = \$1`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(intentCols).AddRow(
			"int_k1", now, now, "received", "k1", nil,
			`{"kind":"intent"}`, nil, nil, "cor_k1", "trace-1", nil))
	mock.ExpectCommit()

	rec, created, err := s.UpsertIntent(context.Background(), IntentRecord{
		IntentID:       "int_k1",
		Status:         "received",
		IdempotencyKey: "k1",
		RawPacket:      json.RawMessage(`{"kind":"intent"}`),
		CorrelationID:  "cor_k1",
		TraceID:        "trace-1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "int_k1", rec.IntentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertIntentPostgresReplayBackfill(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, DialectPostgres)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO intents .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM intents WHERE idempotency_key = \$1`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(intentCols).AddRow(
			"int_k1", now, now, "ready", "k1", nil,
			`{"kind":"intent"}`, nil, nil, "cor_k1", nil, `{"status":"ready"}`))
	mock.ExpectExec(`UPDATE intents SET actor_id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE intents SET trace_id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, created, err := s.UpsertIntent(context.Background(), IntentRecord{
		IntentID:       "int_new",
		Status:         "received",
		IdempotencyKey: "k1",
		RawPacket:      json.RawMessage(`{"kind":"intent"}`),
		CorrelationID:  "cor_new",
		ActorID:        "user-late",
		TraceID:        "trace-late",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "int_k1", rec.IntentID)
	assert.Equal(t, "user-late", rec.ActorID)
	assert.JSONEq(t, `{"status":"ready"}`, string(rec.ResponseEnvelope))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireSweepPostgresSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, DialectPostgres)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT clarification_id, intent_id FROM clarifications`).
		WillReturnRows(sqlmock.NewRows([]string{"clarification_id", "intent_id"}).
			AddRow("c1", "int_1"))
	mock.ExpectExec(`UPDATE clarifications SET status = 'expired'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE intents SET status = 'expired'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := s.ExpireOpenClarifications(context.Background(), time.Now().UTC(), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"int_1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
