package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClarificationRecord is one row of the clarifications table.
type ClarificationRecord struct {
	ClarificationID    string
	IntentID           string
	Status             string
	Question           string
	ExpectedAnswerType string
	Candidates         json.RawMessage
	Answer             json.RawMessage
	AnsweredAt         *time.Time
	ActorID            string
	CreatedAt          time.Time
}

const clarificationColumns = `clarification_id, intent_id, created_at, status, question,
	expected_answer_type, candidates, answer, answered_at, actor_id`

func scanClarification(row interface{ Scan(...any) error }) (ClarificationRecord, error) {
	var (
		rec                   ClarificationRecord
		createdAt, answeredAt scanTime
		answer                sql.NullString
		actor                 sql.NullString
		candidates            sql.NullString
	)
	err := row.Scan(&rec.ClarificationID, &rec.IntentID, &createdAt, &rec.Status, &rec.Question,
		&rec.ExpectedAnswerType, &candidates, &answer, &answeredAt, &actor)
	if err != nil {
		return ClarificationRecord{}, err
	}
	rec.CreatedAt = createdAt.t
	rec.AnsweredAt = answeredAt.ptr()
	rec.Candidates = scanNullJSON(candidates)
	rec.Answer = scanNullJSON(answer)
	rec.ActorID = scanNullString(actor)
	return rec, nil
}

// CreateClarification inserts a fresh open round for an intent.
func (s *Store) CreateClarification(ctx context.Context, rec ClarificationRecord) (ClarificationRecord, error) {
	if rec.ClarificationID == "" {
		rec.ClarificationID = uuid.NewString()
	}
	if rec.Candidates == nil {
		rec.Candidates = json.RawMessage("[]")
	}
	rec.CreatedAt = nowUTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO clarifications
		(clarification_id, intent_id, created_at, status, question, expected_answer_type,
		 candidates, answer, answered_at, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ClarificationID, rec.IntentID, fmtTime(rec.CreatedAt), rec.Status, rec.Question,
		rec.ExpectedAnswerType, string(rec.Candidates), nullBytes(rec.Answer), nullTime(rec.AnsweredAt),
		nullString(rec.ActorID))
	if err != nil {
		return ClarificationRecord{}, fmt.Errorf("store: create clarification: %w", err)
	}
	return rec, nil
}

// GetClarification fetches one clarification by id.
func (s *Store) GetClarification(ctx context.Context, clarificationID string) (ClarificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clarificationColumns+` FROM clarifications WHERE clarification_id = $1`, clarificationID)
	rec, err := scanClarification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ClarificationRecord{}, ErrNotFound
	}
	return rec, err
}

// OpenClarificationForIntent returns the newest open round for an intent,
// sweeping stale rounds past the cutoff first when one is given.
func (s *Store) OpenClarificationForIntent(ctx context.Context, intentID, actorID string, cutoff *time.Time) (ClarificationRecord, error) {
	if cutoff != nil {
		if _, err := s.ExpireOpenClarifications(ctx, *cutoff, intentID, actorID); err != nil {
			return ClarificationRecord{}, err
		}
	}
	query := `SELECT ` + clarificationColumns + ` FROM clarifications
		WHERE intent_id = $1 AND status = 'open'`
	args := []any{intentID}
	if actorID != "" {
		query += ` AND actor_id = $2`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanClarification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ClarificationRecord{}, ErrNotFound
	}
	return rec, err
}

// ListOpenClarifications returns all open rounds, oldest first, sweeping
// expiries first when a cutoff is given.
func (s *Store) ListOpenClarifications(ctx context.Context, actorID string, cutoff *time.Time) ([]ClarificationRecord, error) {
	if cutoff != nil {
		if _, err := s.ExpireOpenClarifications(ctx, *cutoff, "", actorID); err != nil {
			return nil, err
		}
	}
	query := `SELECT ` + clarificationColumns + ` FROM clarifications WHERE status = 'open'`
	args := []any{}
	if actorID != "" {
		query += ` AND actor_id = $1`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ClarificationRecord{}
	for rows.Next() {
		rec, err := scanClarification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AnswerClarification flips an open round to answered, guarded on status so a
// concurrent answer loses cleanly. ErrNotFound means the round was not open.
func (s *Store) AnswerClarification(ctx context.Context, clarificationID string, answer json.RawMessage) (ClarificationRecord, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE clarifications
		SET status = 'answered', answer = $1, answered_at = $2
		WHERE clarification_id = $3 AND status = 'open'`,
		string(answer), fmtTime(nowUTC()), clarificationID)
	if err != nil {
		return ClarificationRecord{}, fmt.Errorf("store: answer clarification: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ClarificationRecord{}, ErrNotFound
	}
	return s.GetClarification(ctx, clarificationID)
}

// ExpireOpenClarifications expires every open round created before the
// cutoff, optionally scoped to one intent or actor, then cascades the
// expiry onto intents still waiting on an answer. Returns the affected
// intent ids.
func (s *Store) ExpireOpenClarifications(ctx context.Context, cutoff time.Time, intentID, actorID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT clarification_id, intent_id FROM clarifications
		WHERE status = 'open' AND created_at < $1`
	args := []any{fmtTime(cutoff)}
	next := 2
	if intentID != "" {
		query += fmt.Sprintf(" AND intent_id = $%d", next)
		args = append(args, intentID)
		next++
	}
	if actorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", next)
		args = append(args, actorID)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var clarificationIDs, intentIDs []string
	for rows.Next() {
		var cid, iid string
		if err := rows.Scan(&cid, &iid); err != nil {
			rows.Close()
			return nil, err
		}
		clarificationIDs = append(clarificationIDs, cid)
		intentIDs = append(intentIDs, iid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cid := range clarificationIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clarifications SET status = 'expired' WHERE clarification_id = $1 AND status = 'open'`,
			cid); err != nil {
			return nil, err
		}
	}
	for _, iid := range intentIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE intents SET status = 'expired', updated_at = $1
			 WHERE intent_id = $2 AND status = 'needs_clarification'`,
			fmtTime(nowUTC()), iid); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return intentIDs, nil
}

// ExpireClarification expires a single open round. ErrNotFound when it was
// not open.
func (s *Store) ExpireClarification(ctx context.Context, clarificationID string) (ClarificationRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clarifications SET status = 'expired' WHERE clarification_id = $1 AND status = 'open'`,
		clarificationID)
	if err != nil {
		return ClarificationRecord{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ClarificationRecord{}, ErrNotFound
	}
	return s.GetClarification(ctx, clarificationID)
}
