package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CallLogSchema is the DDL for the call_logs table, including a GIN index
// for full-text search over the transcript column.
const CallLogSchema = `
CREATE TABLE IF NOT EXISTS call_logs (
    id               BIGSERIAL PRIMARY KEY,
    call_sid         TEXT NOT NULL UNIQUE,
    customer_id      BIGINT REFERENCES customers(id),
    direction        TEXT NOT NULL,
    caller_phone     TEXT NOT NULL DEFAULT '',
    intent           TEXT NOT NULL DEFAULT '',
    transcript       TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at         TIMESTAMPTZ,
    outcome          TEXT NOT NULL DEFAULT '',
    prompt_tokens    INT NOT NULL DEFAULT 0,
    completion_tokens INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_call_logs_customer ON call_logs(customer_id);
CREATE INDEX IF NOT EXISTS idx_call_logs_transcript_fts
    ON call_logs USING GIN (to_tsvector('english', transcript));
`

// CallLogStore is a typed repository over the call_logs table.
type CallLogStore struct {
	db DB
}

// NewCallLogStore creates a [CallLogStore] over db.
func NewCallLogStore(db DB) *CallLogStore { return &CallLogStore{db: db} }

// Migrate creates the call_logs table and its indexes if absent.
func (s *CallLogStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, CallLogSchema); err != nil {
		return fmt.Errorf("repo: migrate call_logs: %w", err)
	}
	return nil
}

// Start inserts a new call log row at session-start time.
func (s *CallLogStore) Start(ctx context.Context, log *CallLog) error {
	if log.Direction == "" {
		log.Direction = DirectionInbound
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO call_logs (call_sid, customer_id, direction, caller_phone, intent, started_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`
	err := s.db.QueryRow(ctx, query,
		log.CallSID, log.CustomerID, log.Direction, log.CallerPhone, log.Intent, log.StartedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("repo: start call log: %w", err)
	}
	return nil
}

// Finish persists the final transcript, outcome, token counters, and
// ended_at for a call. This is the write the Orchestrator's teardown path
// performs after closing every client.
func (s *CallLogStore) Finish(ctx context.Context, callSID, transcript, outcome string, promptTokens, completionTokens int) error {
	const query = `
		UPDATE call_logs SET
			transcript = $2, outcome = $3, prompt_tokens = $4, completion_tokens = $5,
			ended_at = now()
		WHERE call_sid = $1`
	_, err := s.db.Exec(ctx, query, callSID, transcript, outcome, promptTokens, completionTokens)
	if err != nil {
		return fmt.Errorf("repo: finish call log: %w", err)
	}
	return nil
}

// GetByCallSID retrieves a call log by its telephony call_sid, returning
// (nil, nil) if not found.
func (s *CallLogStore) GetByCallSID(ctx context.Context, callSID string) (*CallLog, error) {
	const query = `
		SELECT id, call_sid, customer_id, direction, caller_phone, intent, transcript,
		       started_at, ended_at, outcome, prompt_tokens, completion_tokens
		FROM call_logs WHERE call_sid = $1`

	var c CallLog
	err := s.db.QueryRow(ctx, query, callSID).Scan(
		&c.ID, &c.CallSID, &c.CustomerID, &c.Direction, &c.CallerPhone, &c.Intent, &c.Transcript,
		&c.StartedAt, &c.EndedAt, &c.Outcome, &c.PromptTokens, &c.CompletionTokens,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: get call log: %w", err)
	}
	return &c, nil
}

// SearchTranscripts performs a full-text search over call transcripts,
// optionally scoped to a customer. Results are ordered most recent first.
func (s *CallLogStore) SearchTranscripts(ctx context.Context, query string, customerID int64, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = 20
	}
	args := []any{query}
	sql := `
		SELECT id, call_sid, customer_id, direction, caller_phone, intent, transcript,
		       started_at, ended_at, outcome, prompt_tokens, completion_tokens
		FROM call_logs
		WHERE to_tsvector('english', transcript) @@ plainto_tsquery('english', $1)`
	if customerID != 0 {
		args = append(args, customerID)
		sql += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: search transcripts: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CallLog, error) {
		var c CallLog
		err := row.Scan(
			&c.ID, &c.CallSID, &c.CustomerID, &c.Direction, &c.CallerPhone, &c.Intent, &c.Transcript,
			&c.StartedAt, &c.EndedAt, &c.Outcome, &c.PromptTokens, &c.CompletionTokens,
		)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("repo: search transcripts scan: %w", err)
	}
	if logs == nil {
		logs = []CallLog{}
	}
	return logs, nil
}
