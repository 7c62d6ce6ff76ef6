// Package store persists finished investigation sessions to sqlite. One
// row per session, append-only child rows for steps and wallets; typed
// form values are redacted before they touch disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSession writes a finished session with its step log and wallets in
// one transaction. Saving the same session twice replaces the previous
// record.
func (s *Store) SaveSession(ctx context.Context, sess *schemas.Session, costUSD float64, reasoningCalls int) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	piiJSON, err := json.MarshalToString(emptyAsList(sess.PIISubmitted))
	if err != nil {
		return fmt.Errorf("encode pii list: %w", err)
	}
	pagesJSON, err := json.MarshalToString(emptyAsList(sess.PagesVisited))
	if err != nil {
		return fmt.Errorf("encode pages list: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, target_url, state, outcome, failure_reason, identity_id, pii_submitted, pages_visited, cost_usd, reasoning_calls, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	target_url=excluded.target_url,
	state=excluded.state,
	outcome=excluded.outcome,
	failure_reason=excluded.failure_reason,
	identity_id=excluded.identity_id,
	pii_submitted=excluded.pii_submitted,
	pages_visited=excluded.pages_visited,
	cost_usd=excluded.cost_usd,
	reasoning_calls=excluded.reasoning_calls,
	started_at=excluded.started_at,
	ended_at=excluded.ended_at
`, sess.ID, sess.TargetURL, string(sess.State), string(sess.Outcome), nullIfEmpty(sess.FailureReason),
		nullIfEmpty(sess.IdentityID), piiJSON, pagesJSON, costUSD, reasoningCalls,
		ts(sess.StartedAt), nullableTS(sess.EndedAt)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE session_id = ?`, sess.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear steps: %w", err)
	}
	for _, st := range sess.Steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO steps(session_id, seq, state, action_type, selector, value, rationale, tier, success, error, screenshot_ref, duration_ms, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, sess.ID, st.Seq, string(st.State), string(st.Action.Type), st.Action.Selector,
			redact(st.Action.Value, st.Action.Type), st.Action.Rationale, string(st.Tier),
			boolToInt(st.Success), st.Error, st.ScreenshotRef, st.DurationMS, ts(st.Timestamp)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert step %d: %w", st.Seq, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wallets WHERE session_id = ?`, sess.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear wallets: %w", err)
	}
	for _, w := range sess.Wallets {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO wallets(session_id, network, address, symbol, source, method, confidence, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, sess.ID, w.Network, w.Address, w.Symbol, w.Source, string(w.Method), w.Confidence, ts(w.DiscoveredAt)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert wallet %s: %w", w.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// GetSession reconstructs a stored session, steps and wallets included.
func (s *Store) GetSession(ctx context.Context, id string) (*schemas.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, target_url, state, outcome, COALESCE(failure_reason, ''), COALESCE(identity_id, ''), pii_submitted, pages_visited, started_at, ended_at
FROM sessions
WHERE session_id = ?
`, id)

	var (
		sess      schemas.Session
		state     string
		outcome   string
		piiJSON   string
		pagesJSON string
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.TargetURL, &state, &outcome, &sess.FailureReason,
		&sess.IdentityID, &piiJSON, &pagesJSON, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.State = schemas.SessionState(state)
	sess.Outcome = schemas.Outcome(outcome)
	if err := json.UnmarshalFromString(piiJSON, &sess.PIISubmitted); err != nil {
		return nil, fmt.Errorf("decode pii list: %w", err)
	}
	if err := json.UnmarshalFromString(pagesJSON, &sess.PagesVisited); err != nil {
		return nil, fmt.Errorf("decode pages list: %w", err)
	}
	var err error
	sess.StartedAt, err = parseTS(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session started_at: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt, err = parseTS(endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse session ended_at: %w", err)
		}
	}

	sess.Steps, err = s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Wallets, err = s.listSessionWallets(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) listSteps(ctx context.Context, sessionID string) ([]schemas.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, state, action_type, selector, value, rationale, tier, success, error, screenshot_ref, duration_ms, recorded_at
FROM steps
WHERE session_id = ?
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := make([]schemas.Step, 0)
	for rows.Next() {
		var (
			st         schemas.Step
			state      string
			actionType string
			tier       string
			success    int
			recordedAt string
		)
		if err := rows.Scan(&st.Seq, &state, &actionType, &st.Action.Selector, &st.Action.Value,
			&st.Action.Rationale, &tier, &success, &st.Error, &st.ScreenshotRef, &st.DurationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.State = schemas.SessionState(state)
		st.Action.Type = schemas.ActionType(actionType)
		st.Tier = schemas.ResolutionTier(tier)
		st.Success = success == 1
		st.Timestamp, err = parseTS(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse step recorded_at: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter steps: %w", err)
	}
	return out, nil
}

func (s *Store) listSessionWallets(ctx context.Context, sessionID string) ([]schemas.WalletAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT network, address, symbol, source, method, confidence, discovered_at
FROM wallets
WHERE session_id = ?
ORDER BY network ASC, address ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session wallets: %w", err)
	}
	defer rows.Close()

	out := make([]schemas.WalletAddress, 0)
	for rows.Next() {
		var (
			w            schemas.WalletAddress
			method       string
			discoveredAt string
		)
		if err := rows.Scan(&w.Network, &w.Address, &w.Symbol, &w.Source, &method, &w.Confidence, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		w.Method = schemas.ExtractionMethod(method)
		w.DiscoveredAt, err = parseTS(discoveredAt)
		if err != nil {
			return nil, fmt.Errorf("parse wallet discovered_at: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter wallets: %w", err)
	}
	return out, nil
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID             string          `json:"id"`
	TargetURL      string          `json:"target_url"`
	State          string          `json:"state"`
	Outcome        schemas.Outcome `json:"outcome"`
	StepCount      int             `json:"step_count"`
	WalletCount    int             `json:"wallet_count"`
	CostUSD        float64         `json:"cost_usd"`
	ReasoningCalls int             `json:"reasoning_calls"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// ListSessions returns the newest sessions first. outcome filters when
// non-empty; limit <= 0 means no limit.
func (s *Store) ListSessions(ctx context.Context, outcome schemas.Outcome, limit int) ([]SessionSummary, error) {
	query := `
SELECT s.session_id, s.target_url, s.state, s.outcome, s.cost_usd, s.reasoning_calls, s.started_at, s.ended_at,
	(SELECT COUNT(*) FROM steps st WHERE st.session_id = s.session_id),
	(SELECT COUNT(*) FROM wallets w WHERE w.session_id = s.session_id)
FROM sessions s`
	args := make([]any, 0, 2)
	if outcome != "" {
		query += ` WHERE s.outcome = ?`
		args = append(args, string(outcome))
	}
	query += ` ORDER BY s.started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var (
			sm        SessionSummary
			outcome   string
			startedAt string
			endedAt   sql.NullString
		)
		if err := rows.Scan(&sm.ID, &sm.TargetURL, &sm.State, &outcome, &sm.CostUSD, &sm.ReasoningCalls,
			&startedAt, &endedAt, &sm.StepCount, &sm.WalletCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sm.Outcome = schemas.Outcome(outcome)
		sm.StartedAt, err = parseTS(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse summary started_at: %w", err)
		}
		if endedAt.Valid {
			v, parseErr := parseTS(endedAt.String)
			if parseErr != nil {
				return nil, fmt.Errorf("parse summary ended_at: %w", parseErr)
			}
			sm.EndedAt = &v
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter session summaries: %w", err)
	}
	return out, nil
}

// WalletRecord is one harvested address joined with its session.
type WalletRecord struct {
	SessionID string                `json:"session_id"`
	TargetURL string                `json:"target_url"`
	Wallet    schemas.WalletAddress `json:"wallet"`
}

// ListWallets returns every stored wallet across sessions, newest
// sessions first. The same address seen on different sites appears once
// per site.
func (s *Store) ListWallets(ctx context.Context) ([]WalletRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT w.session_id, s.target_url, w.network, w.address, w.symbol, w.source, w.method, w.confidence, w.discovered_at
FROM wallets w
JOIN sessions s ON s.session_id = w.session_id
ORDER BY s.started_at DESC, w.network ASC, w.address ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	out := make([]WalletRecord, 0)
	for rows.Next() {
		var (
			rec          WalletRecord
			method       string
			discoveredAt string
		)
		if err := rows.Scan(&rec.SessionID, &rec.TargetURL, &rec.Wallet.Network, &rec.Wallet.Address,
			&rec.Wallet.Symbol, &rec.Wallet.Source, &method, &rec.Wallet.Confidence, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan wallet record: %w", err)
		}
		rec.Wallet.Method = schemas.ExtractionMethod(method)
		rec.Wallet.DiscoveredAt, err = parseTS(discoveredAt)
		if err != nil {
			return nil, fmt.Errorf("parse wallet record discovered_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter wallet records: %w", err)
	}
	return out, nil
}

// CountSessions reports how many sessions are stored.
func (s *Store) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// redact masks typed values so synthetic PII never lands verbatim on disk.
func redact(value string, action schemas.ActionType) string {
	if action == schemas.ActionTypeText && len(value) > 4 {
		return value[:2] + "***" + value[len(value)-2:]
	}
	return value
}

func emptyAsList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ts(t)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
