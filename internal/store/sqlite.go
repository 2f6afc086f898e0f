package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id          TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	ended_at        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'running',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	total_jobs      INTEGER NOT NULL DEFAULT 0,
	a_tier          INTEGER NOT NULL DEFAULT 0,
	b_tier          INTEGER NOT NULL DEFAULT 0,
	c_tier          INTEGER NOT NULL DEFAULT 0,
	skipped_applied INTEGER NOT NULL DEFAULT 0,
	llm_enabled     INTEGER NOT NULL DEFAULT 0,
	llm_model       TEXT NOT NULL DEFAULT '',
	llm_scored_live INTEGER NOT NULL DEFAULT 0,
	llm_cache_hits  INTEGER NOT NULL DEFAULT 0,
	llm_failed      INTEGER NOT NULL DEFAULT 0,
	source_errors   INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT,
	summary_json    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	remote_hint INTEGER NOT NULL DEFAULT 0,
	url         TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	published   TEXT NOT NULL DEFAULT '',
	fetched_at  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS job_rankings (
	run_id          TEXT NOT NULL,
	job_id          TEXT NOT NULL,
	score           INTEGER NOT NULL DEFAULT 0,
	tier            TEXT NOT NULL DEFAULT 'C',
	rule_score      INTEGER,
	reasons_json    TEXT NOT NULL DEFAULT '[]',
	skill_hits_json TEXT NOT NULL DEFAULT '[]',
	llm_summary     TEXT NOT NULL DEFAULT '',
	scored_by       TEXT NOT NULL DEFAULT 'rules',
	PRIMARY KEY (run_id, job_id)
);

CREATE TABLE IF NOT EXISTS source_fetch_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	source_name   TEXT NOT NULL DEFAULT '',
	source_kind   TEXT NOT NULL DEFAULT '',
	source_type   TEXT NOT NULL DEFAULT '',
	source_url    TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL DEFAULT 0,
	jobs_fetched  INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS applications (
	user_id        TEXT NOT NULL DEFAULT 'default',
	job_url        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	company        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'applied',
	applied_at     TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	next_action_at TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, job_url)
);

CREATE TABLE IF NOT EXISTS eval_cache (
	cache_key  TEXT PRIMARY KEY,
	entry_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_job_rankings_run_id ON job_rankings(run_id);
CREATE INDEX IF NOT EXISTS idx_source_fetch_events_run_id ON source_fetch_events(run_id);
CREATE INDEX IF NOT EXISTS idx_source_fetch_events_source_name ON source_fetch_events(source_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceRunSnapshot(ctx context.Context, run model.PipelineRun, postings []model.Posting, rankings []model.RankedPosting, events []model.SourceFetchEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	if err := upsertRunTx(ctx, tx, run); err != nil {
		return err
	}
	for _, p := range postings {
		if err := upsertJobTx(ctx, tx, p); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_rankings WHERE run_id = ?`, run.RunID); err != nil {
		return eris.Wrapf(err, "sqlite: clear rankings for run %s", run.RunID)
	}
	for _, r := range rankings {
		if err := insertRankingTx(ctx, tx, run.RunID, r); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_fetch_events WHERE run_id = ?`, run.RunID); err != nil {
		return eris.Wrapf(err, "sqlite: clear events for run %s", run.RunID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range events {
		if err := insertEventTx(ctx, tx, run.RunID, e, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit snapshot for run %s", run.RunID)
	}
	return nil
}

func upsertRunTx(ctx context.Context, tx *sql.Tx, run model.PipelineRun) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			run_id, started_at, ended_at, status, duration_ms, total_jobs,
			a_tier, b_tier, c_tier, skipped_applied,
			llm_enabled, llm_model, llm_scored_live, llm_cache_hits, llm_failed,
			source_errors, error_message, summary_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			status = excluded.status,
			duration_ms = excluded.duration_ms,
			total_jobs = excluded.total_jobs,
			a_tier = excluded.a_tier,
			b_tier = excluded.b_tier,
			c_tier = excluded.c_tier,
			skipped_applied = excluded.skipped_applied,
			llm_enabled = excluded.llm_enabled,
			llm_model = excluded.llm_model,
			llm_scored_live = excluded.llm_scored_live,
			llm_cache_hits = excluded.llm_cache_hits,
			llm_failed = excluded.llm_failed,
			source_errors = excluded.source_errors,
			error_message = excluded.error_message,
			summary_json = excluded.summary_json`,
		run.RunID, run.StartedAt, run.EndedAt, run.Status, run.DurationMS, run.TotalJobs,
		run.ATier, run.BTier, run.CTier, run.SkippedApplied,
		boolToInt(run.LLMEnabled), run.LLMModel, run.LLMScoredLive, run.LLMCacheHits, run.LLMFailed,
		run.SourceErrors, nullString(run.ErrorMessage), run.SummaryJSON,
	)
	return eris.Wrapf(err, "sqlite: upsert run %s", run.RunID)
}

func upsertJobTx(ctx context.Context, tx *sql.Tx, p model.Posting) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, source, source_type, title, company, location,
			remote_hint, url, description, published, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			source_type = excluded.source_type,
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			remote_hint = excluded.remote_hint,
			url = excluded.url,
			description = excluded.description,
			published = excluded.published,
			fetched_at = excluded.fetched_at`,
		p.StableID(), p.Source, p.SourceType, p.Title, p.Company, p.Location,
		boolToInt(p.RemoteHint), p.URL, p.Description, p.Published, p.FetchedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert job %s", p.StableID())
}

func insertRankingTx(ctx context.Context, tx *sql.Tx, runID string, r model.RankedPosting) error {
	reasons, err := json.Marshal(emptyIfNil(r.Reasons))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reasons")
	}
	skillHits, err := json.Marshal(emptyIfNil(r.SkillHits))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal skill hits")
	}

	var ruleScore any
	if r.RuleScore != nil {
		ruleScore = *r.RuleScore
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_rankings (
			run_id, job_id, score, tier, rule_score,
			reasons_json, skill_hits_json, llm_summary, scored_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Posting.StableID(), r.Score, r.Tier, ruleScore,
		string(reasons), string(skillHits), r.LLMSummary, r.ScoredBy,
	)
	return eris.Wrapf(err, "sqlite: insert ranking for %s", r.Posting.StableID())
}

func insertEventTx(ctx context.Context, tx *sql.Tx, runID string, e model.SourceFetchEvent, createdAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO source_fetch_events (
			run_id, source_name, source_kind, source_type, source_url,
			attempts, success, jobs_fetched, duration_ms, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.SourceName, e.SourceKind, e.SourceType, e.SourceURL,
		e.Attempts, boolToInt(e.Success), e.JobsFetched, e.DurationMS,
		nullString(e.ErrorMessage), createdAt,
	)
	return eris.Wrapf(err, "sqlite: insert event for source %s", e.SourceName)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, ended_at, status, duration_ms, total_jobs,
		       a_tier, b_tier, c_tier, skipped_applied,
		       llm_enabled, llm_model, llm_scored_live, llm_cache_hits, llm_failed,
		       source_errors, error_message, summary_json
		FROM pipeline_runs WHERE run_id = ?`,
		runID,
	)
	run, err := scanPipelineRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("store: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `
		SELECT run_id, started_at, ended_at, status, duration_ms, total_jobs,
		       a_tier, b_tier, c_tier, skipped_applied,
		       llm_enabled, llm_model, llm_scored_live, llm_cache_hits, llm_failed,
		       source_errors, error_message, summary_json
		FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ListRunEvents(ctx context.Context, runID string) ([]model.SourceFetchEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source_name, source_kind, source_type, source_url,
		       attempts, success, jobs_fetched, duration_ms, error_message
		FROM source_fetch_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events for run %s", runID)
	}
	defer rows.Close()

	var events []model.SourceFetchEvent
	for rows.Next() {
		var e model.SourceFetchEvent
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(
			&e.RunID, &e.SourceName, &e.SourceKind, &e.SourceType, &e.SourceURL,
			&e.Attempts, &success, &e.JobsFetched, &e.DurationMS, &errMsg,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Success = success != 0
		e.ErrorMessage = errMsg.String
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func (s *SQLiteStore) GetSourceStats(ctx context.Context, windowRuns int) ([]model.SourceEventStats, error) {
	if windowRuns < 1 {
		windowRuns = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH recent_runs AS (
			SELECT run_id
			FROM pipeline_runs
			ORDER BY started_at DESC
			LIMIT ?
		)
		SELECT s.source_name,
		       COUNT(*) AS total_events,
		       SUM(CASE WHEN s.success = 1 THEN 1 ELSE 0 END) AS success_events,
		       SUM(CASE WHEN s.success = 0 THEN 1 ELSE 0 END) AS failed_events,
		       MAX(CASE WHEN s.success = 1 THEN s.created_at ELSE NULL END) AS last_success_at
		FROM source_fetch_events s
		JOIN recent_runs r ON r.run_id = s.run_id
		GROUP BY s.source_name
		ORDER BY s.source_name ASC`,
		windowRuns,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: source stats")
	}
	defer rows.Close()

	var stats []model.SourceEventStats
	for rows.Next() {
		var st model.SourceEventStats
		var lastSuccess sql.NullString
		if err := rows.Scan(&st.SourceName, &st.TotalEvents, &st.SuccessEvents, &st.FailedEvents, &lastSuccess); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source stats")
		}
		if lastSuccess.Valid && strings.TrimSpace(lastSuccess.String) != "" {
			if ts, err := time.Parse(time.RFC3339, lastSuccess.String); err == nil {
				st.LastSuccess = ts
				st.HasSuccess = true
			}
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate source stats")
}

func (s *SQLiteStore) ListAppliedURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_url FROM applications ORDER BY job_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list applied urls")
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan applied url")
		}
		urls = append(urls, url)
	}
	return urls, eris.Wrap(rows.Err(), "sqlite: iterate applied urls")
}

func (s *SQLiteStore) UpsertApplication(ctx context.Context, app model.Application) error {
	userID := app.UserID
	if userID == "" {
		userID = "default"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (
			user_id, job_url, title, company, status, applied_at, notes, next_action_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, job_url) DO UPDATE SET
			title = excluded.title,
			company = excluded.company,
			status = excluded.status,
			applied_at = excluded.applied_at,
			notes = excluded.notes,
			next_action_at = excluded.next_action_at`,
		userID, strings.ToLower(strings.TrimSpace(app.JobURL)),
		app.Title, app.Company, app.Status, app.AppliedAt, app.Notes, app.NextActionAt,
	)
	return eris.Wrapf(err, "sqlite: upsert application %s", app.JobURL)
}

func (s *SQLiteStore) LoadEvalCache(ctx context.Context) (map[string]model.EvalCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cache_key, entry_json FROM eval_cache`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load eval cache")
	}
	defer rows.Close()

	entries := make(map[string]model.EvalCacheEntry)
	for rows.Next() {
		var key, blob string
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan eval cache row")
		}
		var entry model.EvalCacheEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			// A corrupt row costs one re-evaluation, not the run.
			continue
		}
		entries[key] = entry
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate eval cache")
}

func (s *SQLiteStore) SaveEvalCache(ctx context.Context, entries map[string]model.EvalCacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin eval cache tx")
	}
	defer tx.Rollback()

	for key, entry := range entries {
		blob, err := json.Marshal(entry)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal eval cache entry")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO eval_cache (cache_key, entry_json, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				entry_json = excluded.entry_json,
				updated_at = excluded.updated_at`,
			key, string(blob), entry.UpdatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert eval cache entry")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit eval cache")
}

// scannable covers sql.Row and sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanPipelineRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var llmEnabled int
	var errMsg sql.NullString
	if err := row.Scan(
		&run.RunID, &run.StartedAt, &run.EndedAt, &run.Status, &run.DurationMS, &run.TotalJobs,
		&run.ATier, &run.BTier, &run.CTier, &run.SkippedApplied,
		&llmEnabled, &run.LLMModel, &run.LLMScoredLive, &run.LLMCacheHits, &run.LLMFailed,
		&run.SourceErrors, &errMsg, &run.SummaryJSON,
	); err != nil {
		return nil, err
	}
	run.LLMEnabled = llmEnabled != 0
	run.ErrorMessage = errMsg.String
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
