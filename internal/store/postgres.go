package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/db"
	"github.com/benediktbwimmer/job-search/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_run":         pgSelectRun + ` WHERE run_id = $1`,
	"list_applied":    `SELECT job_url FROM applications ORDER BY job_url ASC`,
	"load_eval_cache": `SELECT cache_key, entry_json FROM eval_cache`,
	"list_run_events": `SELECT run_id, source_name, source_kind, source_type, source_url, attempts, success, jobs_fetched, duration_ms, error_message FROM source_fetch_events WHERE run_id = $1 ORDER BY id ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests pass a pgxmock pool here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id          TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	ended_at        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'running',
	duration_ms     BIGINT NOT NULL DEFAULT 0,
	total_jobs      INTEGER NOT NULL DEFAULT 0,
	a_tier          INTEGER NOT NULL DEFAULT 0,
	b_tier          INTEGER NOT NULL DEFAULT 0,
	c_tier          INTEGER NOT NULL DEFAULT 0,
	skipped_applied INTEGER NOT NULL DEFAULT 0,
	llm_enabled     BOOLEAN NOT NULL DEFAULT false,
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
	remote_hint BOOLEAN NOT NULL DEFAULT false,
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
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	source_name   TEXT NOT NULL DEFAULT '',
	source_kind   TEXT NOT NULL DEFAULT '',
	source_type   TEXT NOT NULL DEFAULT '',
	source_url    TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL DEFAULT false,
	jobs_fetched  INTEGER NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
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

const pgSelectRun = `SELECT run_id, started_at, ended_at, status, duration_ms, total_jobs, a_tier, b_tier, c_tier, skipped_applied, llm_enabled, llm_model, llm_scored_live, llm_cache_hits, llm_failed, source_errors, error_message, summary_json FROM pipeline_runs`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ReplaceRunSnapshot(ctx context.Context, run model.PipelineRun, postings []model.Posting, rankings []model.RankedPosting, events []model.SourceFetchEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin snapshot tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO pipeline_runs (
			run_id, started_at, ended_at, status, duration_ms, total_jobs,
			a_tier, b_tier, c_tier, skipped_applied,
			llm_enabled, llm_model, llm_scored_live, llm_cache_hits, llm_failed,
			source_errors, error_message, summary_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (run_id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			total_jobs = EXCLUDED.total_jobs,
			a_tier = EXCLUDED.a_tier,
			b_tier = EXCLUDED.b_tier,
			c_tier = EXCLUDED.c_tier,
			skipped_applied = EXCLUDED.skipped_applied,
			llm_enabled = EXCLUDED.llm_enabled,
			llm_model = EXCLUDED.llm_model,
			llm_scored_live = EXCLUDED.llm_scored_live,
			llm_cache_hits = EXCLUDED.llm_cache_hits,
			llm_failed = EXCLUDED.llm_failed,
			source_errors = EXCLUDED.source_errors,
			error_message = EXCLUDED.error_message,
			summary_json = EXCLUDED.summary_json`,
		run.RunID, run.StartedAt, run.EndedAt, run.Status, run.DurationMS, run.TotalJobs,
		run.ATier, run.BTier, run.CTier, run.SkippedApplied,
		run.LLMEnabled, run.LLMModel, run.LLMScoredLive, run.LLMCacheHits, run.LLMFailed,
		run.SourceErrors, nullString(run.ErrorMessage), run.SummaryJSON,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert run %s", run.RunID)
	}

	for _, p := range postings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO jobs (
				id, source, source_type, title, company, location,
				remote_hint, url, description, published, fetched_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				source = EXCLUDED.source,
				source_type = EXCLUDED.source_type,
				title = EXCLUDED.title,
				company = EXCLUDED.company,
				location = EXCLUDED.location,
				remote_hint = EXCLUDED.remote_hint,
				url = EXCLUDED.url,
				description = EXCLUDED.description,
				published = EXCLUDED.published,
				fetched_at = EXCLUDED.fetched_at`,
			p.StableID(), p.Source, p.SourceType, p.Title, p.Company, p.Location,
			p.RemoteHint, p.URL, p.Description, p.Published, p.FetchedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert job %s", p.StableID())
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM job_rankings WHERE run_id = $1`, run.RunID); err != nil {
		return eris.Wrapf(err, "postgres: clear rankings for run %s", run.RunID)
	}
	for _, r := range rankings {
		reasons, err := json.Marshal(emptyIfNil(r.Reasons))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal reasons")
		}
		skillHits, err := json.Marshal(emptyIfNil(r.SkillHits))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal skill hits")
		}
		var ruleScore any
		if r.RuleScore != nil {
			ruleScore = *r.RuleScore
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_rankings (
				run_id, job_id, score, tier, rule_score,
				reasons_json, skill_hits_json, llm_summary, scored_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.RunID, r.Posting.StableID(), r.Score, r.Tier, ruleScore,
			string(reasons), string(skillHits), r.LLMSummary, r.ScoredBy,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert ranking for %s", r.Posting.StableID())
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM source_fetch_events WHERE run_id = $1`, run.RunID); err != nil {
		return eris.Wrapf(err, "postgres: clear events for run %s", run.RunID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range events {
		if _, err := tx.Exec(ctx, `
			INSERT INTO source_fetch_events (
				run_id, source_name, source_kind, source_type, source_url,
				attempts, success, jobs_fetched, duration_ms, error_message, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.RunID, e.SourceName, e.SourceKind, e.SourceType, e.SourceURL,
			e.Attempts, e.Success, e.JobsFetched, e.DurationMS,
			nullString(e.ErrorMessage), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert event for source %s", e.SourceName)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit snapshot for run %s", run.RunID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, pgSelectRun+` WHERE run_id = $1`, runID)
	run, err := scanPipelineRunPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("store: run %s not found", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := pgSelectRun + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRunPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) ListRunEvents(ctx context.Context, runID string) ([]model.SourceFetchEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, source_name, source_kind, source_type, source_url,
		       attempts, success, jobs_fetched, duration_ms, error_message
		FROM source_fetch_events WHERE run_id = $1 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events for run %s", runID)
	}
	defer rows.Close()

	var events []model.SourceFetchEvent
	for rows.Next() {
		var e model.SourceFetchEvent
		var errMsg *string
		if err := rows.Scan(
			&e.RunID, &e.SourceName, &e.SourceKind, &e.SourceType, &e.SourceURL,
			&e.Attempts, &e.Success, &e.JobsFetched, &e.DurationMS, &errMsg,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate events")
}

func (s *PostgresStore) GetSourceStats(ctx context.Context, windowRuns int) ([]model.SourceEventStats, error) {
	if windowRuns < 1 {
		windowRuns = 1
	}
	rows, err := s.pool.Query(ctx, `
		WITH recent_runs AS (
			SELECT run_id
			FROM pipeline_runs
			ORDER BY started_at DESC
			LIMIT $1
		)
		SELECT s.source_name,
		       COUNT(*) AS total_events,
		       COUNT(*) FILTER (WHERE s.success) AS success_events,
		       COUNT(*) FILTER (WHERE NOT s.success) AS failed_events,
		       MAX(s.created_at) FILTER (WHERE s.success) AS last_success_at
		FROM source_fetch_events s
		JOIN recent_runs r ON r.run_id = s.run_id
		GROUP BY s.source_name
		ORDER BY s.source_name ASC`,
		windowRuns,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: source stats")
	}
	defer rows.Close()

	var stats []model.SourceEventStats
	for rows.Next() {
		var st model.SourceEventStats
		var lastSuccess *string
		if err := rows.Scan(&st.SourceName, &st.TotalEvents, &st.SuccessEvents, &st.FailedEvents, &lastSuccess); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source stats")
		}
		if lastSuccess != nil && strings.TrimSpace(*lastSuccess) != "" {
			if ts, err := time.Parse(time.RFC3339, *lastSuccess); err == nil {
				st.LastSuccess = ts
				st.HasSuccess = true
			}
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: iterate source stats")
}

func (s *PostgresStore) ListAppliedURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_url FROM applications ORDER BY job_url ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list applied urls")
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, eris.Wrap(err, "postgres: scan applied url")
		}
		urls = append(urls, url)
	}
	return urls, eris.Wrap(rows.Err(), "postgres: iterate applied urls")
}

func (s *PostgresStore) UpsertApplication(ctx context.Context, app model.Application) error {
	userID := app.UserID
	if userID == "" {
		userID = "default"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications (
			user_id, job_url, title, company, status, applied_at, notes, next_action_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, job_url) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			status = EXCLUDED.status,
			applied_at = EXCLUDED.applied_at,
			notes = EXCLUDED.notes,
			next_action_at = EXCLUDED.next_action_at`,
		userID, strings.ToLower(strings.TrimSpace(app.JobURL)),
		app.Title, app.Company, app.Status, app.AppliedAt, app.Notes, app.NextActionAt,
	)
	return eris.Wrapf(err, "postgres: upsert application %s", app.JobURL)
}

func (s *PostgresStore) LoadEvalCache(ctx context.Context) (map[string]model.EvalCacheEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT cache_key, entry_json FROM eval_cache`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load eval cache")
	}
	defer rows.Close()

	entries := make(map[string]model.EvalCacheEntry)
	for rows.Next() {
		var key, blob string
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan eval cache row")
		}
		var entry model.EvalCacheEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			// A corrupt row costs one re-evaluation, not the run.
			continue
		}
		entries[key] = entry
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate eval cache")
}

func (s *PostgresStore) SaveEvalCache(ctx context.Context, entries map[string]model.EvalCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for key, entry := range entries {
		blob, err := json.Marshal(entry)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal eval cache entry")
		}
		rows = append(rows, []any{key, string(blob), entry.UpdatedAt})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "eval_cache",
		Columns:      []string{"cache_key", "entry_json", "updated_at"},
		ConflictKeys: []string{"cache_key"},
	}, rows)
	return eris.Wrap(err, "postgres: save eval cache")
}

func scanPipelineRunPg(row pgx.Row) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var errMsg *string
	if err := row.Scan(
		&run.RunID, &run.StartedAt, &run.EndedAt, &run.Status, &run.DurationMS, &run.TotalJobs,
		&run.ATier, &run.BTier, &run.CTier, &run.SkippedApplied,
		&run.LLMEnabled, &run.LLMModel, &run.LLMScoredLive, &run.LLMCacheHits, &run.LLMFailed,
		&run.SourceErrors, &errMsg, &run.SummaryJSON,
	); err != nil {
		return nil, err
	}
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	return &run, nil
}
