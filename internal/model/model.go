// Package model defines the domain records shared across the pipeline:
// postings ingested from sources, LLM evaluations, run metadata, and the
// derived source-health view.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Posting is one ingested job listing. Fetchers produce postings; once
// produced they are treated as immutable.
type Posting struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	SourceType  string `json:"source_type"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	RemoteHint  bool   `json:"remote_hint"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Published   string `json:"published"`
	FetchedAt   string `json:"fetched_at"`
}

// Identity returns the stable dedupe key for a posting: URL if present,
// else the source-assigned ID, else the title. Lowercased and trimmed so
// case variants of the same listing collapse.
func (p Posting) Identity() string {
	for _, candidate := range []string{p.URL, p.ID, p.Title} {
		if key := strings.ToLower(strings.TrimSpace(candidate)); key != "" {
			return key
		}
	}
	return ""
}

// StableID returns the posting's persistence key, falling back to a content
// hash when the source provided neither an id nor a URL.
func (p Posting) StableID() string {
	if id := strings.TrimSpace(p.ID); id != "" {
		return id
	}
	if url := strings.TrimSpace(p.URL); url != "" {
		return url
	}
	blob, _ := json.Marshal(p)
	return "generated:" + HashText(string(blob))
}

// HashText returns the hex-encoded sha256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Evaluation is the LLM-derived judgment for one posting.
type Evaluation struct {
	IsJobPosting bool     `json:"is_job_posting"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	RemoteHint   bool     `json:"remote_hint"`
	Description  string   `json:"description"`
	Published    string   `json:"published"`
	Score        int      `json:"score"`
	Tier         string   `json:"tier"`
	Reasons      []string `json:"reasons"`
	Summary      string   `json:"summary"`
	QualityFlags []string `json:"quality_flags"`
	Confidence   float64  `json:"confidence"`
}

// TierForScore maps a 0-100 score to its coarse bucket.
func TierForScore(score int) string {
	switch {
	case score >= 70:
		return "A"
	case score >= 50:
		return "B"
	default:
		return "C"
	}
}

// EvalCacheEntry is one durable evaluation-cache record: the evaluation plus
// the metadata needed to audit what produced it.
type EvalCacheEntry struct {
	Evaluation    Evaluation `json:"evaluation"`
	UpdatedAt     string     `json:"updated_at"`
	Model         string     `json:"model"`
	PromptVersion string     `json:"prompt_version"`
}

// RankedPosting joins a posting with its evaluation (or rule-based fallback
// score) for one run.
type RankedPosting struct {
	Posting    Posting  `json:"posting"`
	Score      int      `json:"score"`
	Tier       string   `json:"tier"`
	RuleScore  *int     `json:"rule_score,omitempty"`
	Reasons    []string `json:"reasons"`
	SkillHits  []string `json:"skill_hits"`
	LLMSummary string   `json:"llm_summary"`
	ScoredBy   string   `json:"scored_by"`
}

// SourceFetchEvent records one source's fetch outcome within a run.
// Skipped sources record an event with zero attempts.
type SourceFetchEvent struct {
	RunID        string `json:"run_id"`
	SourceName   string `json:"source_name"`
	SourceKind   string `json:"source_kind"`
	SourceType   string `json:"source_type"`
	SourceURL    string `json:"source_url"`
	Attempts     int    `json:"attempts"`
	Success      bool   `json:"success"`
	JobsFetched  int    `json:"jobs_fetched"`
	DurationMS   int64  `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SourceEventStats aggregates a source's fetch events over a run window.
// The store computes these; health scoring interprets them.
type SourceEventStats struct {
	SourceName    string
	TotalEvents   int
	SuccessEvents int
	FailedEvents  int
	LastSuccess   time.Time
	HasSuccess    bool
}

// SourceHealth is the derived reliability view of one source.
type SourceHealth struct {
	SourceName   string  `json:"source_name"`
	SuccessRate  float64 `json:"success_rate"`
	Stale        bool    `json:"stale"`
	TotalEvents  int     `json:"total_events"`
	FailedEvents int     `json:"failed_events"`
	HealthScore  int     `json:"health_score"`
}

// TierCounts holds per-tier posting counts for one run.
type TierCounts struct {
	A int `json:"A"`
	B int `json:"B"`
	C int `json:"C"`
}

// LLMStats summarizes evaluator usage for one run.
type LLMStats struct {
	Enabled         bool   `json:"enabled"`
	Model           string `json:"model"`
	ScoredLive      int    `json:"scored_live"`
	CacheHits       int    `json:"cache_hits"`
	Failed          int    `json:"failed"`
	FilteredInvalid int    `json:"filtered_invalid"`
	OverflowSkipped int    `json:"overflow_skipped"`
}

// EvalError records one posting the evaluator could not score. These ride
// along in the persisted summary so a failed batch can be audited later.
type EvalError struct {
	Source string `json:"source"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// RunSummary is the run metadata shape emitted for any consumer.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	StartedAt      string      `json:"started_at"`
	EndedAt        string      `json:"ended_at"`
	Status         string      `json:"status"`
	TotalJobs      int         `json:"total_jobs"`
	TierCounts     TierCounts  `json:"tier_counts"`
	SkippedApplied int         `json:"skipped_applied"`
	LLM            LLMStats    `json:"llm"`
	SourceErrors   int         `json:"source_errors"`
	Errors         []EvalError `json:"errors,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// PipelineRun is the durable record of one execution.
type PipelineRun struct {
	RunID          string `json:"run_id"`
	StartedAt      string `json:"started_at"`
	EndedAt        string `json:"ended_at"`
	Status         string `json:"status"`
	DurationMS     int64  `json:"duration_ms"`
	TotalJobs      int    `json:"total_jobs"`
	ATier          int    `json:"a_tier"`
	BTier          int    `json:"b_tier"`
	CTier          int    `json:"c_tier"`
	SkippedApplied int    `json:"skipped_applied"`
	LLMEnabled     bool   `json:"llm_enabled"`
	LLMModel       string `json:"llm_model"`
	LLMScoredLive  int    `json:"llm_scored_live"`
	LLMCacheHits   int    `json:"llm_cache_hits"`
	LLMFailed      int    `json:"llm_failed"`
	SourceErrors   int    `json:"source_errors"`
	ErrorMessage   string `json:"error_message,omitempty"`
	SummaryJSON    string `json:"summary_json"`
}

// Application records a job the user already applied to. Candidates whose
// URL matches an application are excluded from ranking.
type Application struct {
	UserID       string `json:"user_id"`
	JobURL       string `json:"job_url"`
	Title        string `json:"title"`
	Company      string `json:"company"`
	Status       string `json:"status"`
	AppliedAt    string `json:"applied_at"`
	Notes        string `json:"notes"`
	NextActionAt string `json:"next_action_at"`
}
