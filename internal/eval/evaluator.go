package eval

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/ranking"
	"github.com/benediktbwimmer/job-search/pkg/anthropic"
)

const systemPrompt = "You are a strict job posting evaluator. " +
	"Return ONLY valid JSON with keys: " +
	"is_job_posting (boolean), title (string), company (string), location (string), " +
	"remote_hint (boolean), description (string), published (string), " +
	"score (0-100 integer), tier (A|B|C), reasons (array of short strings), " +
	"summary (string max 180 chars), quality_flags (array of short strings), confidence (number 0..1). " +
	"Company must be only the company name, never a sentence, role title, or description fragment. " +
	"If unknown, return an empty string. " +
	"If this item looks like navigation text, recommendation widgets, or mixed/ambiguous listing content, " +
	"set is_job_posting=false."

// EvaluatorOptions configures the LLM evaluator.
type EvaluatorOptions struct {
	Model         string
	PromptVersion string
	MaxTokens     int64
	// DescriptionMaxChars caps the normalized output description.
	DescriptionMaxChars int
	// InputDescriptionMaxChars caps the description sent to the model.
	InputDescriptionMaxChars int
	// CallsPerSecond paces outbound evaluator calls. Zero disables pacing.
	CallsPerSecond float64
}

// Evaluator judges a single posting against the candidate profile.
type Evaluator interface {
	Evaluate(ctx context.Context, p model.Posting) (model.Evaluation, error)
}

// LLMEvaluator implements Evaluator over the Anthropic messages API.
type LLMEvaluator struct {
	client      anthropic.Client
	opts        EvaluatorOptions
	profile     ranking.Profile
	constraints ranking.Constraints
	limiter     *rate.Limiter
}

// NewLLMEvaluator creates an evaluator for the given profile and constraints.
func NewLLMEvaluator(client anthropic.Client, opts EvaluatorOptions, profile ranking.Profile, constraints ranking.Constraints) *LLMEvaluator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.InputDescriptionMaxChars <= 0 {
		opts.InputDescriptionMaxChars = 20000
	}
	var limiter *rate.Limiter
	if opts.CallsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.CallsPerSecond), 1)
	}
	return &LLMEvaluator{
		client:      client,
		opts:        opts,
		profile:     profile,
		constraints: constraints,
		limiter:     limiter,
	}
}

type evaluationPrompt struct {
	CandidateProfile ranking.Profile     `json:"candidate_profile"`
	Constraints      ranking.Constraints `json:"constraints"`
	RawItem          rawItem             `json:"raw_item"`
	Rules            promptRules         `json:"rules"`
}

type rawItem struct {
	Source      string `json:"source"`
	SourceType  string `json:"source_type"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Published   string `json:"published"`
}

type promptRules struct {
	PreserveTruthfulFields   bool              `json:"preserve_truthful_fields"`
	AvoidInventing           bool              `json:"avoid_inventing"`
	DescriptionMaxChars      any               `json:"description_max_chars"`
	InputDescriptionMaxChars any               `json:"input_description_max_chars"`
	ScorePolicy              map[string]string `json:"score_policy"`
}

// rawEvaluation mirrors the JSON shape the model is instructed to return.
type rawEvaluation struct {
	IsJobPosting *bool    `json:"is_job_posting"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	RemoteHint   bool     `json:"remote_hint"`
	Description  string   `json:"description"`
	Published    string   `json:"published"`
	Score        *float64 `json:"score"`
	Tier         string   `json:"tier"`
	Reasons      []any    `json:"reasons"`
	Summary      string   `json:"summary"`
	QualityFlags []any    `json:"quality_flags"`
	Confidence   *float64 `json:"confidence"`
}

// Evaluate sends one posting to the model and normalizes the verdict.
// Malformed or empty model output is an error, never a silent default.
func (e *LLMEvaluator) Evaluate(ctx context.Context, p model.Posting) (model.Evaluation, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return model.Evaluation{}, eris.Wrap(err, "eval: limiter wait")
		}
	}

	prompt := evaluationPrompt{
		CandidateProfile: e.profile,
		Constraints:      e.constraints,
		RawItem: rawItem{
			Source:      p.Source,
			SourceType:  p.SourceType,
			URL:         p.URL,
			Title:       p.Title,
			Company:     p.Company,
			Location:    p.Location,
			Description: trimText(p.Description, e.opts.InputDescriptionMaxChars),
			Published:   p.Published,
		},
		Rules: promptRules{
			PreserveTruthfulFields:   true,
			AvoidInventing:           true,
			DescriptionMaxChars:      limitOrNoLimit(e.opts.DescriptionMaxChars),
			InputDescriptionMaxChars: limitOrNoLimit(e.opts.InputDescriptionMaxChars),
			ScorePolicy: map[string]string{
				"A": "strong fit and worth applying now",
				"B": "decent fit, review",
				"C": "weak fit or skip",
			},
		},
	}
	userPrompt, err := json.Marshal(prompt)
	if err != nil {
		return model.Evaluation{}, eris.Wrap(err, "eval: marshal prompt")
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: string(userPrompt)}},
	})
	if err != nil {
		return model.Evaluation{}, err
	}

	raw, err := parseEvaluationJSON(resp.Text())
	if err != nil {
		return model.Evaluation{}, err
	}

	return e.normalize(p, raw), nil
}

func limitOrNoLimit(limit int) any {
	if limit > 0 {
		return limit
	}
	return "no_limit"
}

// parseEvaluationJSON extracts and decodes the JSON object from model
// output, tolerating prose around the object but nothing less than one
// complete object.
func parseEvaluationJSON(text string) (rawEvaluation, error) {
	var raw rawEvaluation
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return raw, eris.New("eval: empty evaluator response")
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return raw, eris.Errorf("eval: no JSON object in evaluator response (%d bytes)", len(trimmed))
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
		return raw, eris.Wrap(err, "eval: malformed evaluator response")
	}
	return raw, nil
}

var roleWordRe = regexp.MustCompile(`(?i)\b(engineer|developer|architect|manager|director|specialist|lead|senior|staff|principal|role|position|job|team)\b`)

// acceptableCompany rejects model "company" values that look like sentences
// or role fragments rather than an employer name.
func acceptableCompany(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	if len(strings.Fields(v)) > 8 {
		return false
	}
	return !roleWordRe.MatchString(v)
}

func clipStrings(values []any, maxItems, maxLen int) []string {
	out := make([]string, 0, maxItems)
	for _, v := range values {
		if len(out) >= maxItems {
			break
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		out = append(out, s)
	}
	return out
}

// normalize clamps model output into the Evaluation shape, falling back to
// the posting's own fields where the model returned nothing usable.
func (e *LLMEvaluator) normalize(p model.Posting, raw rawEvaluation) model.Evaluation {
	title := trimText(strings.TrimSpace(raw.Title), 220)
	if title == "" {
		title = trimText(strings.TrimSpace(p.Title), 220)
	}

	company := strings.TrimSpace(raw.Company)
	if !acceptableCompany(company) {
		company = strings.TrimSpace(p.Company)
	}

	location := trimText(strings.TrimSpace(raw.Location), 180)

	description := strings.TrimSpace(raw.Description)
	rawDescription := strings.TrimSpace(p.Description)
	// Prefer the fuller source text when the model shortened it.
	if len(rawDescription) > len(description) {
		description = rawDescription
	}
	description = trimText(description, e.opts.DescriptionMaxChars)

	score := 0
	if raw.Score != nil {
		score = int(*raw.Score)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	tier := strings.ToUpper(strings.TrimSpace(raw.Tier))
	if tier != "A" && tier != "B" && tier != "C" {
		tier = model.TierForScore(score)
	}

	confidence := 0.0
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	isJobPosting := true
	if raw.IsJobPosting != nil {
		isJobPosting = *raw.IsJobPosting
	}

	return model.Evaluation{
		IsJobPosting: isJobPosting,
		Title:        title,
		Company:      company,
		Location:     location,
		RemoteHint:   raw.RemoteHint,
		Description:  description,
		Published:    trimText(strings.TrimSpace(raw.Published), 64),
		Score:        score,
		Tier:         tier,
		Reasons:      clipStrings(raw.Reasons, 8, 120),
		Summary:      trimText(strings.TrimSpace(raw.Summary), 180),
		QualityFlags: clipStrings(raw.QualityFlags, 8, 80),
		Confidence:   confidence,
	}
}
