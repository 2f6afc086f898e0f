package eval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/ranking"
	"github.com/benediktbwimmer/job-search/pkg/anthropic"
)

type fakeClient struct {
	response string
	err      error
	lastReq  anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func newTestEvaluator(client anthropic.Client) *LLMEvaluator {
	return NewLLMEvaluator(client, EvaluatorOptions{
		Model:               "test-model",
		PromptVersion:       "v3",
		DescriptionMaxChars: 2500,
	}, ranking.Profile{Skills: []string{"go"}}, ranking.Constraints{})
}

func TestEvaluate_ParsesAndNormalizes(t *testing.T) {
	client := &fakeClient{response: `{
	  "is_job_posting": true,
	  "title": "Senior Backend Engineer",
	  "company": "Acme",
	  "location": "Innsbruck",
	  "score": 150,
	  "tier": "weird",
	  "reasons": ["go experience", 42, "local"],
	  "summary": "Strong fit.",
	  "confidence": 1.7
	}`}

	e := newTestEvaluator(client)
	evaluation, err := e.Evaluate(context.Background(), testPosting())
	require.NoError(t, err)

	assert.True(t, evaluation.IsJobPosting)
	assert.Equal(t, "Senior Backend Engineer", evaluation.Title)
	assert.Equal(t, "Acme", evaluation.Company)
	assert.Equal(t, 100, evaluation.Score, "score clamped to 100")
	assert.Equal(t, "A", evaluation.Tier, "invalid tier rederived from score")
	assert.Equal(t, []string{"go experience", "local"}, evaluation.Reasons, "non-string reasons dropped")
	assert.Equal(t, 1.0, evaluation.Confidence, "confidence clamped to 1")

	assert.Equal(t, "test-model", client.lastReq.Model)
	assert.Contains(t, client.lastReq.System, "strict job posting evaluator")
	require.Len(t, client.lastReq.Messages, 1)
	assert.Contains(t, client.lastReq.Messages[0].Content, `"url":"https://example.com/jobs/1"`)
}

func TestEvaluate_JSONSurroundedByProse(t *testing.T) {
	client := &fakeClient{response: "Here is the verdict:\n{\"is_job_posting\": false, \"score\": 0}\nDone."}

	e := newTestEvaluator(client)
	evaluation, err := e.Evaluate(context.Background(), testPosting())
	require.NoError(t, err)
	assert.False(t, evaluation.IsJobPosting)
}

func TestEvaluate_EmptyResponseIsError(t *testing.T) {
	e := newTestEvaluator(&fakeClient{response: "   "})
	_, err := e.Evaluate(context.Background(), testPosting())
	require.Error(t, err)
}

func TestEvaluate_MalformedResponseIsError(t *testing.T) {
	e := newTestEvaluator(&fakeClient{response: `{"score": not-json}`})
	_, err := e.Evaluate(context.Background(), testPosting())
	require.Error(t, err)
}

func TestNormalize_CompanyFallsBackToPosting(t *testing.T) {
	e := newTestEvaluator(&fakeClient{})

	raw := rawEvaluation{Company: "We are looking for a Senior Engineer to join our team"}
	evaluation := e.normalize(testPosting(), raw)
	assert.Equal(t, "Acme", evaluation.Company, "sentence-shaped company rejected")

	raw = rawEvaluation{Company: "Widgets GmbH"}
	evaluation = e.normalize(testPosting(), raw)
	assert.Equal(t, "Widgets GmbH", evaluation.Company)
}

func TestNormalize_PrefersFullerSourceDescription(t *testing.T) {
	e := newTestEvaluator(&fakeClient{})
	p := testPosting()
	p.Description = strings.Repeat("long source text ", 20)

	evaluation := e.normalize(p, rawEvaluation{Description: "short"})
	assert.Equal(t, strings.TrimSpace(p.Description), evaluation.Description)
}

func TestNormalize_MissingTitleFallsBack(t *testing.T) {
	e := newTestEvaluator(&fakeClient{})
	evaluation := e.normalize(testPosting(), rawEvaluation{})
	assert.Equal(t, "Backend Engineer", evaluation.Title)
	assert.True(t, evaluation.IsJobPosting, "missing flag defaults to true")
	assert.Equal(t, "C", evaluation.Tier)
}
