package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/resilience"
)

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := `sources:
  - name: hn-jobs
    kind: rss
    type: remote
    url: https://example.com/jobs.rss
  - name: acme-board
    kind: greenhouse
    type: local
    board: acme
    company: Acme
  - name: disabled-feed
    kind: rss
    type: remote
    url: https://example.com/off.rss
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sources, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, sources, 2, "disabled sources are filtered out")
	assert.Equal(t, "hn-jobs", sources[0].Name)
	assert.Equal(t, KindRSS, sources[0].Kind)
	assert.Equal(t, "acme", sources[1].Board)
}

func TestLoadSources_MissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - kind: rss\n    url: https://x\n"), 0o644))

	_, err := LoadSources(path)
	require.Error(t, err)
}

func TestParseRSS(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item>
    <title>Senior Go Engineer at Widgets GmbH</title>
    <link>https://example.com/jobs/1</link>
    <description>&lt;p&gt;Remote within Europe. Backend work in Innsbruck office optional.&lt;/p&gt;</description>
    <pubDate>Mon, 18 Aug 2025 08:00:00 GMT</pubDate>
    <guid>job-1</guid>
  </item>
  <item>
    <title>Data Analyst</title>
    <link>https://example.com/jobs/2</link>
    <description>Onsite position.</description>
  </item>
</channel></rss>`

	postings, err := parseRSS(feed, "test-feed", "remote")
	require.NoError(t, err)
	require.Len(t, postings, 2)

	first := postings[0]
	assert.Equal(t, "test-feed:job-1", first.ID)
	assert.Equal(t, "Senior Go Engineer at Widgets GmbH", first.Title)
	assert.Equal(t, "Widgets GmbH", first.Company)
	assert.Contains(t, first.Location, "Innsbruck")
	assert.True(t, first.RemoteHint)
	assert.Equal(t, "https://example.com/jobs/1", first.URL)
	assert.NotContains(t, first.Description, "<p>")

	// Missing guid falls back to link.
	assert.Equal(t, "test-feed:https://example.com/jobs/2", postings[1].ID)
	assert.False(t, postings[1].RemoteHint)
}

func TestGreenhouseJobsURL(t *testing.T) {
	url, err := GreenhouseJobsURL("Acme")
	require.NoError(t, err)
	assert.Equal(t, "https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true", url)

	_, err = GreenhouseJobsURL("  ")
	require.Error(t, err)

	passthrough, err := GreenhouseJobsURL("https://boards-api.greenhouse.io/v1/boards/x/jobs")
	require.NoError(t, err)
	assert.Equal(t, "https://boards-api.greenhouse.io/v1/boards/x/jobs", passthrough)
}

func TestParseGreenhouse(t *testing.T) {
	payload := `{"jobs":[
	  {"id": 123, "title": "Platform Engineer", "absolute_url": "https://boards.greenhouse.io/acme/jobs/123",
	   "content": "&lt;p&gt;Build infra in Vienna&lt;/p&gt;", "updated_at": "2025-08-20T10:00:00Z",
	   "location": {"name": "Vienna, Austria"}},
	  {"id": 456, "title": "No URL Job", "absolute_url": "", "content": "x"}
	]}`

	postings, err := parseGreenhouse(payload, "acme-board", "local", "Acme")
	require.NoError(t, err)
	require.Len(t, postings, 1, "rows without a link are dropped")

	p := postings[0]
	assert.Equal(t, "acme-board:123", p.ID)
	assert.Equal(t, "Acme", p.Company)
	assert.Equal(t, "Vienna, Austria", p.Location)
	assert.Equal(t, "2025-08-20T10:00:00Z", p.Published)
}

func TestParseLever(t *testing.T) {
	payload := `[
	  {"id": "ab-1", "text": "Backend Engineer", "hostedUrl": "https://jobs.lever.co/acme/ab-1",
	   "descriptionPlain": "Remote friendly role, CET timezone.",
	   "categories": {"location": "Remote - Europe", "team": "Core", "commitment": "Full-time"},
	   "createdAt": 1755500000000},
	  {"id": "", "text": "no link", "hostedUrl": ""}
	]`

	postings, err := parseLever(payload, "acme-lever", "remote", "Acme")
	require.NoError(t, err)
	require.Len(t, postings, 1)

	p := postings[0]
	assert.Equal(t, "acme-lever:ab-1", p.ID)
	assert.Equal(t, "Acme", p.Company)
	assert.Equal(t, "Remote - Europe", p.Location)
	assert.True(t, p.RemoteHint)
	assert.Equal(t, "2025-08-18T06:53:20Z", p.Published)
}

func TestParseListingHTML(t *testing.T) {
	page := `<html><body>
	  <a href="/jobs/1234567">Role one</a>
	  <a href="https://www.karriere.at/jobs/7654321?ref=x">Role two</a>
	  <a href="/jobs/1234567">Duplicate</a>
	  <a href="/about">Not a job</a>
	</body></html>`

	postings, err := parseListingHTML(page, "karriere", "local")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, "karriere:1234567", postings[0].ID)
	assert.Equal(t, "https://www.karriere.at/jobs/1234567", postings[0].URL)
	assert.Equal(t, "karriere:7654321", postings[1].ID)
}

func TestExtractJobPostingDetail(t *testing.T) {
	page := `<html><head>
	<script type="application/ld+json">
	{"@type":"JobPosting","title":"Senior Software Engineer",
	 "datePosted":"2025-08-21",
	 "description":"<p>Go services.</p><ul><li>APIs</li><li>Postgres</li></ul>",
	 "hiringOrganization":{"name":"Widgets GmbH"},
	 "jobLocation":{"address":{"addressLocality":"Innsbruck","addressCountry":"AT"}}}
	</script></head><body></body></html>`

	detail, ok := extractJobPostingDetail(page)
	require.True(t, ok)
	assert.Equal(t, "Senior Software Engineer", detail.Title)
	assert.Equal(t, "Widgets GmbH", detail.Company)
	assert.Equal(t, "Innsbruck", detail.Location)
	assert.Equal(t, "2025-08-21", detail.Published)
	assert.Contains(t, detail.Description, "- APIs")
}

func TestClient_GetString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("hello"))
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{HostRate: 100, HostBurst: 100})

	body, err := client.GetString(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "hello", body)

	_, err = client.GetString(context.Background(), srv.URL+"/throttled")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err), "429 is transient")
	assert.True(t, resilience.IsRateLimited(err))

	_, err = client.GetString(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err), "404 is a permanent failure")
}

func TestDedupe(t *testing.T) {
	postings := []model.Posting{
		{ID: "a", URL: "https://example.com/1", Title: "One"},
		{ID: "b", URL: "HTTPS://EXAMPLE.COM/1", Title: "One again"},
		{ID: "c", Title: "Only title"},
		{ID: "", Title: ""},
		{ID: "d", URL: "https://example.com/2"},
	}

	out := Dedupe(postings)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
	assert.Equal(t, "d", out[2].ID)
}

func TestFetcher_UnknownKind(t *testing.T) {
	f := NewFetcher(NewClient(ClientOptions{}))
	_, err := f.Fetch(context.Background(), Config{Name: "x", Kind: "carrier-pigeon"})
	require.Error(t, err)
}
