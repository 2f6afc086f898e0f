// Package source ingests job postings from heterogeneous external feeds:
// RSS, Greenhouse and Lever board APIs, and HTML listing pages. Each fetcher
// normalizes into model.Posting; per-site heuristics fill in company,
// location, and remote hints when the feed omits them.
package source

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// Source kinds.
const (
	KindRSS        = "rss"
	KindGreenhouse = "greenhouse"
	KindLever      = "lever"
	KindHTML       = "html"
)

// Config defines one configured source.
type Config struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Board   string `yaml:"board"`
	Company string `yaml:"company"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type sourcesFile struct {
	Sources []Config `yaml:"sources"`
}

// LoadSources reads source definitions from a YAML file.
func LoadSources(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "source: read sources file")
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "source: parse sources file")
	}

	out := make([]Config, 0, len(file.Sources))
	for _, src := range file.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return nil, eris.New("source: source entry missing name")
		}
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	return out, nil
}

// Fetcher dispatches a source config to its kind-specific fetch path.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a Fetcher backed by the given HTTP client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves and parses all postings for one source. Configuration
// problems (unknown kind, missing board token) are returned as-is; transport
// failures carry the resilience transient taxonomy from the client.
func (f *Fetcher) Fetch(ctx context.Context, src Config) ([]model.Posting, error) {
	switch strings.ToLower(strings.TrimSpace(src.Kind)) {
	case KindRSS:
		body, err := f.client.GetString(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		return parseRSS(body, src.Name, src.Type)
	case KindGreenhouse:
		url, err := GreenhouseJobsURL(firstNonEmpty(src.Board, src.URL))
		if err != nil {
			return nil, err
		}
		body, err := f.client.GetString(ctx, url)
		if err != nil {
			return nil, err
		}
		return parseGreenhouse(body, src.Name, src.Type, src.Company)
	case KindLever:
		url, err := LeverJobsURL(firstNonEmpty(src.Company, src.Board, src.URL))
		if err != nil {
			return nil, err
		}
		body, err := f.client.GetString(ctx, url)
		if err != nil {
			return nil, err
		}
		return parseLever(body, src.Name, src.Type, src.Company)
	case KindHTML:
		body, err := f.client.GetString(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		return parseListingHTML(body, src.Name, src.Type)
	default:
		return nil, eris.Errorf("source: unknown source kind %q for %s", src.Kind, src.Name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
