package source

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// EnrichOptions controls detail-page enrichment.
type EnrichOptions struct {
	// Concurrency bounds parallel detail fetches.
	Concurrency int
	// JitterMin/JitterMax bound the randomized pause before each detail
	// fetch, so enrichment does not burst against a single site.
	JitterMin time.Duration
	JitterMax time.Duration
	// DescriptionLimit caps the enriched description length.
	DescriptionLimit int
}

var pageTitleRe = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// Enricher follows posting detail URLs and merges richer metadata back into
// thin listing postings. Enrichment is best effort: a failed detail fetch
// leaves the posting unchanged.
type Enricher struct {
	client *Client
	opts   EnrichOptions
}

// NewEnricher creates an Enricher using the shared source client.
func NewEnricher(client *Client, opts EnrichOptions) *Enricher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.JitterMax < opts.JitterMin {
		opts.JitterMax = opts.JitterMin
	}
	if opts.DescriptionLimit <= 0 {
		opts.DescriptionLimit = 8000
	}
	return &Enricher{client: client, opts: opts}
}

// Enrich enriches all postings that have a supported detail page, in place.
func (e *Enricher) Enrich(ctx context.Context, postings []model.Posting) {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)

	for i := range postings {
		if !strings.Contains(postings[i].URL, "karriere.at/jobs/") {
			continue
		}
		group.Go(func() error {
			e.sleepJitter(gctx)
			postings[i] = e.enrichOne(gctx, postings[i])
			return nil
		})
	}
	// Workers never return errors; Wait only fences completion.
	_ = group.Wait()
}

func (e *Enricher) sleepJitter(ctx context.Context) {
	window := e.opts.JitterMax - e.opts.JitterMin
	delay := e.opts.JitterMin
	if window > 0 {
		delay += time.Duration(rand.Int64N(int64(window)))
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (e *Enricher) enrichOne(ctx context.Context, p model.Posting) model.Posting {
	body, err := e.client.GetString(ctx, p.URL)
	if err != nil {
		zap.L().Debug("detail enrichment skipped",
			zap.String("url", p.URL),
			zap.Error(err),
		)
		return p
	}

	title := p.Title
	company := p.Company
	published := strings.TrimSpace(p.Published)

	detail, ok := extractJobPostingDetail(body)
	if ok {
		if detail.Title != "" {
			title = detail.Title
		}
		if detail.Company != "" {
			company = detail.Company
		}
		if detail.Published != "" {
			published = detail.Published
		}
	}

	if m := pageTitleRe.FindStringSubmatch(body); m != nil {
		raw := strings.TrimSpace(strings.ReplaceAll(stripHTML(m[1]), "- karriere.at", ""))
		if raw != "" {
			title = raw
		}
	}

	// "Role - Company" page titles carry the employer when nothing else did.
	if company == "" && strings.Contains(title, " - ") {
		parts := strings.Split(title, " - ")
		var cleaned []string
		for _, part := range parts {
			if s := strings.TrimSpace(part); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) >= 2 {
			company = cleaned[1]
		}
	}

	textSample := detail.Description
	if textSample == "" {
		sample := body
		if len(sample) > 30000 {
			sample = sample[:30000]
		}
		textSample = stripHTML(sample)
	}

	location := detail.Location
	if location == "" {
		location = guessLocation(title + " " + textSample)
	}
	if location == "" {
		location = p.Location
	}

	description := textSample
	if len(description) > e.opts.DescriptionLimit {
		description = description[:e.opts.DescriptionLimit]
	}

	p.Title = title
	p.Company = company
	p.Location = location
	p.Published = published
	p.RemoteHint = guessRemote(title + " " + textSample)
	p.Description = description
	return p
}
