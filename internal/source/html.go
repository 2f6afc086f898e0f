package source

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
)

var karriereJobHrefRes = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?karriere\.at/jobs/(\d{6,8})(?:[/?#]|$)`),
	regexp.MustCompile(`^/jobs/(\d{6,8})(?:[/?#]|$)`),
	regexp.MustCompile(`^https?://(?:www\.)?karriere\.at/jobs/[^/?#]+/(\d{6,8})(?:[/?#]|$)`),
	regexp.MustCompile(`^/jobs/[^/?#]+/(\d{6,8})(?:[/?#]|$)`),
}

func karriereJobID(href string) string {
	target := strings.TrimSpace(href)
	for _, re := range karriereJobHrefRes {
		if m := re.FindStringSubmatch(target); m != nil {
			return m[1]
		}
	}
	return ""
}

// parseListingHTML extracts job postings from an HTML listing page by
// scanning anchors for job-detail links. Listing pages carry almost no
// metadata, so the resulting postings are thin placeholders that detail
// enrichment fills in.
func parseListingHTML(htmlText, sourceName, sourceType string) ([]model.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse listing html for %s", sourceName)
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	seen := make(map[string]struct{})
	var out []model.Posting

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		jobID := karriereJobID(href)
		if jobID == "" {
			return
		}
		if _, ok := seen[jobID]; ok {
			return
		}
		seen[jobID] = struct{}{}

		out = append(out, model.Posting{
			ID:         sourceName + ":" + jobID,
			Source:     sourceName,
			SourceType: sourceType,
			Title:      fmt.Sprintf("Karriere.at listing %s", jobID),
			Location:   sourceType,
			URL:        "https://www.karriere.at/jobs/" + jobID,
			FetchedAt:  fetchedAt,
		})
	})
	return out, nil
}

// jobPostingDetail is the subset of a schema.org JobPosting we consume from
// detail pages.
type jobPostingDetail struct {
	Title       string
	Company     string
	Location    string
	Published   string
	Description string
}

type ldJobPosting struct {
	Type               string `json:"@type"`
	Title              string `json:"title"`
	DatePosted         string `json:"datePosted"`
	Description        string `json:"description"`
	HiringOrganization struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
	JobLocation json.RawMessage `json:"jobLocation"`
}

type ldPlace struct {
	Address struct {
		AddressLocality string `json:"addressLocality"`
		AddressRegion   string `json:"addressRegion"`
		AddressCountry  string `json:"addressCountry"`
	} `json:"address"`
}

var (
	brRe        = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>`)
	blockEndRe  = regexp.MustCompile(`(?i)</\s*(p|div|section|article|h[1-6])\s*>`)
	listItemRe  = regexp.MustCompile(`(?i)<\s*li[^>]*>`)
	multiNLRe   = regexp.MustCompile(`\n{3,}`)
	lineSpaceRe = regexp.MustCompile(`\n[ \t]+`)
	runSpaceRe  = regexp.MustCompile(`[ \t]+`)
)

// stripHTMLPreserveBlocks flattens markup but keeps paragraph and list
// structure as newlines, so descriptions stay readable after extraction.
func stripHTMLPreserveBlocks(raw string) string {
	text := brRe.ReplaceAllString(raw, "\n")
	text = blockEndRe.ReplaceAllString(text, "\n")
	text = listItemRe.ReplaceAllString(text, "\n- ")
	text = stripHTMLKeepNewlines(text)
	text = runSpaceRe.ReplaceAllString(text, " ")
	text = lineSpaceRe.ReplaceAllString(text, "\n")
	text = multiNLRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func stripHTMLKeepNewlines(text string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(text, " "))
}

// extractJobPostingDetail pulls the first schema.org JobPosting from the
// page's JSON-LD scripts.
func extractJobPostingDetail(htmlText string) (jobPostingDetail, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return jobPostingDetail{}, false
	}

	var detail jobPostingDetail
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return true
		}

		var candidates []ldJobPosting
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
				return true
			}
		} else {
			var single ldJobPosting
			if err := json.Unmarshal([]byte(raw), &single); err != nil {
				return true
			}
			candidates = []ldJobPosting{single}
		}

		for _, cand := range candidates {
			if !strings.EqualFold(strings.TrimSpace(cand.Type), "jobposting") {
				continue
			}
			detail = jobPostingDetail{
				Title:       strings.TrimSpace(cand.Title),
				Company:     strings.TrimSpace(cand.HiringOrganization.Name),
				Location:    extractLDLocation(cand.JobLocation),
				Published:   strings.TrimSpace(cand.DatePosted),
				Description: stripHTMLPreserveBlocks(cand.Description),
			}
			found = true
			return false
		}
		return true
	})
	return detail, found
}

func extractLDLocation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var places []ldPlace
	if err := json.Unmarshal(raw, &places); err != nil {
		var single ldPlace
		if err := json.Unmarshal(raw, &single); err != nil {
			return ""
		}
		places = []ldPlace{single}
	}

	for _, place := range places {
		loc := firstNonEmpty(
			strings.TrimSpace(place.Address.AddressLocality),
			strings.TrimSpace(place.Address.AddressRegion),
			strings.TrimSpace(place.Address.AddressCountry),
		)
		if loc != "" {
			return loc
		}
	}
	return ""
}
