package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// LeverJobsURL derives the postings API endpoint from a company token. A
// full URL is passed through unchanged.
func LeverJobsURL(company string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(company))
	if token == "" {
		return "", eris.New("source: lever company is required")
	}
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return strings.TrimSpace(company), nil
	}
	return fmt.Sprintf("https://api.lever.co/v0/postings/%s?mode=json", token), nil
}

type leverJob struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	HostedURL        string `json:"hostedUrl"`
	ApplyURL         string `json:"applyUrl"`
	DescriptionPlain string `json:"descriptionPlain"`
	Description      string `json:"description"`
	WorkplaceType    string `json:"workplaceType"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
	Categories       struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
}

// epochMillisToISO renders a millisecond timestamp as RFC 3339, or "" when
// the value is missing or non-positive.
func epochMillisToISO(millis int64) string {
	if millis <= 0 {
		return ""
	}
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

func parseLever(jsonText, sourceName, sourceType, companyHint string) ([]model.Posting, error) {
	var jobs []leverJob
	if err := json.Unmarshal([]byte(jsonText), &jobs); err != nil {
		return nil, eris.Wrapf(err, "source: parse lever payload for %s", sourceName)
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]model.Posting, 0, len(jobs))
	for _, row := range jobs {
		title := strings.TrimSpace(row.Text)
		link := strings.TrimSpace(firstNonEmpty(row.HostedURL, row.ApplyURL))
		description := stripHTML(firstNonEmpty(row.DescriptionPlain, row.Description))
		location := strings.TrimSpace(row.Categories.Location)
		company := strings.TrimSpace(companyHint)
		if company == "" {
			company = guessCompany(title, description)
		}

		jobID := strings.TrimSpace(firstNonEmpty(row.ID, link, title))
		if jobID == "" || link == "" {
			continue
		}

		text := strings.Join([]string{
			title, description, location,
			row.Categories.Team, row.Categories.Commitment, row.WorkplaceType,
			sourceName, company,
		}, " ")
		if location == "" {
			location = guessLocation(text)
		}

		published := epochMillisToISO(row.CreatedAt)
		if published == "" {
			published = epochMillisToISO(row.UpdatedAt)
		}

		out = append(out, model.Posting{
			ID:          clipID(sourceName + ":" + jobID),
			Source:      sourceName,
			SourceType:  sourceType,
			Title:       title,
			Company:     company,
			Location:    location,
			RemoteHint:  guessRemote(text),
			URL:         link,
			Description: description,
			Published:   published,
			FetchedAt:   fetchedAt,
		})
	}
	return out, nil
}
