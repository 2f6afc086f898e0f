package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// GreenhouseJobsURL derives the board API endpoint from a board token. A
// full URL is passed through unchanged.
func GreenhouseJobsURL(board string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(board))
	if token == "" {
		return "", eris.New("source: greenhouse board is required")
	}
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return strings.TrimSpace(board), nil
	}
	return fmt.Sprintf("https://boards-api.greenhouse.io/v1/boards/%s/jobs?content=true", token), nil
}

type greenhousePayload struct {
	Jobs []greenhouseJob `json:"jobs"`
}

type greenhouseJob struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	AbsoluteURL string      `json:"absolute_url"`
	URL         string      `json:"url"`
	Content     string      `json:"content"`
	UpdatedAt   string      `json:"updated_at"`
	CreatedAt   string      `json:"created_at"`
	CompanyName string      `json:"company_name"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

func parseGreenhouse(jsonText, sourceName, sourceType, companyHint string) ([]model.Posting, error) {
	var payload greenhousePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, eris.Wrapf(err, "source: parse greenhouse payload for %s", sourceName)
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]model.Posting, 0, len(payload.Jobs))
	for _, row := range payload.Jobs {
		title := strings.TrimSpace(row.Title)
		link := strings.TrimSpace(firstNonEmpty(row.AbsoluteURL, row.URL))
		content := stripHTML(row.Content)
		location := strings.TrimSpace(row.Location.Name)
		published := strings.TrimSpace(firstNonEmpty(row.UpdatedAt, row.CreatedAt))
		company := strings.TrimSpace(firstNonEmpty(companyHint, row.CompanyName))
		if company == "" {
			company = guessCompany(title, content)
		}

		jobID := strings.TrimSpace(firstNonEmpty(row.ID.String(), link, title))
		if jobID == "" || link == "" {
			continue
		}

		text := strings.Join([]string{title, content, location, sourceName, company}, " ")
		if location == "" {
			location = guessLocation(text)
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
			Description: content,
			Published:   published,
			FetchedAt:   fetchedAt,
		})
	}
	return out, nil
}
