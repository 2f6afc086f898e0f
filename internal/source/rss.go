package source

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
)

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// parseRSS converts an RSS feed body into postings. Company and location
// are guessed from the item text because feeds rarely carry them as fields.
func parseRSS(xmlText, sourceName, sourceType string) ([]model.Posting, error) {
	var doc rssDocument
	if err := xml.Unmarshal([]byte(xmlText), &doc); err != nil {
		return nil, eris.Wrapf(err, "source: parse rss feed %s", sourceName)
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]model.Posting, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		desc := stripHTML(item.Description)
		guid := strings.TrimSpace(item.GUID)
		if guid == "" {
			guid = firstNonEmpty(link, title)
		}
		text := title + " " + desc

		out = append(out, model.Posting{
			ID:          clipID(sourceName + ":" + guid),
			Source:      sourceName,
			SourceType:  sourceType,
			Title:       title,
			Company:     guessCompany(title, desc),
			Location:    guessLocation(text),
			RemoteHint:  guessRemote(text),
			URL:         link,
			Description: desc,
			Published:   strings.TrimSpace(item.PubDate),
			FetchedAt:   fetchedAt,
		})
	}
	return out, nil
}

// clipID bounds posting ids so a pathological guid cannot blow up storage.
func clipID(id string) string {
	if len(id) > 500 {
		return id[:500]
	}
	return id
}
