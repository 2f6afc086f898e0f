package source

import "github.com/benediktbwimmer/job-search/internal/model"

// Dedupe drops postings whose identity (URL, id, or title, lowercased) has
// already been seen, preserving first-seen order. Postings with no identity
// at all are dropped.
func Dedupe(postings []model.Posting) []model.Posting {
	seen := make(map[string]struct{}, len(postings))
	out := make([]model.Posting, 0, len(postings))
	for _, p := range postings {
		key := p.Identity()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
