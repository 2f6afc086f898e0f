package source

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	spaceRe      = regexp.MustCompile(`\s+`)
	companyAtRe  = regexp.MustCompile(`(?i) at ([A-Za-z0-9&.,\- ]+)`)
	companyKeyRe = regexp.MustCompile(`(?i)company[:\s]+([A-Za-z0-9&.,\- ]+)`)
	locationRe   = regexp.MustCompile(`(?i)\b(Innsbruck|Tyrol|Tirol|Austria|Österreich|Vienna|Wien|Europe|EU|Germany|Deutschland|CET|CEST|Hall in Tirol|Kufstein|Wattens|Schwaz)\b`)
	remoteWordRe = regexp.MustCompile(`(?i)\b(remote|Home-Office|home office)\b`)
	remoteHintRe = regexp.MustCompile(`(?i)\b(remote|fully remote|work from anywhere|distributed|home office|home-office)\b`)
)

// stripHTML removes markup and collapses whitespace.
func stripHTML(text string) string {
	text = tagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// guessCompany extracts a company name from "... at Acme" titles or a
// "company:" marker in the description.
func guessCompany(title, desc string) string {
	if m := companyAtRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := companyKeyRe.FindStringSubmatch(desc); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// guessLocation collects known location markers from free text.
func guessLocation(text string) string {
	seen := make(map[string]struct{})
	var hits []string
	for _, re := range []*regexp.Regexp{locationRe, remoteWordRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			hit := strings.TrimSpace(m[1])
			if hit == "" {
				continue
			}
			if _, ok := seen[hit]; ok {
				continue
			}
			seen[hit] = struct{}{}
			hits = append(hits, hit)
		}
	}
	sort.Strings(hits)
	return strings.Join(hits, ", ")
}

// guessRemote reports whether free text signals a remote-friendly role.
func guessRemote(text string) bool {
	return remoteHintRe.MatchString(text)
}
