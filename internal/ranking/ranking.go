// Package ranking scores postings against the candidate profile and
// geographic constraints. It provides the rule-based fallback scorer used
// when the evaluator returns no usable score, and the final score-descending
// ordering of a run's postings.
package ranking

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// Profile describes what the candidate is looking for.
type Profile struct {
	Location          string   `mapstructure:"location" yaml:"location" json:"location"`
	TargetTitles      []string `mapstructure:"target_titles" yaml:"target_titles" json:"target_titles"`
	MustHaveAny       []string `mapstructure:"must_have_any" yaml:"must_have_any" json:"must_have_any"`
	Skills            []string `mapstructure:"skills" yaml:"skills" json:"skills"`
	PreferredKeywords []string `mapstructure:"preferred_keywords" yaml:"preferred_keywords" json:"preferred_keywords"`
	ExcludeKeywords   []string `mapstructure:"exclude_keywords" yaml:"exclude_keywords" json:"exclude_keywords"`
	LocalFirst        bool     `mapstructure:"local_first" yaml:"local_first" json:"local_first"`
}

// Constraints bounds where a job may be located for it to be considered.
type Constraints struct {
	TargetLocationKeywords       []string `mapstructure:"target_location_keywords" yaml:"target_location_keywords" json:"target_location_keywords"`
	PreferredRemoteRegions       []string `mapstructure:"preferred_remote_regions" yaml:"preferred_remote_regions" json:"preferred_remote_regions"`
	DisallowedRemoteMarkers      []string `mapstructure:"disallowed_remote_markers" yaml:"disallowed_remote_markers" json:"disallowed_remote_markers"`
	ExcludeIfContains            []string `mapstructure:"exclude_if_contains" yaml:"exclude_if_contains" json:"exclude_if_contains"`
	RequireRemoteOrTargetLoc     bool     `mapstructure:"require_remote_or_target_location" yaml:"require_remote_or_target_location" json:"require_remote_or_target_location"`
	PreferLocalStrong            bool     `mapstructure:"prefer_local_strong" yaml:"prefer_local_strong" json:"prefer_local_strong"`
}

// RuleResult is the rule scorer's verdict for one posting.
type RuleResult struct {
	Score     int
	Tier      string
	Reasons   []string
	SkillHits []string
}

var (
	cppRe      = regexp.MustCompile(`(^|[^a-z0-9])(c\+\+|cpp)($|[^a-z0-9])`)
	csharpRe   = regexp.MustCompile(`(^|[^a-z0-9])(c#|csharp)($|[^a-z0-9])`)
	golangRe   = regexp.MustCompile(`\bgolang\b`)
	goMarketRe = regexp.MustCompile(`\bgo(?:\s|-)?to(?:\s|-)?market\b`)
	goRe       = regexp.MustCompile(`(^|[^a-z0-9])go($|[^a-z0-9])`)
	devTitleRe = regexp.MustCompile(`\b(developer|engineer|software|backend|frontend|fullstack|full-stack)\b`)
)

// skillInText matches a skill token against lowercased text with word-ish
// boundaries. "c++", "c#" and "go" need special handling because their
// tokens either contain punctuation or collide with common phrases
// ("go-to-market" is not the Go language).
func skillInText(skill, text string) bool {
	s := strings.ToLower(strings.TrimSpace(skill))
	if s == "" {
		return false
	}

	switch s {
	case "c++":
		return cppRe.MatchString(text)
	case "c#":
		return csharpRe.MatchString(text)
	case "go":
		if golangRe.MatchString(text) {
			return true
		}
		if goMarketRe.MatchString(text) {
			return false
		}
		return goRe.MatchString(text)
	}

	pattern := `(^|[^a-z0-9])` + regexp.QuoteMeta(s) + `($|[^a-z0-9])`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// geoCompatible decides whether a posting's location is acceptable at all.
func geoCompatible(text, sourceType string, c Constraints) (bool, string) {
	targetLoc := containsAny(text, c.TargetLocationKeywords)
	hasRemote := strings.Contains(text, "remote") || sourceType == "remote"

	if containsAny(text, c.DisallowedRemoteMarkers) {
		return false, "geo restricted remote"
	}
	if containsAny(text, c.ExcludeIfContains) {
		return false, "explicit exclusion marker"
	}
	if targetLoc {
		return true, "target location"
	}
	if hasRemote {
		return true, "remote"
	}
	if c.RequireRemoteOrTargetLoc {
		return false, "not remote and outside target location"
	}
	return true, "allowed"
}

// RuleScore scores one posting with the geography/skill heuristics.
func RuleScore(p model.Posting, profile Profile, constraints Constraints) RuleResult {
	title := strings.ToLower(p.Title)
	desc := strings.ToLower(p.Description)
	loc := strings.ToLower(p.Location)
	sourceType := strings.ToLower(p.SourceType)
	text := strings.Join([]string{title, desc, loc}, " ")

	score := 0
	var reasons []string

	okGeo, geoReason := geoCompatible(text, sourceType, constraints)
	if !okGeo {
		return RuleResult{Score: 0, Tier: "C", Reasons: []string{geoReason}}
	}
	reasons = append(reasons, geoReason)

	seniorityHit := containsAny(title, profile.MustHaveAny)
	if seniorityHit {
		score += 8
		reasons = append(reasons, "seniority match")
	}

	targetRoleHit := false
	for _, t := range profile.TargetTitles {
		fields := strings.Fields(strings.ToLower(t))
		if len(fields) > 0 && strings.Contains(title, fields[0]) {
			targetRoleHit = true
			break
		}
	}
	if targetRoleHit {
		score += 8
		reasons = append(reasons, "target role")
	}

	var skillHits []string
	for _, s := range profile.Skills {
		if skillInText(s, text) {
			skillHits = append(skillHits, s)
		}
	}
	if len(skillHits) > 0 {
		score += min(40, len(skillHits)*3)
		reasons = append(reasons, fmt.Sprintf("skills (%d)", len(skillHits)))
	}

	prefHits := 0
	for _, k := range profile.PreferredKeywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			prefHits++
		}
	}
	if prefHits > 0 {
		score += min(15, prefHits*3)
		reasons = append(reasons, "domain fit")
	}

	isLocal := containsAny(text, constraints.TargetLocationKeywords)
	if isLocal {
		if constraints.PreferLocalStrong {
			score += 35
		} else {
			score += 20
		}
		reasons = append(reasons, "target geography")
		if !seniorityHit {
			score += 10
			reasons = append(reasons, "local non-senior accepted")
		}
	} else if strings.Contains(text, "remote") || sourceType == "remote" || p.RemoteHint {
		score += 12
		reasons = append(reasons, "remote fit")
		if containsAny(text, constraints.PreferredRemoteRegions) {
			score += 5
			reasons = append(reasons, "timezone/region fit")
		} else {
			score -= 8
			reasons = append(reasons, "remote geography unclear")
		}
	}

	excludedLevel := containsAny(text, profile.ExcludeKeywords)
	if excludedLevel {
		score -= 50
		reasons = append(reasons, "excluded level")
	}

	if strings.Contains(text, "onsite") && !isLocal {
		score -= 25
		reasons = append(reasons, "onsite outside target area")
	}

	// Local-first floor: an ordinary local dev role should not rank below
	// vague remote listings.
	if isLocal && !seniorityHit && !excludedLevel && devTitleRe.MatchString(title) && score < 55 {
		score = 55
		reasons = append(reasons, "local-first role floor")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	if len(skillHits) > 8 {
		skillHits = skillHits[:8]
	}
	return RuleResult{
		Score:     score,
		Tier:      model.TierForScore(score),
		Reasons:   reasons,
		SkillHits: skillHits,
	}
}

// Rank orders ranked postings by score descending, stable for equal scores.
func Rank(ranked []model.RankedPosting) {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
}

// CountTiers tallies per-tier totals for a ranked list.
func CountTiers(ranked []model.RankedPosting) model.TierCounts {
	var counts model.TierCounts
	for _, r := range ranked {
		switch r.Tier {
		case "A":
			counts.A++
		case "B":
			counts.B++
		default:
			counts.C++
		}
	}
	return counts
}
