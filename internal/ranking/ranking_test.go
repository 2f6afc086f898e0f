package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/model"
)

func testProfile() Profile {
	return Profile{
		Location:          "Innsbruck",
		TargetTitles:      []string{"Backend Engineer", "Platform Engineer"},
		MustHaveAny:       []string{"senior", "staff"},
		Skills:            []string{"go", "python", "postgres", "kubernetes"},
		PreferredKeywords: []string{"distributed", "api"},
		ExcludeKeywords:   []string{"intern"},
	}
}

func testConstraints() Constraints {
	return Constraints{
		TargetLocationKeywords:   []string{"innsbruck", "tirol", "austria"},
		PreferredRemoteRegions:   []string{"cet", "europe"},
		DisallowedRemoteMarkers:  []string{"us only"},
		ExcludeIfContains:        []string{"clearance required"},
		RequireRemoteOrTargetLoc: true,
	}
}

func TestSkillInText(t *testing.T) {
	assert.True(t, skillInText("go", "we use golang in production"))
	assert.True(t, skillInText("go", "experience with go and kubernetes"))
	assert.False(t, skillInText("go", "own our go-to-market strategy"))
	assert.True(t, skillInText("c++", "modern c++ codebase"))
	assert.True(t, skillInText("c++", "cpp experience required"))
	assert.False(t, skillInText("c++", "ac++b"))
	assert.True(t, skillInText("c#", "csharp and .net"))
	assert.True(t, skillInText("postgres", "postgres replication"))
	assert.False(t, skillInText("postgres", "postgresql-adjacent"))
	assert.False(t, skillInText("", "anything"))
}

func TestRuleScore_GeoRestrictedRemoteRejected(t *testing.T) {
	p := model.Posting{
		Title:       "Senior Backend Engineer",
		Description: "fully remote, US only",
	}
	res := RuleScore(p, testProfile(), testConstraints())

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, "C", res.Tier)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, "geo restricted remote", res.Reasons[0])
}

func TestRuleScore_NeitherRemoteNorLocalRejected(t *testing.T) {
	p := model.Posting{
		Title:       "Senior Backend Engineer",
		Description: "onsite in London",
		Location:    "London",
	}
	res := RuleScore(p, testProfile(), testConstraints())

	assert.Equal(t, 0, res.Score)
	assert.Contains(t, res.Reasons, "not remote and outside target location")
}

func TestRuleScore_LocalSeniorMatch(t *testing.T) {
	p := model.Posting{
		Title:       "Senior Backend Engineer",
		Description: "go, postgres, kubernetes, distributed systems api work",
		Location:    "Innsbruck, Austria",
	}
	res := RuleScore(p, testProfile(), testConstraints())

	assert.GreaterOrEqual(t, res.Score, 50)
	assert.Contains(t, res.Reasons, "seniority match")
	assert.Contains(t, res.Reasons, "target geography")
	assert.Contains(t, res.SkillHits, "go")
	assert.Contains(t, res.SkillHits, "postgres")
}

func TestRuleScore_LocalFirstFloor(t *testing.T) {
	p := model.Posting{
		Title:       "Software Developer",
		Description: "nice local company",
		Location:    "Innsbruck",
	}
	res := RuleScore(p, testProfile(), testConstraints())

	assert.GreaterOrEqual(t, res.Score, 55)
	assert.Contains(t, res.Reasons, "local-first role floor")
}

func TestRuleScore_ExcludedLevelPenalized(t *testing.T) {
	base := model.Posting{
		Title:       "Backend Engineer",
		Description: "go postgres",
		Location:    "Innsbruck",
	}
	excluded := base
	excluded.Description = "go postgres intern position"

	baseRes := RuleScore(base, testProfile(), testConstraints())
	exclRes := RuleScore(excluded, testProfile(), testConstraints())

	assert.Less(t, exclRes.Score, baseRes.Score)
	assert.Contains(t, exclRes.Reasons, "excluded level")
}

func TestRuleScore_RemoteRegionFit(t *testing.T) {
	p := model.Posting{
		Title:       "Senior Platform Engineer",
		Description: "remote within europe, cet overlap, kubernetes",
	}
	res := RuleScore(p, testProfile(), testConstraints())

	assert.Contains(t, res.Reasons, "remote fit")
	assert.Contains(t, res.Reasons, "timezone/region fit")
}

func TestRank_OrdersByScoreDescending(t *testing.T) {
	ranked := []model.RankedPosting{
		{Posting: model.Posting{ID: "low"}, Score: 10, Tier: "C"},
		{Posting: model.Posting{ID: "high"}, Score: 90, Tier: "A"},
		{Posting: model.Posting{ID: "mid"}, Score: 55, Tier: "B"},
	}
	Rank(ranked)

	require.Len(t, ranked, 3)
	assert.Equal(t, "high", ranked[0].Posting.ID)
	assert.Equal(t, "mid", ranked[1].Posting.ID)
	assert.Equal(t, "low", ranked[2].Posting.ID)
}

func TestCountTiers(t *testing.T) {
	ranked := []model.RankedPosting{
		{Tier: "A"}, {Tier: "A"}, {Tier: "B"}, {Tier: "C"}, {Tier: ""},
	}
	counts := CountTiers(ranked)

	assert.Equal(t, model.TierCounts{A: 2, B: 1, C: 2}, counts)
}
