package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostingIdentity(t *testing.T) {
	tests := []struct {
		name    string
		posting Posting
		want    string
	}{
		{
			name:    "url wins",
			posting: Posting{ID: "42", URL: "https://Example.com/Jobs/1 ", Title: "Go Developer"},
			want:    "https://example.com/jobs/1",
		},
		{
			name:    "id when url empty",
			posting: Posting{ID: "greenhouse:42", Title: "Go Developer"},
			want:    "greenhouse:42",
		},
		{
			name:    "title as last resort",
			posting: Posting{Title: " Go Developer "},
			want:    "go developer",
		},
		{
			name:    "empty posting",
			posting: Posting{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.posting.Identity())
		})
	}
}

func TestPostingStableID(t *testing.T) {
	assert.Equal(t, "lever:7", Posting{ID: "lever:7", URL: "https://x.com/7"}.StableID())
	assert.Equal(t, "https://x.com/7", Posting{URL: "https://x.com/7"}.StableID())

	generated := Posting{Title: "Go Developer"}.StableID()
	assert.True(t, strings.HasPrefix(generated, "generated:"))
	// Same content hashes to the same id.
	assert.Equal(t, generated, Posting{Title: "Go Developer"}.StableID())
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, "A", TierForScore(100))
	assert.Equal(t, "A", TierForScore(70))
	assert.Equal(t, "B", TierForScore(69))
	assert.Equal(t, "B", TierForScore(50))
	assert.Equal(t, "C", TierForScore(49))
	assert.Equal(t, "C", TierForScore(0))
}

func TestHashText(t *testing.T) {
	assert.Len(t, HashText("anything"), 64)
	assert.Equal(t, HashText("same"), HashText("same"))
	assert.NotEqual(t, HashText("a"), HashText("b"))
}
