package filter

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

func TestKeywordFilter_Admit(t *testing.T) {
	f, err := NewKeywordFilter(config.DefaultKeywordWhitelist, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name        string
		anchor      string
		wantKeyword string
		wantOK      bool
	}{
		{"tuition", "Tuition & Fees", "tuition", true},
		{"admission", "How to apply", "apply", true},
		{"case insensitive", "ENTRY REQUIREMENTS", "requirements", true},
		{"no keyword", "Campus life", "", false},
		{"empty anchor", "   ", "", false},
		{"news", "Latest news", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kw, ok := f.Admit("https://uni.example/page", tt.anchor)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKeyword, kw)
		})
	}
}

func TestKeywordFilter_MatchesAnchorNotURL(t *testing.T) {
	f, err := NewKeywordFilter([]string{"tuition"}, nil, nil)
	require.NoError(t, err)

	_, ok := f.Admit("https://uni.example/tuition-fees", "Click here")
	assert.False(t, ok, "URL text alone must not admit a link")
}

func TestKeywordFilter_BlockedTermsWin(t *testing.T) {
	f, err := NewKeywordFilter([]string{"program"}, []string{"undergraduate"}, nil)
	require.NoError(t, err)

	_, ok := f.Admit("https://uni.example/ug", "Undergraduate programs")
	assert.False(t, ok)

	kw, ok := f.Admit("https://uni.example/pg", "Postgraduate programs")
	assert.True(t, ok)
	assert.Equal(t, "program", kw)
}

func TestKeywordFilter_BlockedURLPatterns(t *testing.T) {
	f, err := NewKeywordFilter([]string{"program"}, nil, []string{`/news/`, `\.pdf$`})
	require.NoError(t, err)

	_, ok := f.Admit("https://uni.example/news/new-program", "New program launched")
	assert.False(t, ok)
	_, ok = f.Admit("https://uni.example/brochure.PDF", "Program brochure")
	assert.False(t, ok)
	_, ok = f.Admit("https://uni.example/programs/msc", "Program overview")
	assert.True(t, ok)
}

func TestNewKeywordFilter_InvalidPattern(t *testing.T) {
	_, err := NewKeywordFilter(nil, nil, []string{"[bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.AppConfig{MaxLinksPerPage: 5, BlockedAnchorTerms: []string{"PhD"}}
	_, err := cfg.Validate()
	require.NoError(t, err)

	f, err := NewFromConfig(cfg)
	require.NoError(t, err)

	_, ok := f.Admit("https://uni.example/phd", "PhD program")
	assert.False(t, ok)
	_, ok = f.Admit("https://uni.example/msc", "Master program")
	assert.True(t, ok)
}

func TestSameOrigin(t *testing.T) {
	root, _ := url.Parse("https://www.uni.example/programs/msc")

	tests := []struct {
		candidate string
		want      bool
	}{
		{"https://www.uni.example/fees", true},
		{"http://uni.example/fees", true},
		{"https://WWW.UNI.EXAMPLE/apply", true},
		{"https://uni.example:8443/apply", true},
		{"https://apply.uni.example/", false},
		{"https://other.example/", false},
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			c, err := url.Parse(tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, SameOrigin(root, c))
		})
	}

	assert.False(t, SameOrigin(nil, root))
}
