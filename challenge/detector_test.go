package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/use-agent/harvest/config"
)

func TestLooksChallenged_EachPhrase(t *testing.T) {
	d := NewDetector(config.DefaultChallengePhrases)
	for _, phrase := range config.DefaultChallengePhrases {
		t.Run(phrase, func(t *testing.T) {
			markup := "<html><body><p>prefix " + phrase + " suffix</p></body></html>"
			assert.True(t, d.LooksChallenged(markup))

			got, ok := d.Match(markup)
			assert.True(t, ok)
			assert.Equal(t, phrase, got)
		})
	}
}

func TestLooksChallenged_CleanMarkup(t *testing.T) {
	d := NewDetector(config.DefaultChallengePhrases)
	markup := `<html><head><title>Acme | PitchBook</title></head>
<body><h2 class="pp-overview__title"><span>Acme</span></h2>Company Overview</body></html>`
	assert.False(t, d.LooksChallenged(markup))
	assert.False(t, d.LooksChallenged(""))
}

func TestLooksChallenged_CaseSensitive(t *testing.T) {
	d := NewDetector(config.DefaultChallengePhrases)
	assert.False(t, d.LooksChallenged("just a moment"))
	assert.False(t, d.LooksChallenged("RAY ID"))
}

func TestNewDetector_DropsEmptyPhrases(t *testing.T) {
	d := NewDetector([]string{"", "Ray ID", ""})
	assert.Equal(t, []string{"Ray ID"}, d.Phrases())
	assert.False(t, d.LooksChallenged("anything"))
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{"plain", "<html><head><title> Just a moment... </title></head></html>", "Just a moment..."},
		{"missing", "<html><body>no title</body></html>", ""},
		{"empty", "<title></title>", ""},
		{"not found", "<title>404 - Profile not found | PitchBook</title>", "404 - Profile not found | PitchBook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.markup))
		})
	}
}
