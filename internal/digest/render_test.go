package digest

import (
	"strings"
	"testing"

	"voicedesk/internal/reporting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_EscapesHTMLAndCapsIntents(t *testing.T) {
	s := reporting.CallsSummary{
		TotalCalls: 9, MissedCalls: 2, AverageDurationSeconds: 95, EscalatedCalls: 1,
		Intents: []reporting.IntentCount{
			{Intent: "a", Count: 6}, {Intent: "b", Count: 5}, {Intent: "c", Count: 4},
			{Intent: "d", Count: 3}, {Intent: "e", Count: 2}, {Intent: "f", Count: 1},
		},
	}
	out, err := render("Bob's <Plumbing>", "Sunday, January 14, 2024", s)
	require.NoError(t, err)

	assert.Equal(t, "Bob's <Plumbing>: 9 calls, 2 missed (Sunday, January 14, 2024)", out.Subject)
	assert.Contains(t, out.HTML, "Bob&#39;s &lt;Plumbing&gt;")
	assert.NotContains(t, out.HTML, "<Plumbing>")
	assert.Contains(t, out.Text, "Average call length: 1m 35s")
	assert.Contains(t, out.Text, "Need follow-up: 1")
	assert.Contains(t, out.Text, "- e: 2")
	assert.NotContains(t, out.Text, "- f: 1")
	assert.True(t, strings.HasPrefix(out.Text, "Bob's <Plumbing>\n"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(42))
	assert.Equal(t, "2m 05s", formatDuration(125))
}
