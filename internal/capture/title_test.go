package capture

import (
	"strings"
	"testing"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "atx heading",
			content: "# Call the dentist\n\nBefore Friday.",
			want:    "Call the dentist",
		},
		{
			name:    "heading with emphasis",
			content: "intro line\n\n## Pick up *dry* cleaning\n",
			want:    "Pick up dry cleaning",
		},
		{
			name:    "setext heading",
			content: "Weekly review\n=============\n\nbody",
			want:    "Weekly review",
		},
		{
			name:    "no heading falls back to first line",
			content: "\n\n  remember the milk  \nsecond line",
			want:    "remember the milk",
		},
		{
			name:    "empty",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTitle(tt.content); got != tt.want {
				t.Errorf("ExtractTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTitle_Truncates(t *testing.T) {
	got := ExtractTitle("# " + strings.Repeat("a", 300))
	if len([]rune(got)) != 120 {
		t.Errorf("title length = %d, want 120", len([]rune(got)))
	}
}
