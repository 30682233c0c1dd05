package correct

import (
	"strings"
	"testing"
)

func TestConfirmChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		original  string
		corrected string
		declared  []Correction
		wantText  string
		wantCount int
	}{
		{
			name:      "identical text passes through",
			original:  "all good here",
			corrected: "all good here",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "all good here",
			wantCount: 1,
		},
		{
			name:      "declared single word change kept",
			original:  "kombusha brewing at home",
			corrected: "kombucha brewing at home",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "kombucha brewing at home",
			wantCount: 1,
		},
		{
			name:      "declared multi word change kept",
			original:  "hit workouts daily",
			corrected: "hiit training daily",
			declared:  []Correction{{Original: "hit workouts", Corrected: "hiit training"}},
			wantText:  "hiit training daily",
			wantCount: 1,
		},
		{
			name:      "undeclared change reverted",
			original:  "quick easy dinner ideas",
			corrected: "quick simple dinner ideas",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "quick easy dinner ideas",
			wantCount: 0,
		},
		{
			name:      "mixed declared and undeclared",
			original:  "try kombusha with an easy recipe",
			corrected: "try kombucha with a simple recipe",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "try kombucha with an easy recipe",
			wantCount: 1,
		},
		{
			name:      "no declarations reverts everything",
			original:  "the workout felt great",
			corrected: "the workout was amazing",
			declared:  nil,
			wantText:  "the workout felt great",
			wantCount: 0,
		},
		{
			name:      "trailing punctuation ignored in lookup",
			original:  "drink more kombusha.",
			corrected: "drink more kombucha.",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "drink more kombucha.",
			wantCount: 1,
		},
		{
			name:      "multiple declared changes kept",
			original:  "kombusha and meel prep tips",
			corrected: "kombucha and meal prep tips",
			declared: []Correction{
				{Original: "kombusha", Corrected: "kombucha"},
				{Original: "meel", Corrected: "meal"},
			},
			wantText:  "kombucha and meal prep tips",
			wantCount: 2,
		},
		{
			name:      "lookup is case insensitive",
			original:  "KOMBUSHA tastes great",
			corrected: "kombucha tastes great",
			declared:  []Correction{{Original: "kombusha", Corrected: "kombucha"}},
			wantText:  "kombucha tastes great",
			wantCount: 1,
		},
		{
			name:      "undeclared insertion reverted",
			original:  "stretch daily",
			corrected: "stretch every daily",
			declared:  nil,
			wantText:  "stretch daily",
			wantCount: 0,
		},
		{
			name:      "undeclared deletion reverted",
			original:  "the quick easy recipe",
			corrected: "the easy recipe",
			declared:  nil,
			wantText:  "the quick easy recipe",
			wantCount: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			text, kept := confirmChanges(tc.original, tc.corrected, tc.declared)
			if text != tc.wantText {
				t.Errorf("text = %q, want %q", text, tc.wantText)
			}
			if len(kept) != tc.wantCount {
				t.Errorf("kept %d corrections, want %d: %+v", len(kept), tc.wantCount, kept)
			}
		})
	}
}

func TestTokenLCS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    []string
		b    []string
		want []anchorPair
	}{
		{
			name: "identical",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "b", "c"},
			want: []anchorPair{{0, 0}, {1, 1}, {2, 2}},
		},
		{
			name: "disjoint",
			a:    []string{"a", "b"},
			b:    []string{"x", "y"},
			want: nil,
		},
		{
			name: "subsequence",
			a:    []string{"a", "x", "b"},
			b:    []string{"a", "b", "y"},
			want: []anchorPair{{0, 0}, {2, 1}},
		},
		{
			name: "empty",
			a:    nil,
			b:    []string{"a"},
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := tokenLCS(tc.a, tc.b)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d anchors, want %d: %v", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("anchor[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestExtractChangeSpans(t *testing.T) {
	t.Parallel()

	orig := []string{"a", "X", "c", "Y", "e"}
	corr := []string{"a", "B", "c", "D", "e"}
	anchors := tokenLCS(orig, corr)

	spans := extractChangeSpans(orig, corr, anchors)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2: %+v", len(spans), spans)
	}
	if strings.Join(spans[0].origTokens, " ") != "X" || strings.Join(spans[0].corrTokens, " ") != "B" {
		t.Errorf("span[0] = %+v, want X -> B", spans[0])
	}
	if strings.Join(spans[1].origTokens, " ") != "Y" || strings.Join(spans[1].corrTokens, " ") != "D" {
		t.Errorf("span[1] = %+v, want Y -> D", spans[1])
	}
}

func TestExtractChangeSpans_Trailing(t *testing.T) {
	t.Parallel()

	orig := []string{"a", "b", "X"}
	corr := []string{"a", "b", "Y", "Z"}
	anchors := tokenLCS(orig, corr)

	spans := extractChangeSpans(orig, corr, anchors)
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1: %+v", len(spans), spans)
	}
	if strings.Join(spans[0].origTokens, " ") != "X" || strings.Join(spans[0].corrTokens, " ") != "Y Z" {
		t.Errorf("span = %+v, want X -> Y Z", spans[0])
	}
}

func TestNormalizeForLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Kombusha", "kombusha"},
		{"kombusha.", "kombusha"},
		{`prep!"`, "prep"},
		{"meal prep", "meal prep"},
	}
	for _, tc := range tests {
		if got := normalizeForLookup(tc.in); got != tc.want {
			t.Errorf("normalizeForLookup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseReview(t *testing.T) {
	t.Parallel()

	t.Run("valid reply", func(t *testing.T) {
		t.Parallel()

		body := `{"corrected_text": "drink kombucha daily", "corrections": [{"original": "kombusha", "corrected": "kombucha", "confidence": 0.9}]}`
		text, corrections, err := parseReview(body, "drink kombusha daily")
		if err != nil {
			t.Fatalf("parseReview: %v", err)
		}
		if text != "drink kombucha daily" {
			t.Errorf("text = %q, want corrected text", text)
		}
		if len(corrections) != 1 {
			t.Fatalf("got %d corrections, want 1", len(corrections))
		}
		if corrections[0].Method != "llm" {
			t.Errorf("Method = %q, want %q", corrections[0].Method, "llm")
		}
	})

	t.Run("fenced reply", func(t *testing.T) {
		t.Parallel()

		body := "```json\n{\"corrected_text\": \"ok\", \"corrections\": []}\n```"
		text, _, err := parseReview(body, "ok")
		if err != nil {
			t.Fatalf("parseReview: %v", err)
		}
		if text != "ok" {
			t.Errorf("text = %q, want %q", text, "ok")
		}
	})

	t.Run("no-op corrections dropped", func(t *testing.T) {
		t.Parallel()

		body := `{"corrected_text": "fine text", "corrections": [{"original": "fine", "corrected": "fine", "confidence": 1}]}`
		_, corrections, err := parseReview(body, "fine text")
		if err != nil {
			t.Fatalf("parseReview: %v", err)
		}
		if len(corrections) != 0 {
			t.Errorf("got %d corrections, want no-ops dropped", len(corrections))
		}
	})

	t.Run("empty corrected_text falls back", func(t *testing.T) {
		t.Parallel()

		text, corrections, err := parseReview(`{"corrected_text": "", "corrections": []}`, "keep me")
		if err != nil {
			t.Fatalf("parseReview: %v", err)
		}
		if text != "keep me" {
			t.Errorf("text = %q, want original preserved", text)
		}
		if len(corrections) != 0 {
			t.Errorf("got %d corrections, want 0", len(corrections))
		}
	})

	t.Run("invalid json errors", func(t *testing.T) {
		t.Parallel()

		if _, _, err := parseReview("the text is fine", "anything"); err == nil {
			t.Fatal("parseReview accepted prose, want error")
		}
	})
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"{\"a\": 1}", "{\"a\": 1}"},
		{"```json\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"```\n{}\n```", "{}"},
	}
	for _, tc := range tests {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
