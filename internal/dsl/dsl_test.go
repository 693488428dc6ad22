package dsl

import (
	"testing"

	"github.com/nostrguard/proxy/internal/eventview"
)

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		message string
		pos     int
	}{
		{
			name:    "bare equals",
			query:   "kind = 1",
			message: "Expected '==' but got '='",
			pos:     5,
		},
		{
			name:    "unterminated string",
			query:   `content == "hi`,
			message: "Unterminated string",
			pos:     11,
		},
		{
			name:    "unexpected character",
			query:   "kind == 1 & content == \"x\"",
			message: "Unexpected character: '&'",
			pos:     10,
		},
		{
			name:    "bare bang",
			query:   "kind ! 1",
			message: "Unexpected character: '!'",
			pos:     5,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Compile(test.query)
			if err == nil {
				t.Fatalf("expected error, got none")
			}
			if err.Message != test.message {
				t.Fatalf("expected message %q, got %q", test.message, err.Message)
			}
			if err.Position != test.pos {
				t.Fatalf("expected position %d, got %d", test.pos, err.Position)
			}
		})
	}
}

func TestCompileAndEvaluate(t *testing.T) {
	noRef := func(string) (int64, bool) { return 0, false }

	tests := []struct {
		name  string
		query string
		event eventview.View
		refID string
		lkp   RefLookup
		want  bool
	}{
		{
			name:  "kind equality matches",
			query: "kind == 6",
			event: eventview.View{Kind: 6, Content: "hi"},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "content contains is case-insensitive",
			query: `content contains "SPAM"`,
			event: eventview.View{Kind: 1, Content: "free spam here"},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "tag count and content length",
			query: "tag[e].count > 5 AND content_length < 50",
			event: eventview.View{
				Content: "short",
				Tags: eventview.TagTable{
					"e": [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {"f"}},
				},
			},
			lkp:  noRef,
			want: true,
		},
		{
			name:  "tag count below threshold does not match",
			query: "tag[e].count > 5 AND content_length < 50",
			event: eventview.View{
				Content: "short",
				Tags: eventview.TagTable{
					"e": [][]string{{"a"}, {"b"}, {"c"}},
				},
			},
			lkp:  noRef,
			want: false,
		},
		{
			name:  "referenced_created_at hit",
			query: "kind in [6, 7] AND referenced_created_at == created_at",
			event: eventview.View{Kind: 6, CreatedAt: 1000},
			refID: "X",
			lkp: func(id string) (int64, bool) {
				if id == "X" {
					return 1000, true
				}
				return 0, false
			},
			want: true,
		},
		{
			name:  "referenced_created_at cache miss is inert, not rejecting",
			query: "kind in [6, 7] AND referenced_created_at == created_at",
			event: eventview.View{Kind: 6, CreatedAt: 1000},
			refID: "X",
			lkp:   noRef,
			want:  false,
		},
		{
			name:  "tag exists true",
			query: "tag[e] exists true",
			event: eventview.View{Tags: eventview.TagTable{"e": [][]string{{"x"}}}},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "tag exists false on absent tag",
			query: "tag[p] exists false",
			event: eventview.View{},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "absent tag value compares as empty string",
			query: `tag[d].value == ""`,
			event: eventview.View{},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "not negates",
			query: "NOT kind == 1",
			event: eventview.View{Kind: 2},
			lkp:   noRef,
			want:  true,
		},
		{
			name:  "or short circuits to true",
			query: "kind == 1 OR kind == 2",
			event: eventview.View{Kind: 2},
			lkp:   noRef,
			want:  true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rule, err := Compile(test.query)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got := Evaluate(rule, test.event, test.refID, test.lkp)
			if got != test.want {
				t.Fatalf("expected %v, got %v", test.want, got)
			}
		})
	}
}

func TestCompileRejectsInvalidNpub(t *testing.T) {
	_, err := Compile(`npub == "not-an-npub"`)
	if err == nil {
		t.Fatalf("expected error for malformed npub literal")
	}
}

func TestCompileRejectsInvalidNpubInList(t *testing.T) {
	_, err := Compile(`npub in ["npub1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq", "not-an-npub"]`)
	if err == nil {
		t.Fatalf("expected error for malformed npub literal inside an in-list")
	}
}

func TestParseRejectsNonLetterTagName(t *testing.T) {
	for _, query := range []string{"tag[_] exists true", "tag[9] exists true"} {
		if _, err := Compile(query); err == nil {
			t.Fatalf("expected error for non-letter tag name in %q", query)
		}
	}
}

func TestCompileRejectsInvalidRegex(t *testing.T) {
	_, err := Compile(`content matches "(unterminated"`)
	if err == nil {
		t.Fatalf("expected error for invalid regex")
	}
}

func TestRoundTripPrintAndReparse(t *testing.T) {
	queries := []string{
		"kind == 6",
		"kind in [6, 7] AND referenced_created_at == created_at",
		`content contains "spam" OR content contains "scam"`,
		"NOT (kind == 1 AND tag[e] exists true)",
		"tag[e].count > 5 AND content_length < 50",
	}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			rule, err := Compile(q)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}

			printed := Print(rule.Root)
			reparsed, err := Compile(printed)
			if err != nil {
				t.Fatalf("re-parse of %q: %v", printed, err)
			}

			if Print(reparsed.Root) != printed {
				t.Fatalf("round trip mismatch: %q vs %q", printed, Print(reparsed.Root))
			}
		})
	}
}

func TestFieldsUsed(t *testing.T) {
	rule, err := Compile("kind == 1 AND tag[e].count > 0")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	names := FieldsUsedNames(rule.FieldsUsed)
	want := map[string]bool{"kind": false, "tag[e].count": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Fatalf("expected fields_used to include %q, got %v", n, names)
		}
	}
}
