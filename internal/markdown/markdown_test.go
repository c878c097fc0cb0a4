package markdown

import (
	"strings"
	"testing"
)

func TestChunk_ShortTextUnchanged(t *testing.T) {
	got := Chunk("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Chunk = %v", got)
	}
}

func TestChunk_Empty(t *testing.T) {
	if got := Chunk("", 100); got != nil {
		t.Errorf("Chunk(\"\") = %v, want nil", got)
	}
}

func TestChunk_RoundTripLossless(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
	}{
		{"paragraphs", strings.Repeat("para one\n\npara two\n\n", 50), 100},
		{"lines", strings.Repeat("a line of text\n", 100), 64},
		{"no boundaries", strings.Repeat("x", 1000), 64},
		{"multibyte", strings.Repeat("héllo wörld ", 200), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(tt.text, tt.max)
			for i, c := range chunks {
				if len(c) > tt.max {
					t.Errorf("chunk %d has %d bytes, limit %d", i, len(c), tt.max)
				}
				if c == "" {
					t.Errorf("chunk %d is empty", i)
				}
			}
			if joined := strings.Join(chunks, ""); joined != tt.text {
				t.Error("concatenated chunks do not reproduce input")
			}
		})
	}
}

func TestChunk_NeverSplitsRune(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 100)
	for _, c := range Chunk(text, 50) {
		if !strings.HasPrefix(text, c) && !strings.Contains(text, c) {
			t.Fatalf("chunk %q is not a substring, rune was split", c)
		}
		for _, r := range c {
			if r == '�' {
				t.Fatalf("chunk contains replacement rune: %q", c)
			}
		}
	}
}

func TestIsSilentReply(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"NO_REPLY", true},
		{"  NO_REPLY\n", true},
		{"`NO_REPLY`", true},
		{"no reply", false},
		{"NO_REPLY but more", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSilentReply(tt.text); got != tt.want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestConvertTables(t *testing.T) {
	in := "before\n| a | b |\n|---|---|\n| 1 | 2 |\nafter"
	got := ConvertTables(in)

	if !strings.Contains(got, "```text") {
		t.Errorf("table not converted:\n%s", got)
	}
	if strings.Contains(got, "|---|") {
		t.Errorf("separator row survived:\n%s", got)
	}
	if !strings.Contains(got, "a  b") || !strings.Contains(got, "1  2") {
		t.Errorf("cells not rendered:\n%s", got)
	}
	if !strings.HasPrefix(got, "before\n") || !strings.HasSuffix(got, "\nafter") {
		t.Errorf("surrounding text disturbed:\n%s", got)
	}
}

func TestConvertTables_IgnoresNonTables(t *testing.T) {
	in := "| not a table\nplain text"
	if got := ConvertTables(in); got != in {
		t.Errorf("non-table text modified:\n%s", got)
	}

	// Pipe rows without a separator line stay untouched.
	in2 := "| a | b |\n| 1 | 2 |"
	if got := ConvertTables(in2); got != in2 {
		t.Errorf("pipe rows without separator modified:\n%s", got)
	}
}
