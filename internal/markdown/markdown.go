// Package markdown prepares reply text for delivery: silent-reply detection,
// pipe-table conversion and transport-sized chunking.
package markdown

import (
	"strings"
	"unicode/utf8"
)

// silentToken suppresses delivery when a responder decides not to answer.
const silentToken = "NO_REPLY"

// IsSilentReply reports whether the reply text is the silent token
// (optionally wrapped in whitespace or backticks).
func IsSilentReply(text string) bool {
	t := strings.TrimSpace(text)
	t = strings.Trim(t, "`")
	return t == silentToken
}

// Chunk splits text into pieces of at most max bytes, preferring paragraph
// then line then space boundaries, never splitting mid-rune. Concatenating
// the chunks reproduces the input exactly. max <= 0 returns the input whole.
func Chunk(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > max {
		cut := splitPoint(rest, max)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitPoint picks a cut index <= max, preferring "\n\n", then "\n", then a
// space in the trailing third of the window, falling back to a rune boundary.
func splitPoint(s string, max int) int {
	window := s[:max]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, " "); idx > max*2/3 {
		return idx + 1
	}

	// Hard cut: back up to a rune boundary.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return cut
}

// ConvertTables rewrites markdown pipe tables into fenced text blocks so
// clients that render tables poorly still show aligned columns.
func ConvertTables(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	var table []string

	flush := func() {
		if len(table) == 0 {
			return
		}
		if len(table) >= 2 && isSeparatorRow(table[1]) {
			out = append(out, "```text")
			for i, row := range table {
				if i == 1 {
					continue
				}
				out = append(out, renderRow(row))
			}
			out = append(out, "```")
		} else {
			out = append(out, table...)
		}
		table = nil
	}

	for _, line := range lines {
		if isTableRow(line) {
			table = append(table, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "|") && strings.HasSuffix(t, "|") && len(t) > 1
}

// isSeparatorRow matches the |---|:---:| delimiter line under a header row.
func isSeparatorRow(line string) bool {
	t := strings.TrimSpace(line)
	if !isTableRow(t) {
		return false
	}
	for _, cell := range splitCells(t) {
		c := strings.TrimSpace(cell)
		if c == "" {
			return false
		}
		for _, r := range c {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

func splitCells(row string) []string {
	t := strings.TrimSpace(row)
	t = strings.TrimPrefix(t, "|")
	t = strings.TrimSuffix(t, "|")
	return strings.Split(t, "|")
}

func renderRow(row string) string {
	cells := splitCells(row)
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return strings.Join(cells, "  ")
}
