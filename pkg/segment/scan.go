package segment

import "strings"

// Incomplete reports whether source ends inside an unclosed bracket, raw
// string or block comment, so an interactive caller can keep reading lines
// before attempting to segment.
func Incomplete(source string) bool {
	depth := 0
	i := 0
	for i < len(source) {
		switch c := source[i]; c {
		case '/':
			if i+1 < len(source) && source[i+1] == '/' {
				for i < len(source) && source[i] != '\n' {
					i++
				}
				continue
			}
			if i+1 < len(source) && source[i+1] == '*' {
				end := strings.Index(source[i+2:], "*/")
				if end < 0 {
					return true
				}
				i += end + 4
				continue
			}
		case '"', '\'':
			i, _ = skipQuoted(source, i, c)
			continue
		case '`':
			end := strings.IndexByte(source[i+1:], '`')
			if end < 0 {
				return true
			}
			i += end + 2
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		i++
	}
	return depth > 0
}

// chunk is a candidate unit boundary produced by the balance scanner.
type chunk struct {
	text string
	// line is the 1-based snippet line where the chunk's text begins.
	line int
}

// scanChunks splits source into top-level chunks by tracking bracket depth,
// string/rune/raw literals, and comments over the raw text. A chunk ends at a
// depth-zero semicolon, unless it separates the clauses of an unopened
// for/if/switch header, or at a depth-zero newline where Go's semicolon
// insertion rule would end the statement.
func scanChunks(source string) []chunk {
	var (
		chunks    []chunk
		start     = 0
		startLine = 1
		line      = 1
		depth     = 0
		prev      byte // last significant (non-space, non-comment) byte
	)

	flush := func(end int) {
		text := source[start:end]
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, chunk{text: text, line: startLine})
		}
		start = end
		startLine = line
		prev = 0
	}

	i := 0
	for i < len(source) {
		c := source[i]
		switch c {
		case '\n':
			line++
			if depth == 0 && endsStatement(prev) {
				i++
				flush(i)
				continue
			}
		case '/':
			if i+1 < len(source) && source[i+1] == '/' {
				for i < len(source) && source[i] != '\n' {
					i++
				}
				continue
			}
			if i+1 < len(source) && source[i+1] == '*' {
				i += 2
				for i+1 < len(source) && !(source[i] == '*' && source[i+1] == '/') {
					if source[i] == '\n' {
						line++
					}
					i++
				}
				i += 2
				continue
			}
			prev = c
		case '"', '\'':
			j, newlines := skipQuoted(source, i, c)
			line += newlines
			i = j
			prev = c
			continue
		case '`':
			j := i + 1
			for j < len(source) && source[j] != '`' {
				if source[j] == '\n' {
					line++
				}
				j++
			}
			i = j + 1
			prev = '`'
			continue
		case '(', '[', '{':
			depth++
			prev = c
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
			prev = c
		case ';':
			if depth == 0 && !inControlHeader(source[start:i]) {
				i++
				flush(i)
				continue
			}
			prev = c
		case ' ', '\t', '\r':
			// not significant
		default:
			prev = c
		}
		i++
	}
	flush(len(source))
	return chunks
}

// inControlHeader reports whether text is the still-open init clause of a
// for, if or switch statement, where a depth-zero semicolon separates header
// clauses rather than statements. Once the body's '{' appears the scanner is
// above depth zero and this check no longer matters.
func inControlHeader(text string) bool {
	s := strings.TrimSpace(stripComments(text))
	end := 0
	for end < len(s) && isIdentByte(s[end]) {
		end++
	}
	switch s[:end] {
	case "for", "if", "switch":
	default:
		return false
	}
	// A '{' outside a literal means the statement reached its body (or a
	// complete block); the semicolon then terminates normally.
	for i := 0; i < len(s); {
		switch c := s[i]; c {
		case '"', '\'':
			i, _ = skipQuoted(s, i, c)
		case '`':
			if close := strings.IndexByte(s[i+1:], '`'); close >= 0 {
				i += close + 2
			} else {
				i = len(s)
			}
		case '{':
			return false
		default:
			i++
		}
	}
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9'
}

// endsStatement approximates Go's automatic semicolon insertion: a statement
// ends at a newline when the last token ends with one of these bytes.
func endsStatement(prev byte) bool {
	switch prev {
	case ')', ']', '}', '"', '\'', '`':
		return true
	}
	return isIdentByte(prev)
}

// skipQuoted advances past a quoted literal starting at i, honoring escapes.
// Returns the index just past the closing quote and the newline count (a
// malformed literal runs to end of line).
func skipQuoted(source string, i int, quote byte) (int, int) {
	j := i + 1
	for j < len(source) {
		switch source[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1, 0
		case '\n':
			// Unterminated; let the parser report it.
			return j, 0
		}
		j++
	}
	return j, 0
}

// stripComments removes line and block comments, leaving literals intact.
func stripComments(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			i += 2
			for i+1 < len(text) && !(text[i] == '*' && text[i+1] == '/') {
				i++
			}
			i += 2
		case c == '"' || c == '\'':
			end, _ := skipQuoted(text, i, c)
			b.WriteString(text[i:end])
			i = end
		case c == '`':
			end := strings.IndexByte(text[i+1:], '`')
			if end < 0 {
				b.WriteString(text[i:])
				i = len(text)
				continue
			}
			b.WriteString(text[i : i+end+2])
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
