package eval

import (
	"fmt"
	"strconv"
	"strings"
)

// Rich-output marker convention: evaluated code may bracket a payload with
// these lines on stdout and the surrounding layer extracts it as a
// displayable artifact instead of plain text.
const (
	BeginContentMarker = "GOEVAL_BEGIN_CONTENT"
	EndContentMarker   = "GOEVAL_END_CONTENT"
)

// ContentBlock is one mime-tagged artifact extracted from captured output.
type ContentBlock struct {
	Mime string
	Data string
}

// Outcome is the caller-facing result of one evaluation.
type Outcome struct {
	// EvalID is the unique evaluation number within the session.
	EvalID int
	// Stdout and Stderr hold plain captured output, with content blocks
	// already extracted from Stdout.
	Stdout string
	Stderr string
	// LastValue is the rendered trailing-expression value.
	LastValue    string
	HasLastValue bool
	// Content holds extracted mime-tagged blocks in emission order.
	Content []ContentBlock
	// DroppedVariables lists bindings that evaluated successfully but were
	// not preserved into the store.
	DroppedVariables []string
}

// extractContent splits captured stdout into plain text and content blocks.
// An unterminated block is treated as plain text rather than dropped.
func extractContent(stdout string) (string, []ContentBlock) {
	if !strings.Contains(stdout, BeginContentMarker) {
		return stdout, nil
	}
	var (
		plain  strings.Builder
		blocks []ContentBlock
	)
	lines := strings.Split(stdout, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		mime, ok := contentMime(line)
		if !ok {
			plain.WriteString(line)
			if i < len(lines)-1 {
				plain.WriteByte('\n')
			}
			continue
		}
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == EndContentMarker {
				end = j
				break
			}
		}
		if end < 0 {
			plain.WriteString(line)
			if i < len(lines)-1 {
				plain.WriteByte('\n')
			}
			continue
		}
		blocks = append(blocks, ContentBlock{
			Mime: mime,
			Data: strings.Join(lines[i+1:end], "\n"),
		})
		i = end
	}
	return plain.String(), blocks
}

func contentMime(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, BeginContentMarker) {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, BeginContentMarker))
	if rest == "" || strings.ContainsAny(rest, " \t") {
		return "", false
	}
	return rest, true
}

// renderValue formats a trailing-expression value for display. Strings are
// quoted so `"5"` and `5` stay distinguishable.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
