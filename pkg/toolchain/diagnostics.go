package toolchain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one structured compiler message.
type Diagnostic struct {
	Severity string // "error" or "warning"
	File     string
	Line     int
	Column   int
	Message  string
	// Detail carries indented continuation lines (notes, have/want dumps).
	Detail string
}

func (d Diagnostic) String() string {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
	}
	if loc == "" {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", loc, d.Message)
}

// buildEvent is the JSON shape emitted per line by `go build -json`.
type buildEvent struct {
	ImportPath string `json:"ImportPath"`
	Action     string `json:"Action"`
	Output     string `json:"Output"`
}

// decodeBuildEvents reassembles the textual compiler output carried inside
// build -json events. Non-JSON lines pass through untouched so the parser
// also handles toolchains invoked without -json support.
func decodeBuildEvents(raw []byte) string {
	var b strings.Builder
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "{") {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		var ev buildEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		if ev.Action == "build-output" && ev.Output != "" {
			b.WriteString(ev.Output)
		}
	}
	return b.String()
}

var diagLineRe = regexp.MustCompile(`^(.*\.go):(\d+)(?::(\d+))?: (.*)$`)

// parseDiagnostics splits decoded compiler output into one record per
// message. Indented lines continue the preceding diagnostic.
func parseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ") {
			if n := len(diags); n > 0 {
				if diags[n-1].Detail != "" {
					diags[n-1].Detail += "\n"
				}
				diags[n-1].Detail += strings.TrimSpace(line)
			}
			continue
		}
		m := diagLineRe.FindStringSubmatch(line)
		if m == nil {
			// Package-level headers ("# evalunit3") and similar noise.
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		colNo := 0
		if m[3] != "" {
			colNo, _ = strconv.Atoi(m[3])
		}
		message := m[4]
		severity := "error"
		if strings.HasPrefix(message, "warning:") {
			severity = "warning"
			message = strings.TrimSpace(strings.TrimPrefix(message, "warning:"))
		}
		diags = append(diags, Diagnostic{
			Severity: severity,
			File:     m[1],
			Line:     lineNo,
			Column:   colNo,
			Message:  message,
		})
	}
	return diags
}

// Errors filters to error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == "error" {
			out = append(out, d)
		}
	}
	return out
}

// Render joins diagnostics into the verbatim multi-line form surfaced to the
// caller on terminal failure.
func Render(diags []Diagnostic) string {
	var b strings.Builder
	for _, d := range diags {
		b.WriteString(d.String())
		b.WriteByte('\n')
		if d.Detail != "" {
			for _, line := range strings.Split(d.Detail, "\n") {
				b.WriteString("\t")
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
