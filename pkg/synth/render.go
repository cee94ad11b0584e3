package synth

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// lineWriter renders source text while recording per-line attributions.
type lineWriter struct {
	buf   bytes.Buffer
	lines []LineInfo
}

func (w *lineWriter) line(info LineInfo, format string, args ...any) {
	w.multiline(info, format, args...)
}

// multiline writes a formatted chunk, recording info against every physical
// line it occupies.
func (w *lineWriter) multiline(info LineInfo, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	for _, part := range strings.Split(text, "\n") {
		w.buf.WriteString(part)
		w.buf.WriteByte('\n')
		w.lines = append(w.lines, info)
	}
}

func (w *lineWriter) blank() {
	w.buf.WriteByte('\n')
	w.lines = append(w.lines, LineInfo{Role: RoleNone, Unit: -1})
}

func (w *lineWriter) bytes() []byte {
	return w.buf.Bytes()
}

// Write materializes the rendered files under dir.
func (r *Result) Write(dir string) error {
	if r == nil {
		return fmt.Errorf("synth: nil result")
	}
	if dir == "" {
		return fmt.Errorf("synth: empty output dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("synth: create output dir: %w", err)
	}
	for name, data := range r.Files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("synth: write %s: %w", name, err)
		}
	}
	return nil
}
