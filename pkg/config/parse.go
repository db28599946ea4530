package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// line is one physical line of the config file. Comment and blank lines
// keep their raw text so a rewrite reproduces the file byte-for-byte
// except for patched values.
type line struct {
	raw   string
	key   string // empty for comments and blanks
	value string
}

// document is the parsed config file, order preserved.
type document struct {
	lines []line
}

// parseDocument reads KEY=VALUE lines. '#' starts a comment, blank lines
// are ignored, values may be single- or double-quoted, and quoted values
// may contain '='.
func parseDocument(data []byte) (*document, error) {
	doc := &document{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			doc.lines = append(doc.lines, line{raw: raw})
			continue
		}

		eq := strings.Index(trimmed, "=")
		if eq < 1 {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE, got %q", lineNo, trimmed)
		}

		key := strings.TrimSpace(trimmed[:eq])
		value := unquote(strings.TrimSpace(trimmed[eq+1:]))

		doc.lines = append(doc.lines, line{raw: raw, key: key, value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return doc, nil
}

// unquote strips one level of matching single or double quotes.
func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// values flattens the document into a key/value map. Later occurrences of
// a key win, matching shell sourcing semantics.
func (d *document) values() map[string]string {
	m := make(map[string]string, len(d.lines))
	for _, ln := range d.lines {
		if ln.key != "" {
			m[ln.key] = ln.value
		}
	}
	return m
}

// apply patches existing keys in place and appends new keys at the end.
func (d *document) apply(patch map[string]string) {
	seen := make(map[string]bool, len(patch))
	for i, ln := range d.lines {
		if ln.key == "" {
			continue
		}
		if v, ok := patch[ln.key]; ok {
			d.lines[i] = line{raw: renderLine(ln.key, v), key: ln.key, value: v}
			seen[ln.key] = true
		}
	}
	for key, v := range patch {
		if !seen[key] {
			d.lines = append(d.lines, line{raw: renderLine(key, v), key: key, value: v})
		}
	}
}

// renderLine formats a KEY=VALUE line, quoting values that would not
// survive a reparse unquoted.
func renderLine(key, value string) string {
	if value == "" || strings.ContainsAny(value, " \t#\"'") {
		return fmt.Sprintf("%s=%q", key, value)
	}
	return fmt.Sprintf("%s=%s", key, value)
}

// render reproduces the file content.
func (d *document) render() []byte {
	var buf bytes.Buffer
	for _, ln := range d.lines {
		buf.WriteString(ln.raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// writeAtomic writes the rendered document via a temp file in the same
// directory followed by rename, so readers never observe a torn file.
func (d *document) writeAtomic(path string) error {
	dir, base := splitPath(path)
	tmp, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(d.render()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func splitPath(path string) (dir, base string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ".", path
	}
	return path[:i], path[i+1:]
}
