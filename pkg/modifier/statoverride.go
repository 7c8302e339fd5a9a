package modifier

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedStatOverride marks a syntax error in a stat-override file.
var ErrMalformedStatOverride = errors.New("malformed statoverride file")

// StatOverride maps absolute-in-tree paths ("/usr/bin/foo") to mode bits
// that are ORed onto the observed mode. Entries are removed as they match.
type StatOverride struct {
	modeAdds map[string]uint32
}

// NewStatOverride returns an empty table.
func NewStatOverride() *StatOverride {
	return &StatOverride{modeAdds: make(map[string]uint32)}
}

// LoadStatOverride reads a stat-override file from disk.
func LoadStatOverride(path string) (*StatOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load statoverride: %w", err)
	}
	return ParseStatOverride(bytes.NewReader(data))
}

// ParseStatOverride reads lines of the form "+<octal-mode> <path>". Lines
// that do not start with '+' are ignored. The path is everything after the
// first space. A repeated path keeps its last mask.
func ParseStatOverride(r io.Reader) (*StatOverride, error) {
	so := NewStatOverride()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "+") {
			continue
		}
		modeTok, path, ok := strings.Cut(line[1:], " ")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: missing space before path", ErrMalformedStatOverride, lineNo)
		}
		mode, err := parseModeMask(modeTok)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedStatOverride, lineNo, err)
		}
		if path == "" {
			return nil, fmt.Errorf("%w: line %d: empty path", ErrMalformedStatOverride, lineNo)
		}
		so.modeAdds[path] = mode
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read statoverride: %w", err)
	}
	return so, nil
}

// parseModeMask parses an octal permission mask. "0644", "644" and "0o644"
// are equivalent. Masks may only touch permission, setuid, setgid and
// sticky bits.
func parseModeMask(tok string) (uint32, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(tok, "0o"), "0O")
	if digits == "" {
		return 0, fmt.Errorf("empty mode")
	}
	v, err := strconv.ParseUint(digits, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mode %q is not octal", tok)
	}
	if v > 0o7777 {
		return 0, fmt.Errorf("mode %q sets file type bits", tok)
	}
	return uint32(v), nil
}

// Len returns the number of entries not yet matched.
func (so *StatOverride) Len() int {
	if so == nil {
		return 0
	}
	return len(so.modeAdds)
}

// Set adds or replaces the mask for path.
func (so *StatOverride) Set(path string, mask uint32) {
	so.modeAdds[path] = mask
}

// take returns the mask for path and removes the entry.
func (so *StatOverride) take(path string) (uint32, bool) {
	if so == nil {
		return 0, false
	}
	mask, ok := so.modeAdds[path]
	if ok {
		delete(so.modeAdds, path)
	}
	return mask, ok
}

// Leftover returns the paths that never matched, sorted.
func (so *StatOverride) Leftover() []string {
	if so == nil {
		return nil
	}
	out := make([]string, 0, len(so.modeAdds))
	for p := range so.modeAdds {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
