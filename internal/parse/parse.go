package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	slashRe = regexp.MustCompile(`/{2,}`)
)

// DefaultPath is the listing root used when a request omits the path.
const DefaultPath = "/storage/emulated/0"

// Path normalizes a device file path: trims whitespace, collapses repeated
// slashes and drops a trailing slash. An empty input yields DefaultPath.
func Path(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultPath, nil
	}
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("path must be absolute: %q", raw)
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path must not contain '..': %q", raw)
		}
	}

	s = slashRe.ReplaceAllString(s, "/")
	if len(s) > 1 {
		s = strings.TrimSuffix(s, "/")
	}
	return s, nil
}

// Command normalizes command text for table lookup: trimmed, inner
// whitespace collapsed to single spaces, lower-cased.
func Command(raw string) string {
	s := strings.TrimSpace(raw)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// Program returns the first word of a normalized command, used in "not found" messages.
func Program(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
