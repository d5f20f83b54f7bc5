package generate

import (
	"errors"
	"regexp"
	"strings"
)

var (
	nameRe = regexp.MustCompile(`(?im)^\s*name:\s*(\S+)\s*$`)
	descRe = regexp.MustCompile(`(?im)^\s*description:\s*(.+?)\s*$`)
	codeRe = regexp.MustCompile("(?s)```(?:lua)?[ \t]*\n(.*?)```")
	slugRe = regexp.MustCompile(`[^a-z0-9-]+`)
)

// ErrNoCode means the model response contained nothing resembling a handler.
var ErrNoCode = errors.New("response contains no code")

// ParseCandidate extracts a candidate from a model response. Models drift
// from the requested format, so missing name and description fall back to
// heuristics; missing code is an error.
func ParseCandidate(text string) (Candidate, error) {
	var c Candidate

	if m := codeRe.FindStringSubmatch(text); m != nil {
		c.Source = strings.TrimSpace(m[1])
	} else if strings.Contains(text, "function run(") {
		// No fence at all; treat the whole response as code.
		c.Source = strings.TrimSpace(text)
	}
	if c.Source == "" {
		return Candidate{}, ErrNoCode
	}

	if m := nameRe.FindStringSubmatch(text); m != nil {
		c.Name = slugify(m[1])
	}
	if m := descRe.FindStringSubmatch(text); m != nil {
		c.Description = m[1]
	}
	if c.Name == "" {
		c.Name = guessName(c.Description)
	}
	return c, nil
}

// guessName derives a command name from the description's first word.
func guessName(description string) string {
	fields := strings.Fields(description)
	if len(fields) > 0 {
		if name := slugify(fields[0]); name != "" {
			return name
		}
	}
	return "command"
}

func slugify(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
