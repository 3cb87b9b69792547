package ids

import (
	"regexp"
	"strings"
	"unicode"
)

// stopWords and priorityWords mirror the filtering the teacher's own
// slug generator (internal/idgen/semantic.go in the source pack) applies
// before deriving a human-readable hint from a title. Overseer does not
// use slugs as primary keys (see internal/ids.New); no other package
// calls Slugify.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "of": true, "with": true, "by": true,
	"from": true, "as": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "this": true, "that": true,
}

var priorityWords = map[string]bool{
	"urgent": true, "critical": true, "blocker": true, "hotfix": true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
var multiUnderscore = regexp.MustCompile(`_+`)

const maxSlugLen = 46

// Slugify derives a short, lowercase, underscore-separated hint from a
// task title for use in log lines and CLI output. It never affects an
// entity's identifier.
func Slugify(title string) string {
	if title == "" {
		return "untitled"
	}
	s := nonAlnum.ReplaceAllString(strings.ToLower(title), " ")
	words := strings.Fields(s)
	filtered := words[:0:0]
	for _, w := range words {
		if !stopWords[w] && !priorityWords[w] {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 && len(words) > 0 {
		filtered = words[:1]
	}
	s = strings.Join(filtered, "_")
	if len(s) > 0 && !unicode.IsLetter(rune(s[0])) {
		s = "n" + s
	}
	if len(s) > maxSlugLen {
		truncated := s[:maxSlugLen]
		if last := strings.LastIndex(truncated, "_"); last > maxSlugLen/2 {
			truncated = truncated[:last]
		}
		s = truncated
	}
	if len(s) < 3 {
		s += strings.Repeat("x", 3-len(s))
	}
	s = strings.Trim(s, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	return s
}
