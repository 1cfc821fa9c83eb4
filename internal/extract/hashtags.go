package extract

import (
	"regexp"
	"sort"
	"strings"
)

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// Hashtags returns the distinct lowercase hashtags in text, without the
// leading marker, sorted.
func Hashtags(text string) []string {
	set := newTagSet()
	set.addText(text)
	return set.sorted()
}

type tagSet map[string]struct{}

func newTagSet() tagSet {
	return make(tagSet)
}

func (s tagSet) addText(text string) {
	if text == "" {
		return
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		s.add(m[1])
	}
}

// add inserts a bare tag name as found in structured data.
func (s tagSet) add(tag string) {
	tag = strings.ToLower(strings.TrimSpace(strings.TrimLeft(tag, "#")))
	if tag != "" {
		s[tag] = struct{}{}
	}
}

func (s tagSet) sorted() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
