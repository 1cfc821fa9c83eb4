package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Policy selects one value among several candidates for the same field.
type Policy int

const (
	// PolicyMin keeps the smallest positive candidate. Used for like counts,
	// where nested fragments repeat inflated totals.
	PolicyMin Policy = iota
	// PolicyMax keeps the largest candidate. Used for counts that partial
	// sub-objects tend to under-report.
	PolicyMax
)

var (
	countExact = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)*)\s?([KMB])?$`)
	countToken = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)*(?:\s?[KMB])?\b`)
	groupedInt = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
)

// ParseCount parses a human-readable count such as "1.2K", "5M", "3B" or
// "1,024". Unparseable input reports false.
func ParseCount(s string) (int64, bool) {
	m := countExact.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	number, suffix := m[1], strings.ToUpper(m[2])
	switch {
	case groupedInt.MatchString(number) && suffix == "":
		number = strings.ReplaceAll(number, ",", "")
	case strings.Contains(number, ","):
		// decimal comma, as in "1,5K"
		number = strings.ReplaceAll(number, ",", ".")
	}
	if suffix == "" {
		if v, err := strconv.ParseInt(number, 10, 64); err == nil {
			return v, true
		}
	}
	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}
	switch suffix {
	case "K":
		f *= 1e3
	case "M":
		f *= 1e6
	case "B":
		f *= 1e9
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= math.MaxInt64 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// FirstCount returns the first count-looking token inside free text, such as
// "12.5K likes".
func FirstCount(text string) (int64, bool) {
	for _, tok := range countToken.FindAllString(text, -1) {
		if v, ok := ParseCount(tok); ok {
			return v, true
		}
	}
	return 0, false
}

// Aggregate reduces candidate values to one according to policy. Negative
// candidates are ignored. It reports false when nothing usable remains.
func Aggregate(policy Policy, candidates []int64) (int64, bool) {
	seen := make(map[int64]struct{}, len(candidates))
	var best int64
	found := false
	for _, v := range candidates {
		if v < 0 {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		switch {
		case !found:
			best, found = v, true
		case policy == PolicyMax && v > best:
			best = v
		case policy == PolicyMin && (best == 0 || (v > 0 && v < best)):
			best = v
		}
	}
	return best, found
}
