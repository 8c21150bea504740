package snapshot

import (
	"regexp"
	"time"
)

// canonicalDatePattern matches a directory name that is exactly a
// canonical YYYY-MM-DD date bucket.
var canonicalDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsCanonicalDateDir reports whether name is exactly a YYYY-MM-DD date
// bucket name and a valid calendar date.
func IsCanonicalDateDir(name string) bool {
	if !canonicalDatePattern.MatchString(name) {
		return false
	}
	_, err := time.Parse("2006-01-02", name)
	return err == nil
}

// alternateFormats is the closed set of filename date formats accepted
// beyond the canonical form. Listed in a fixed order so resolution is deterministic
// when a string could (pathologically) match more than one pattern.
var alternateFormats = []struct {
	pattern *regexp.Regexp
	layout  string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{4}_\d{2}_\d{2}`), "2006_01_02"},
	{regexp.MustCompile(`\d{4}\.\d{2}\.\d{2}`), "2006.01.02"},
	{regexp.MustCompile(`\d{8}`), "20060102"},
}

// extractDate looks for one of the accepted alternate formats anywhere in
// s and returns the parsed date in canonical YYYY-MM-DD form. Anything
// outside this closed set is not recognized: a broader "supported" claim
// from looser filename-date heuristics was deliberately not carried
// forward here.
func extractDate(s string) (string, bool) {
	for _, f := range alternateFormats {
		match := f.pattern.FindString(s)
		if match == "" {
			continue
		}
		t, err := time.Parse(f.layout, match)
		if err != nil {
			continue
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}

// resolveDateBucket implements the three-step DateBucket derivation for a
// loose file, given its basename and today's local date.
func resolveDateBucket(basename string, today time.Time) string {
	if d, ok := extractDate(basename); ok {
		return d
	}
	return today.Format("2006-01-02")
}
