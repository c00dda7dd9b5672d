package resolve

import (
	"regexp"
	"strings"
)

// backrefPattern recognizes one free-text phrasing of an embedded
// back-reference and captures the referenced identifier. Patterns are
// evaluated in priority order; the first capture wins.
type backrefPattern struct {
	name string
	re   *regexp.Regexp
}

// backrefPatterns lists the accepted phrasings, newest first. The legacy
// phrasing is kept so records written by earlier releases still resolve.
var backrefPatterns = []backrefPattern{
	{name: "sync-ref", re: regexp.MustCompile(`(?mi)^\s*sync-ref:\s*([A-Za-z0-9][A-Za-z0-9._-]*)\s*$`)},
	{name: "synced-from", re: regexp.MustCompile(`(?mi)\bsynced from [a-z]+ issue\s+([A-Za-z0-9][A-Za-z0-9._-]*)`)},
}

// extractBackref scans free text for an embedded back-reference token and
// returns the captured identifier.
func extractBackref(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, p := range backrefPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// StripBackref removes embedded back-reference lines from free text, so
// content digests of a mirrored record compare against the original text
// rather than the text plus our own token.
func StripBackref(text string) string {
	for _, p := range backrefPatterns {
		text = p.re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// noisePrefix matches a leading bracketed priority or category tag such as
// "[P1]" or "[BUG]". Tags are stripped repeatedly: "[P1] [BUG] Fix x"
// normalizes to "fix x".
var noisePrefix = regexp.MustCompile(`^\s*\[[^\]]{1,16}\]\s*`)
