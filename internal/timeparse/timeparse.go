// Package timeparse turns relative time phrases ("last 24 hours",
// "yesterday", "this month") into inclusive time windows.
package timeparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is an inclusive [Start, End] range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// maxUnits bounds N in "last N hours/days/weeks" so the window stays
// representable.
const maxUnits = 100000

type builder func(now time.Time, match []string) Window

type rule struct {
	name    string
	pattern *regexp.Regexp
	build   builder
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{
		name:    "last_n_hours",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+hours?\b`),
		build: func(now time.Time, m []string) Window {
			return Window{Start: now.Add(-time.Duration(atoi(m[1])) * time.Hour), End: now}
		},
	},
	{
		name:    "last_n_days",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+days?\b`),
		build: func(now time.Time, m []string) Window {
			return Window{Start: now.AddDate(0, 0, -atoi(m[1])), End: now}
		},
	},
	{
		name:    "last_n_weeks",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+weeks?\b`),
		build: func(now time.Time, m []string) Window {
			return Window{Start: now.AddDate(0, 0, -7*atoi(m[1])), End: now}
		},
	},
	{
		name:    "last_hour",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past)\s+hour\b`),
		build: func(now time.Time, _ []string) Window {
			return Window{Start: now.Add(-time.Hour), End: now}
		},
	},
	{
		name:    "today",
		pattern: regexp.MustCompile(`(?i)\btoday\b`),
		build: func(now time.Time, _ []string) Window {
			return Window{Start: midnight(now), End: now}
		},
	},
	{
		name:    "yesterday",
		pattern: regexp.MustCompile(`(?i)\byesterday\b`),
		build: func(now time.Time, _ []string) Window {
			start := midnight(now).AddDate(0, 0, -1)
			return Window{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Nanosecond)}
		},
	},
	{
		name:    "this_week",
		pattern: regexp.MustCompile(`(?i)\bthis\s+week\b`),
		build: func(now time.Time, _ []string) Window {
			offset := (int(now.Weekday()) + 6) % 7
			return Window{Start: midnight(now).AddDate(0, 0, -offset), End: now}
		},
	},
	{
		name:    "last_week",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+week\b`),
		build: func(now time.Time, _ []string) Window {
			return Window{Start: now.AddDate(0, 0, -7), End: now}
		},
	},
	{
		name:    "this_month",
		pattern: regexp.MustCompile(`(?i)\bthis\s+month\b`),
		build: func(now time.Time, _ []string) Window {
			return Window{Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), End: now}
		},
	},
	{
		name:    "last_month",
		pattern: regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+month\b`),
		build: func(now time.Time, _ []string) Window {
			return Window{Start: now.AddDate(0, 0, -30), End: now}
		},
	},
}

// Parser resolves relative phrases against Now. A zero Parser uses time.Now.
type Parser struct {
	Now func() time.Time
}

func New() *Parser {
	return &Parser{Now: time.Now}
}

// Parse returns text with the first recognised time phrase removed and
// whitespace collapsed, plus the window it denotes. The window is nil when
// no phrase matches, in which case text is returned unchanged.
func (p *Parser) Parse(text string) (string, *Window) {
	for _, r := range rules {
		loc := r.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		match := make([]string, len(loc)/2)
		for i := range match {
			if loc[2*i] >= 0 {
				match[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		window := r.build(p.now(), match)
		cleaned := strings.Join(strings.Fields(text[:loc[0]]+" "+text[loc[1]:]), " ")
		return cleaned, &window
	}
	return text, nil
}

// Match reports the name of the rule that would fire for text.
func (p *Parser) Match(text string) (string, bool) {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.name, true
		}
	}
	return "", false
}

func (p *Parser) now() time.Time {
	if p == nil || p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// atoi parses a digit run, clamping it to maxUnits.
func atoi(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return maxUnits
		}
		return 0
	}
	return min(n, maxUnits)
}
