package timeparse

import (
	"testing"
	"time"
)

// Wednesday.
var fixedNow = time.Date(2024, time.March, 13, 15, 30, 0, 0, time.UTC)

func newTestParser() *Parser {
	return &Parser{Now: func() time.Time { return fixedNow }}
}

func TestParseRelativeSpans(t *testing.T) {
	p := newTestParser()
	cases := []struct {
		text     string
		duration time.Duration
		cleaned  string
	}{
		{"show temperature for the last 24 hours", 24 * time.Hour, "show temperature for the"},
		{"readings past 3 days", 72 * time.Hour, "readings"},
		{"alerts in the last 2 weeks", 14 * 24 * time.Hour, "alerts in the"},
		{"signals from the past hour", time.Hour, "signals from the"},
		{"alerts last week", 7 * 24 * time.Hour, "alerts"},
		{"alerts previous month", 30 * 24 * time.Hour, "alerts"},
	}
	for _, tc := range cases {
		cleaned, window := p.Parse(tc.text)
		if window == nil {
			t.Fatalf("Parse(%q) window = nil", tc.text)
		}
		if window.Duration() != tc.duration {
			t.Fatalf("Parse(%q) duration = %s, want %s", tc.text, window.Duration(), tc.duration)
		}
		if !window.End.Equal(fixedNow) {
			t.Fatalf("Parse(%q) end = %s", tc.text, window.End)
		}
		if cleaned != tc.cleaned {
			t.Fatalf("Parse(%q) cleaned = %q, want %q", tc.text, cleaned, tc.cleaned)
		}
	}
}

func TestParseYesterdayIsOneCalendarDay(t *testing.T) {
	cleaned, window := newTestParser().Parse("show me alerts from yesterday")
	if window == nil {
		t.Fatal("window = nil")
	}
	wantStart := time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)
	if !window.Start.Equal(wantStart) {
		t.Fatalf("Start = %s, want %s", window.Start, wantStart)
	}
	if window.End.YearDay() != window.Start.YearDay() {
		t.Fatalf("End %s is not on the same day as Start %s", window.End, window.Start)
	}
	if window.End.Hour() != 23 || window.End.Minute() != 59 || window.End.Second() != 59 {
		t.Fatalf("End = %s", window.End)
	}
	if cleaned != "show me alerts from" {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestParseCalendarAnchors(t *testing.T) {
	p := newTestParser()

	_, today := p.Parse("alerts today")
	if today == nil || !today.Start.Equal(time.Date(2024, time.March, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("today = %+v", today)
	}

	_, week := p.Parse("alerts this week")
	if week == nil || !week.Start.Equal(time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("this week = %+v", week)
	}
	if week.Start.Weekday() != time.Monday {
		t.Fatalf("this week starts on %s", week.Start.Weekday())
	}

	_, month := p.Parse("alerts this month")
	if month == nil || !month.Start.Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("this month = %+v", month)
	}
}

func TestParseThisWeekOnSunday(t *testing.T) {
	sunday := time.Date(2024, time.March, 17, 10, 0, 0, 0, time.UTC)
	p := &Parser{Now: func() time.Time { return sunday }}
	_, window := p.Parse("this week")
	if window == nil || !window.Start.Equal(time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window = %+v", window)
	}
}

func TestParseFirstRuleWins(t *testing.T) {
	cleaned, window := newTestParser().Parse("last 2 hours and yesterday")
	if window == nil || window.Duration() != 2*time.Hour {
		t.Fatalf("window = %+v", window)
	}
	if cleaned != "and yesterday" {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestParseNoMatch(t *testing.T) {
	text := "count   total signals"
	cleaned, window := newTestParser().Parse(text)
	if window != nil {
		t.Fatalf("window = %+v, want nil", window)
	}
	if cleaned != text {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	_, window := newTestParser().Parse("Alerts From YESTERDAY")
	if window == nil {
		t.Fatal("window = nil")
	}
}

func TestMatch(t *testing.T) {
	name, ok := newTestParser().Match("the past 5 days")
	if !ok || name != "last_n_days" {
		t.Fatalf("Match() = %q, %v", name, ok)
	}
	if _, ok := newTestParser().Match("whenever"); ok {
		t.Fatal("Match(whenever) should not match")
	}
}

func TestZeroParserUsesWallClock(t *testing.T) {
	var p Parser
	before := time.Now()
	_, window := p.Parse("today")
	if window == nil || window.End.Before(before) {
		t.Fatalf("window = %+v", window)
	}
}

func TestParseClampsHugeCounts(t *testing.T) {
	p := newTestParser()
	for _, text := range []string{
		"readings last 9999999 hours",
		"readings last 99999999999999999999999 hours",
	} {
		_, window := p.Parse(text)
		if window == nil {
			t.Fatalf("Parse(%q) window = nil", text)
		}
		if got, want := window.Duration(), maxUnits*time.Hour; got != want {
			t.Fatalf("Parse(%q) duration = %s, want %s", text, got, want)
		}
	}

	_, window := p.Parse("readings last 99999999999999999999999 days")
	if want := fixedNow.AddDate(0, 0, -maxUnits); !window.Start.Equal(want) {
		t.Fatalf("Parse() start = %s, want %s", window.Start, want)
	}
}
