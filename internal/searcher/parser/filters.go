package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dayLayout = "2006-01-02"
	dayMs     = int64(24 * time.Hour / time.Millisecond)
)

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// parseScore accepts N, >N, <N and MIN..MAX with integer bounds.
func parseScore(v string) (Range, bool) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasPrefix(v, ">"):
		n, err := strconv.ParseInt(v[1:], 10, 64)
		if err != nil {
			return Range{}, false
		}
		return Range{Op: OpGreater, Min: n, HasMin: true, MaxInclusive: true}, true
	case strings.HasPrefix(v, "<"):
		n, err := strconv.ParseInt(v[1:], 10, 64)
		if err != nil {
			return Range{}, false
		}
		return Range{Op: OpLess, Max: n, HasMax: true, MinInclusive: true}, true
	case strings.Contains(v, ".."):
		lo, hi, _ := strings.Cut(v, "..")
		lower, err := strconv.ParseInt(lo, 10, 64)
		if err != nil {
			return Range{}, false
		}
		upper, err := strconv.ParseInt(hi, 10, 64)
		if err != nil || lower > upper {
			return Range{}, false
		}
		return Range{Op: OpRange, Min: lower, Max: upper, HasMin: true, HasMax: true, MinInclusive: true, MaxInclusive: true}, true
	default:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Range{}, false
		}
		return Range{Op: OpRange, Min: n, Max: n, HasMin: true, HasMax: true, MinInclusive: true, MaxInclusive: true}, true
	}
}

// parseDay returns the UTC millisecond interval covering a calendar day.
// time.Parse rejects days outside the month, so 2025-02-31 fails.
func parseDay(s string) (start, end int64, ok bool) {
	if !dayPattern.MatchString(s) {
		return 0, 0, false
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return 0, 0, false
	}
	start = t.UnixMilli()
	return start, start + dayMs - 1, true
}

// parseDate accepts D, >D, <D and START..END with either side omitted.
// > uses the end of D and < the start of D, each exclusive on that bound
// only.
func parseDate(v string) (Range, bool) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasPrefix(v, ">"):
		_, end, ok := parseDay(v[1:])
		if !ok {
			return Range{}, false
		}
		return Range{Op: OpGreater, Min: end, HasMin: true, MaxInclusive: true}, true
	case strings.HasPrefix(v, "<"):
		start, _, ok := parseDay(v[1:])
		if !ok {
			return Range{}, false
		}
		return Range{Op: OpLess, Max: start, HasMax: true, MinInclusive: true}, true
	case strings.Contains(v, ".."):
		lo, hi, _ := strings.Cut(v, "..")
		if lo == "" && hi == "" {
			return Range{}, false
		}
		r := Range{Op: OpRange, MinInclusive: true, MaxInclusive: true}
		if lo != "" {
			start, _, ok := parseDay(lo)
			if !ok {
				return Range{}, false
			}
			r.Min, r.HasMin = start, true
		}
		if hi != "" {
			_, end, ok := parseDay(hi)
			if !ok {
				return Range{}, false
			}
			r.Max, r.HasMax = end, true
		}
		if r.HasMin && r.HasMax && r.Min > r.Max {
			return Range{}, false
		}
		return r, true
	default:
		start, end, ok := parseDay(v)
		if !ok {
			return Range{}, false
		}
		return Range{Op: OpRange, Min: start, Max: end, HasMin: true, HasMax: true, MinInclusive: true, MaxInclusive: true}, true
	}
}

func formatDay(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(dayLayout)
}

func formatScore(r Range) string {
	switch r.Op {
	case OpGreater:
		return ">" + strconv.FormatInt(r.Min, 10)
	case OpLess:
		return "<" + strconv.FormatInt(r.Max, 10)
	}
	if r.Min == r.Max {
		return strconv.FormatInt(r.Min, 10)
	}
	return strconv.FormatInt(r.Min, 10) + ".." + strconv.FormatInt(r.Max, 10)
}

func formatDate(r Range) string {
	switch r.Op {
	case OpGreater:
		return ">" + formatDay(r.Min)
	case OpLess:
		return "<" + formatDay(r.Max)
	}
	if r.HasMin && r.HasMax && r.Max-r.Min == dayMs-1 {
		return formatDay(r.Min)
	}
	var lo, hi string
	if r.HasMin {
		lo = formatDay(r.Min)
	}
	if r.HasMax {
		hi = formatDay(r.Max)
	}
	return lo + ".." + hi
}

// YearRange returns the inclusive UTC interval covering a calendar year.
func YearRange(year int) Range {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1
	return Range{Op: OpRange, Min: start, Max: end, HasMin: true, HasMax: true, MinInclusive: true, MaxInclusive: true}
}
