package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeDate = regexp.MustCompile(`^(\d+)([dwmy])\s*ago$`)
	monthDay     = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})$`)
	fullDate     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// ParseUploadDate reads the upload date shown next to a video relative to
// now. It understands "3d ago" style offsets (months are 30 days and years
// 365), "4-25" month-day dates in the most recent past year and full
// "2024-12-23" dates. It reports false for anything else.
func ParseUploadDate(text string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, false
	}

	if m := relativeDate.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		days := map[string]int{"d": 1, "w": 7, "m": 30, "y": 365}[m[2]]
		return now.AddDate(0, 0, -n*days), true
	}

	if m := monthDay.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		t, ok := civilDate(now.Year(), month, day, now.Location())
		if !ok {
			return time.Time{}, false
		}
		if t.After(now) {
			return civilDate(now.Year()-1, month, day, now.Location())
		}
		return t, true
	}

	if m := fullDate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return civilDate(year, month, day, now.Location())
	}
	return time.Time{}, false
}

// civilDate rejects dates that time.Date would normalize, such as Feb 30.
func civilDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
