package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the normalized form every parsed date is reported in.
const TimestampLayout = "2006-01-02 15:04:05"

// rocOffset converts a Republic-of-China calendar year to Gregorian.
const rocOffset = 1911

var gregorianLayouts = []string{
	"2006/01/02 15:04",
	"2006/01/02",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Three-digit ROC year, slash-separated, optional HH:MM tail.
var rocDatePattern = regexp.MustCompile(`^(\d{3})/(\d{1,2})/(\d{1,2})(?:\s+(\d{1,2}):(\d{2}))?$`)

// ParseDate normalizes an upstream date string into a time.Time. Accepted
// inputs are Gregorian "YYYY/MM/DD[ HH:MM]", Gregorian ISO
// "YYYY-MM-DD[ HH:MM]", and the ROC variant "YYY/MM/DD[ HH:MM]" where the
// three-digit year needs a +1911 conversion. Missing hour and minute default
// to 00:00. Invalid calendar dates (Feb 30, month 13) report false rather
// than a silently wrong date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range gregorianLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}

	m := rocDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	year := atoi(m[1]) + rocOffset
	month := atoi(m[2])
	day := atoi(m[3])
	hour, minute := 0, 0
	if m[4] != "" {
		hour = atoi(m[4])
		minute = atoi(m[5])
	}

	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.Local)
	// time.Date normalizes out-of-range components (Feb 30 becomes Mar 2);
	// a round-trip mismatch means the input was not a real calendar date.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
