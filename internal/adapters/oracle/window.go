package oracle

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	monthRe = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})\b`)
	// "2:15AM-2:30AM", "2:15-2:30AM", "11:45AM-12PM"
	rangeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(AM|PM)?\s*-\s*(\d{1,2})(?::(\d{2}))?\s*(AM|PM)\b`)
	// "3PM ET": hourly window
	hourRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(AM|PM)\s*ET\b`)
)

// ParseWindow extracts the [start, end) observation window from a crypto
// "Up or Down" title expressed in loc (America/New_York). A single time
// ("January 5, 3PM ET") is a one-hour window starting at that time. year
// comes from the caller since titles omit it.
func ParseWindow(title string, year int, loc *time.Location) (start, end time.Time, ok bool) {
	dm := monthRe.FindStringSubmatch(title)
	if dm == nil {
		return time.Time{}, time.Time{}, false
	}
	month, ok := parseMonth(dm[1])
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	day, _ := strconv.Atoi(dm[2])
	if time.Date(year, month, day, 0, 0, 0, 0, loc).Day() != day {
		return time.Time{}, time.Time{}, false
	}

	if rm := rangeRe.FindStringSubmatch(title); rm != nil {
		endAMPM := rm[6]
		startAMPM := rm[3]
		if startAMPM == "" {
			startAMPM = endAMPM
		}
		sh, sm, ok1 := clock(rm[1], rm[2], startAMPM)
		eh, em, ok2 := clock(rm[4], rm[5], endAMPM)
		if !ok1 || !ok2 {
			return time.Time{}, time.Time{}, false
		}
		if rm[3] == "" && sh*60+sm >= eh*60+em {
			// "11:45-12:00PM": the start is in the other half of the day
			sh = (sh + 12) % 24
		}
		// wall clock in loc: a DST day is 23 or 25 hours long
		start = time.Date(year, month, day, sh, sm, 0, 0, loc)
		end = time.Date(year, month, day, eh, em, 0, 0, loc)
		if !end.After(start) {
			// 11:45PM-12:00AM crosses midnight
			end = time.Date(year, month, day+1, eh, em, 0, 0, loc)
		}
		return start, end, true
	}

	if hm := hourRe.FindStringSubmatch(title); hm != nil {
		h, m, ok := clock(hm[1], hm[2], hm[3])
		if !ok {
			return time.Time{}, time.Time{}, false
		}
		start = time.Date(year, month, day, h, m, 0, 0, loc)
		return start, time.Date(year, month, day, h+1, m, 0, 0, loc), true
	}
	return time.Time{}, time.Time{}, false
}

func clock(hour, minute, ampm string) (int, int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return 0, 0, false
	}
	m := 0
	if minute != "" {
		m, err = strconv.Atoi(minute)
		if err != nil || m > 59 {
			return 0, 0, false
		}
	}
	switch strings.ToUpper(ampm) {
	case "PM":
		if h != 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	default:
		return 0, 0, false
	}
	return h, m, true
}

func parseMonth(s string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), s) {
			return m, true
		}
	}
	return 0, false
}
