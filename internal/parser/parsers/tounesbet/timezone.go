package tounesbet

import (
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"
)

// SiteLocation is the wall clock the site prints kickoff times in.
var SiteLocation = loadSiteLocation()

func loadSiteLocation() *time.Location {
	loc, err := time.LoadLocation("Africa/Tunis")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

var (
	siteDateRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
	siteTimeRe = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}))?$`)
)

// LocalToUTC converts a site date (dd/mm/yyyy) and time (HH:MM or HH:MM:SS)
// to a UTC instant. The offset is computed at the naive instant and then
// recomputed at the corrected instant, which lands on the right side of a
// DST transition.
func LocalToUTC(date, clock string, loc *time.Location) (time.Time, bool) {
	dm := siteDateRe.FindStringSubmatch(date)
	tm := siteTimeRe.FindStringSubmatch(clock)
	if dm == nil || tm == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(dm[1])
	month, _ := strconv.Atoi(dm[2])
	year, _ := strconv.Atoi(dm[3])
	hh, _ := strconv.Atoi(tm[1])
	mi, _ := strconv.Atoi(tm[2])
	ss := 0
	if tm[3] != "" {
		ss, _ = strconv.Atoi(tm[3])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hh > 23 || mi > 59 || ss > 59 {
		return time.Time{}, false
	}

	naive := time.Date(year, time.Month(month), day, hh, mi, ss, 0, time.UTC)
	if naive.Day() != day || naive.Month() != time.Month(month) {
		return time.Time{}, false
	}
	utc1 := naive.Add(-offsetAt(naive, loc))
	utc2 := naive.Add(-offsetAt(utc1, loc))
	return utc2, true
}

func offsetAt(t time.Time, loc *time.Location) time.Duration {
	_, off := t.In(loc).Zone()
	return time.Duration(off) * time.Second
}
