package scoring

import (
	"fmt"
	"time"

	"competition-engine/models"
)

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// LocalDay is a calendar date in some zone, normalised to UTC midnight so that
// stepping by days is unaffected by DST.
type LocalDay time.Time

func DayOf(t time.Time, loc *time.Location) LocalDay {
	y, m, d := t.In(loc).Date()
	return LocalDay(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func (d LocalDay) AddDays(n int) LocalDay {
	return LocalDay(time.Time(d).AddDate(0, 0, n))
}

func (d LocalDay) String() string {
	return time.Time(d).Format(time.DateOnly)
}

// DaysBetween is the number of calendar days from a to b.
func DaysBetween(a, b LocalDay) int {
	return int(time.Time(b).Sub(time.Time(a)).Hours() / 24)
}

// InWindow reports whether t falls inside w, bounds inclusive, in the window's zone
// (or fallback when the window names none).
func InWindow(w *models.TimeWindow, t time.Time, fallback *time.Location) bool {
	if w == nil {
		return false
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false
	}
	loc := fallback
	if w.TZ != "" {
		loc = models.LoadLocation(w.TZ)
	}
	lo := time.Duration(start) * time.Minute
	hi := time.Duration(end) * time.Minute
	now := clockOf(t.In(loc))
	if lo <= hi {
		return now >= lo && now <= hi
	}
	return now >= lo || now <= hi
}

// clockOf is the wall-clock time of day of t, down to the nanosecond.
func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func IsWeekend(t time.Time, loc *time.Location) bool {
	switch t.In(loc).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// activeDays collects the local days on which any of events occurred.
func activeDays(events []models.CompetitionEvent, loc *time.Location) map[LocalDay]bool {
	days := make(map[LocalDay]bool, len(events))
	for _, e := range events {
		days[DayOf(e.TS, loc)] = true
	}
	return days
}

// StreakBefore counts consecutive active days immediately preceding day.
func StreakBefore(days map[LocalDay]bool, day LocalDay) int {
	n := 0
	for d := day.AddDays(-1); days[d]; d = d.AddDays(-1) {
		n++
	}
	return n
}
