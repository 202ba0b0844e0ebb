package dispatcher

import (
	"fmt"
	"time"
)

// TimeOfDay is a local wall-clock time, e.g. 07:00.
type TimeOfDay struct {
	Hour, Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Next returns the first occurrence of t in loc strictly after now.
func (t TimeOfDay) Next(now time.Time, loc *time.Location) time.Time {
	lt := now.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), t.Hour, t.Minute, 0, 0, loc)
	if !next.After(lt) {
		next = time.Date(lt.Year(), lt.Month(), lt.Day()+1, t.Hour, t.Minute, 0, 0, loc)
	}
	return next
}
