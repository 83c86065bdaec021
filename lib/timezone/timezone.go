package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Moscow")
	if err != nil {
		panic(err)
	}
}

// force the timezone to be Moscow because the portal's scheduler
// computes visible days in its own local time, deployments in other
// regions would otherwise navigate to the wrong calendar date
func Now() time.Time {
	return time.Now().In(Location)
}

// Midnight truncates t to 00:00 of the same calendar day in the
// portal's timezone.
func Midnight(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// GetCurrentWeek returns midnight of monday and midnight of sunday
// of the week containing now. University timetables run monday-first.
func GetCurrentWeek(now time.Time) (time.Time, time.Time) {
	day := Midnight(now)
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}
