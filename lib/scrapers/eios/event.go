package eios

import "fmt"

// ScheduleEvent is one decoded calendar appointment. Times are "HH:MM"
// 24h strings, start_time < end_time. Day/Month/Year identify the
// calendar date shared by every event in a decode batch, the scheduler
// returns a single day's agenda per navigation.
type ScheduleEvent struct {
	CourseName  string `json:"course_name"`
	Teacher     string `json:"teacher"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	EventType   string `json:"event_type"`
	Room        string `json:"room"`
	Address     string `json:"address"`
	Group       string `json:"group"`
	MeetingLink string `json:"meeting_link"`
	Day         int    `json:"day"`
	Month       int    `json:"month"`
	Year        int    `json:"year"`
	StartDate   string `json:"start_date"`
}

var monthNames = map[int]string{
	1: "января", 2: "февраля", 3: "марта", 4: "апреля",
	5: "мая", 6: "июня", 7: "июля", 8: "августа",
	9: "сентября", 10: "октября", 11: "ноября", 12: "декабря",
}

// formatStartDate renders the localized long date the mini-app shows in
// headers, e.g. "6 марта 2026".
func formatStartDate(day, month, year int) string {
	name, ok := monthNames[month]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d %s %d", day, name, year)
}
