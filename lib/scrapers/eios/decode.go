package eios

import (
	"regexp"
	"strconv"
	"strings"
)

// The agenda rides inside a CreateAppointmentsViewInfos(...) call in
// the callback payload, with every quote escaped once by the AJAX
// transport and the record separator escaped twice more. A day-view
// record looks like:
//
//	[\'18123_0\',2,[\'Course\\r\\n-Details\\r\\n(пр: Teacher)\\r\\nGroup\',\'11:00\',\'12:20\',...
//
// so the literal separator between blob segments is `\\r\\n`.
var recordRegex = regexp.MustCompile(
	`(?s)\[\\'(\d+_\d+)\\',2,\[\\'(.*?)\\',\\'(\d{1,2}:\d{2})\\',\\'(\d{1,2}:\d{2})\\'`,
)

const blobSeparator = `\\r\\n`

var (
	teacherRegex     = regexp.MustCompile(`\(пр:\s*([^)]+)\)`)
	roomRegex        = regexp.MustCompile(`ауд\.?\s*(\d+)`)
	addressRegex     = regexp.MustCompile(`\(([^)]+)\)`)
	meetingLinkRegex = regexp.MustCompile(`https://(?:linguanet|my)\.mts-link\.ru/j/[^\s\\]+`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// classification keywords in priority order, first match wins
var eventTypeKeywords = []string{
	"Лекция",
	"Практическое занятие",
	"Семинар",
	"Лабораторная работа",
	"Консультация",
}

// Decode extracts every well-formed day-view record from a raw
// navigation payload. Malformed records are dropped without failing
// the batch, zero events is a valid outcome, not an error.
func Decode(payload string) []ScheduleEvent {
	day, month, year := decodeVisibleDate(payload)

	var events []ScheduleEvent
	for _, groups := range recordRegex.FindAllStringSubmatch(payload, -1) {
		segments := strings.Split(groups[2], blobSeparator)
		if len(segments) < 4 {
			// a record without all four segments carries no usable
			// agenda line, skip it and keep scanning
			continue
		}

		event := ScheduleEvent{
			CourseName: segments[0],
			StartTime:  groups[3],
			EndTime:    groups[4],
			Day:        day,
			Month:      month,
			Year:       year,
			StartDate:  formatStartDate(day, month, year),
		}

		details := strings.TrimSpace(strings.TrimPrefix(segments[1], "-"))
		normalizeDetails(details, &event)

		teacher := teacherRegex.FindStringSubmatch(segments[2])
		if len(teacher) >= 2 {
			event.Teacher = strings.TrimSpace(teacher[1])
		}

		event.Group, event.MeetingLink = decodeGroup(segments[3])

		events = append(events, event)
	}

	return events
}

// the shared calendar date of the whole batch comes from the
// 'visibleDays':'D/M/Y' marker, events only carry times. a payload
// without the marker decodes with zeroed date fields.
func decodeVisibleDate(payload string) (day, month, year int) {
	groups := visibleDaysRegex.FindStringSubmatch(payload)
	if len(groups) < 2 {
		return 0, 0, 0
	}
	parts := strings.Split(groups[1], "/")
	if len(parts) != 3 {
		return 0, 0, 0
	}
	day, _ = strconv.Atoi(parts[0])
	month, _ = strconv.Atoi(parts[1])
	year, _ = strconv.Atoi(parts[2])
	return day, month, year
}

// normalizeDetails classifies the free-text details blob into event
// type, room and address, e.g. "Лекция ауд.206 (Комсомольский пр-кт, д.6)".
func normalizeDetails(details string, event *ScheduleEvent) {
	for _, keyword := range eventTypeKeywords {
		if strings.Contains(details, keyword) {
			event.EventType = keyword
			break
		}
	}

	room := roomRegex.FindStringSubmatch(details)
	if len(room) >= 2 {
		event.Room = room[1]
	}

	address := addressRegex.FindStringSubmatch(details)
	if len(address) >= 2 {
		event.Address = address[1]
	}
}

// the last segment mixes group names with an optional online meeting
// link, pull the link out and tidy the leftovers
func decodeGroup(segment string) (group, meetingLink string) {
	meetingLink = meetingLinkRegex.FindString(segment)
	if meetingLink != "" {
		segment = strings.Replace(segment, meetingLink, "", 1)
	}
	group = whitespaceRegex.ReplaceAllString(segment, " ")
	group = strings.Trim(group, ", ")
	return group, meetingLink
}
