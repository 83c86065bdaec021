package eios

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func clockMinutes(t *testing.T, value string) int {
	t.Helper()
	hour, minute, ok := strings.Cut(value, ":")
	require.True(t, ok, "expected HH:MM, got %q", value)
	h, err := strconv.Atoi(hour)
	require.NoError(t, err)
	m, err := strconv.Atoi(minute)
	require.NoError(t, err)
	return h*60 + m
}

// a trimmed day-view navigation payload with one appointment, escaped
// exactly the way the AJAX transport returns it
const singleEventPayload = `0|/*DX*/({'id':1,'result':'{...}'});` +
	`'visibleDays':'6/3/2026';` +
	`CreateAppointmentsViewInfos([` +
	`[\'18123_0\',2,[\'English\\r\\n-Лекция ауд.206 (Комсомольский пр-кт, д.6)\\r\\n(пр: Иванов И.И.)\\r\\nГруппа1\',\'11:00\',\'12:20\',1],[new Date(2026,2,6)]]` +
	`])`

func TestDecodeSingleEvent(t *testing.T) {
	events := Decode(singleEventPayload)
	require.Len(t, events, 1)

	expected := ScheduleEvent{
		CourseName: "English",
		Teacher:    "Иванов И.И.",
		StartTime:  "11:00",
		EndTime:    "12:20",
		EventType:  "Лекция",
		Room:       "206",
		Address:    "Комсомольский пр-кт, д.6",
		Group:      "Группа1",
		Day:        6,
		Month:      3,
		Year:       2026,
		StartDate:  "6 марта 2026",
	}
	if diff := cmp.Diff(expected, events[0]); diff != "" {
		t.Fatalf("decoded event mismatch (-want +got):\n%s", diff)
	}
}

const multiEventPayload = `'visibleDays':'2/3/2026';CreateAppointmentsViewInfos([` +
	`[\'201_0\',2,[\'Философия\\r\\n-Семинар ауд.101 (Остоженка, д.38)\\r\\n(пр: Петрова А.А.)\\r\\nГруппа2\',\'14:30\',\'15:50\',1],[new Date(2026,2,2)]],` +
	`[\'202_0\',2,[\'История\\r\\n-Практическое занятие ауд.305 (Остоженка, д.38)\\r\\n\\r\\nГруппа2\',\'9:00\',\'10:20\',1],[new Date(2026,2,2)]]` +
	`])`

func TestDecodeAppearanceOrder(t *testing.T) {
	events := Decode(multiEventPayload)
	require.Len(t, events, 2)

	// textual appearance order, not chronological
	require.Equal(t, "Философия", events[0].CourseName)
	require.Equal(t, "История", events[1].CourseName)

	// single-digit hours decode too
	require.Equal(t, "9:00", events[1].StartTime)
	require.Equal(t, "", events[1].Teacher)
	require.Equal(t, "Практическое занятие", events[1].EventType)

	for _, event := range events {
		require.Less(t, clockMinutes(t, event.StartTime), clockMinutes(t, event.EndTime))
		require.Equal(t, 2, event.Day)
		require.Equal(t, 3, event.Month)
		require.Equal(t, 2026, event.Year)
	}
}

func TestDecodeMalformedRecordIsDropped(t *testing.T) {
	payload := `'visibleDays':'2/3/2026';CreateAppointmentsViewInfos([` +
		// only two blob segments, not a usable agenda line
		`[\'300_0\',2,[\'Обрывок\\r\\n-Лекция\',\'8:00\',\'9:20\',1],[new Date(2026,2,2)]],` +
		`[\'301_0\',2,[\'Физкультура\\r\\n-Практическое занятие\\r\\n\\r\\nГруппа3\',\'10:50\',\'12:10\',1],[new Date(2026,2,2)]]` +
		`])`

	events := Decode(payload)
	require.Len(t, events, 1)
	require.Equal(t, "Физкультура", events[0].CourseName)
}

func TestDecodeMissingVisibleDays(t *testing.T) {
	payload := `CreateAppointmentsViewInfos([` +
		`[\'400_0\',2,[\'Английский\\r\\n-Семинар ауд.12\\r\\n(пр: Сидоров В.В.)\\r\\nГруппа4\',\'11:00\',\'12:20\',1],[new Date(2026,2,2)]]` +
		`])`

	events := Decode(payload)
	require.Len(t, events, 1)
	require.Equal(t, 0, events[0].Day)
	require.Equal(t, 0, events[0].Month)
	require.Equal(t, 0, events[0].Year)
	require.Equal(t, "", events[0].StartDate)
}

func TestDecodeMeetingLink(t *testing.T) {
	payload := `'visibleDays':'4/3/2026';CreateAppointmentsViewInfos([` +
		`[\'500_0\',2,[\'Лексикология\\r\\n-Лекция Дистанционное занятие\\r\\n(пр: Козлова Е.Н.)\\r\\nГруппа5, https://my.mts-link.ru/j/12345678\',\'13:00\',\'14:20\',1],[new Date(2026,2,4)]]` +
		`])`

	events := Decode(payload)
	require.Len(t, events, 1)
	require.Equal(t, "https://my.mts-link.ru/j/12345678", events[0].MeetingLink)
	require.Equal(t, "Группа5", events[0].Group)
}

func TestDecodeEmptySchedule(t *testing.T) {
	require.Empty(t, Decode(`'visibleDays':'7/3/2026';CreateAppointmentsViewInfos([])`))
	require.Empty(t, Decode(""))
}
