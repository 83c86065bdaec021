package eios

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eios-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

const calendarPage = `<!DOCTYPE html>
<html><body>
<form method="post" id="aspnetForm">
<input type="hidden" name="__VIEWSTATE" value="state-v1" />
<input type="hidden" name="__VIEWSTATEGENERATOR" value="CA0B0334" />
<input type="hidden" name="__EVENTVALIDATION" value="ev-1" />
<input type="hidden" name="__EVENTTARGET" />
<div id="ctl00_PlaceHolderMain__scheduler_ASPxScheduler"></div>
</form>
</body></html>`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{
		BaseUrl:  server.URL,
		Username: "student",
		Password: "secret",
		PlanId:   "1001",
		Timeout:  time.Second * 5,
	})
	require.NoError(t, err)
	return client
}

func TestOpenSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "1001", r.URL.Query().Get("base_plan_ids"))

		username, password, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "student", username)
		require.Equal(t, "secret", password)

		w.Write([]byte(calendarPage))
	}))

	state, err := client.OpenSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, "state-v1", state["__VIEWSTATE"])
	require.Equal(t, "ev-1", state["__EVENTVALIDATION"])
	// hidden input without an explicit value defaults to ""
	value, found := state["__EVENTTARGET"]
	require.True(t, found)
	require.Equal(t, "", value)
}

func TestOpenSessionRejectedCredentials(t *testing.T) {
	for _, status := range []int{401, 403} {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := client.OpenSession(context.Background())
		require.ErrorIs(t, err, ErrAuthentication)
	}
}

func TestOpenSessionServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.OpenSession(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusBadGateway, netErr.StatusCode)
}

func TestSelectDayView(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, callbackTarget, r.PostForm.Get("__CALLBACKID"))
		require.Equal(t, "c0:SAVT|Day", r.PostForm.Get("__CALLBACKPARAM"))
		// the whole accumulated state is echoed back
		require.Equal(t, "state-v1", r.PostForm.Get("__VIEWSTATE"))

		fmt.Fprint(w, `0|/*DX*/({'result':'ok','__VIEWSTATE':'state-v2','visibleDays':'2/3/2026'})`)
	}))

	state := SessionState{"__VIEWSTATE": "state-v1"}
	err := client.SelectDayView(context.Background(), state)
	require.NoError(t, err)

	// the evolving token is overwritten in place
	require.Equal(t, "state-v2", state["__VIEWSTATE"])
}

func TestNavigateToDate(t *testing.T) {
	target := time.Date(2026, time.March, 6, 0, 0, 0, 0, timezone.Location)
	startMs := target.UnixMilli()
	expectedParam := fmt.Sprintf("c0:MOREBTN|%d,%d,%d,null", startMs+dayMilliseconds, startMs, dayMilliseconds)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, expectedParam, r.PostForm.Get("__CALLBACKPARAM"))

		fmt.Fprint(w, `'visibleDays':'6/3/2026';CreateAppointmentsViewInfos([])`)
	}))

	state := SessionState{"__VIEWSTATE": "state-v2"}
	payload, err := client.NavigateToDate(context.Background(), state, target)
	require.NoError(t, err)
	require.Contains(t, payload, "'visibleDays':'6/3/2026'")
}

// a reported visible date that disagrees with the request is logged
// but must not fail the pipeline
func TestNavigateToDateMismatchTolerated(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `'visibleDays':'7/3/2026';CreateAppointmentsViewInfos([])`)
	}))

	target := time.Date(2026, time.March, 6, 12, 0, 0, 0, timezone.Location)
	_, err := client.NavigateToDate(context.Background(), SessionState{}, target)
	require.NoError(t, err)
}

func TestFetchPlanId(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/pages/MyRecordBook.aspx">Зачетная книжка</a>
			<a href="/pages/MySchedule.aspx?base_plan_ids=3417">Расписание занятий</a>
		</body></html>`)
	}))
	defer server.Close()

	planId, err := FetchPlanId(context.Background(), ClientOptions{
		BaseUrl:  server.URL,
		Username: "student",
		Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "3417", planId)
}
