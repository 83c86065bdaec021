package eios

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"eios-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const dayMilliseconds = 86_400_000

// postCallback posts the full accumulated protocol state plus one
// callback id/parameter pair, the way the ASPxScheduler's AJAX
// transport does it.
func (c *Client) postCallback(ctx context.Context, state SessionState, param string) (*resty.Response, error) {
	form := make(map[string]string, len(state)+2)
	for name, value := range state {
		form[name] = value
	}
	form["__CALLBACKID"] = callbackTarget
	form["__CALLBACKPARAM"] = param

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("referer", c.scheduleUrl).
		SetFormData(form).
		Post(c.scheduleUrl)
	if err != nil {
		return nil, &NetworkError{Op: "scheduler callback", Err: err}
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		return nil, ErrAuthentication
	}
	if !res.IsSuccess() {
		return nil, &NetworkError{Op: "scheduler callback", StatusCode: res.StatusCode()}
	}
	return res, nil
}

var viewStateRegex = regexp.MustCompile(`'__VIEWSTATE'\s*:\s*'([^']*)'`)

// callback payloads are not markup, the evolving view state comes back
// as a quoted key/value pair embedded in script text instead of a
// hidden input. it has to be carried into the next post or the
// scheduler forgets which view it is in.
func updateStateFromPayload(state SessionState, payload string) {
	groups := viewStateRegex.FindStringSubmatch(payload)
	if len(groups) < 2 {
		return
	}
	state["__VIEWSTATE"] = groups[1]
}

// SelectDayView switches the scheduler to day granularity. The day view
// is the only one that carries teacher names, which is why the pipeline
// always goes through it.
func (c *Client) SelectDayView(ctx context.Context, state SessionState) error {
	ctx, span := tracer.Start(ctx, "client:SelectDayView")
	defer span.End()

	res, err := c.postCallback(ctx, state, "c0:SAVT|Day")
	if err != nil {
		span.SetStatus(codes.Error, "failed to switch to day view")
		return err
	}

	updateStateFromPayload(state, res.String())
	return nil
}

var visibleDaysRegex = regexp.MustCompile(`'visibleDays'\s*:\s*'([^']+)'`)

// NavigateToDate jumps the day view to the target date and returns the
// raw callback payload carrying that day's agenda. The scheduler's
// navigation parameter is a millisecond window:
// (end),(start),(day length),null.
func (c *Client) NavigateToDate(ctx context.Context, state SessionState, target time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "client:NavigateToDate")
	defer span.End()

	start := timezone.Midnight(target)
	startMs := start.UnixMilli()
	param := fmt.Sprintf(
		"c0:MOREBTN|%d,%d,%d,null",
		startMs+dayMilliseconds, startMs, dayMilliseconds,
	)

	res, err := c.postCallback(ctx, state, param)
	if err != nil {
		span.SetStatus(codes.Error, "failed to navigate to date")
		return "", err
	}
	payload := res.String()
	updateStateFromPayload(state, payload)

	// the portal reports the date it actually landed on as D/M/Y
	expected := fmt.Sprintf("%d/%d/%d", start.Day(), int(start.Month()), start.Year())
	groups := visibleDaysRegex.FindStringSubmatch(payload)
	if len(groups) >= 2 && groups[1] != expected {
		// tolerated: the pipeline still decodes whatever came back,
		// see the date fields on the decoded events
		slog.WarnContext(
			ctx, "navigation landed on an unexpected date",
			"expected", expected,
			"visible", groups[1],
		)
		span.AddEvent("visible date mismatch")
	}

	return payload, nil
}
