package eios

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenSession performs the initial authenticated fetch of the calendar
// page and harvests every hidden input into the protocol-state map.
// The scheduler will not answer callback posts that don't echo these
// fields back verbatim.
func (c *Client) OpenSession(ctx context.Context) (SessionState, error) {
	ctx, span := tracer.Start(ctx, "client:OpenSession")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		Get(c.scheduleUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch calendar page")
		return nil, &NetworkError{Op: "open session", Err: err}
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		span.SetStatus(codes.Error, ErrAuthentication.Error())
		return nil, ErrAuthentication
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "unexpected calendar page status")
		return nil, &NetworkError{Op: "open session", StatusCode: res.StatusCode()}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse calendar html")
		return nil, err
	}

	state := SessionState{}
	doc.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name, exists := input.Attr("name")
		if !exists {
			return
		}
		// inputs without an explicit value still get echoed back as ""
		state[name] = input.AttrOr("value", "")
	})

	span.SetAttributes(attribute.Int("hidden_fields", len(state)))
	return state, nil
}
