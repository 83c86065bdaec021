package eios

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"eios-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	schedulePath = "/_layouts/sinc/ia/v1.0/pages/MySchedule.aspx"
	profilePath  = "/_layouts/sinc/ia/v1.0/pages/MyStudentProfile.aspx"

	// the ASPxScheduler control id every callback post addresses
	callbackTarget = "ctl00$PlaceHolderMain$_scheduler_ASPxScheduler"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// SessionState is the accumulated protocol-state map: hidden form
// fields harvested from the full calendar page, selectively overwritten
// with tokens re-extracted from callback payloads. It lives for one
// fetch pipeline and is never reused across pipelines.
type SessionState map[string]string

type Client struct {
	http        *resty.Client
	scheduleUrl string
}

type ClientOptions struct {
	BaseUrl  string
	Username string
	Password string
	// the student's base_plan_ids query value, see FetchPlanId
	PlanId string
	// zero defaults to 30s
	Timeout time.Duration
}

func newHttpClient(opts ClientOptions) (*resty.Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", userAgent)
	client.SetBasicAuth(opts.Username, opts.Password)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return client, nil
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.PlanId == "" {
		return nil, fmt.Errorf("a plan id is required to address the calendar")
	}
	client, err := newHttpClient(opts)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("base_plan_ids", opts.PlanId)

	return &Client{
		http:        client,
		scheduleUrl: fmt.Sprintf("%s?%s", schedulePath, query.Encode()),
	}, nil
}

var planIdRegex = regexp.MustCompile(`base_plan_ids=(\d+)`)

// FetchPlanId scrapes the student profile page for the schedule link
// and pulls the base_plan_ids value out of its href. Used when saved
// credentials carry no plan id.
func FetchPlanId(ctx context.Context, opts ClientOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "FetchPlanId")
	defer span.End()

	client, err := newHttpClient(opts)
	if err != nil {
		return "", err
	}

	res, err := client.R().
		SetContext(ctx).
		Get(profilePath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch profile page")
		return "", &NetworkError{Op: "fetch profile", Err: err}
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		span.SetStatus(codes.Error, ErrAuthentication.Error())
		return "", ErrAuthentication
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "unexpected profile page status")
		return "", &NetworkError{Op: "fetch profile", StatusCode: res.StatusCode()}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse profile html")
		return "", err
	}

	planId := ""
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !strings.Contains(a.Text(), "Расписание") {
			return true
		}
		groups := planIdRegex.FindStringSubmatch(a.AttrOr("href", ""))
		if len(groups) < 2 {
			return true
		}
		planId = groups[1]
		return false
	})
	if planId == "" {
		span.SetStatus(codes.Error, "schedule link not found")
		return "", fmt.Errorf("could not find the schedule link on the profile page")
	}

	return planId, nil
}
