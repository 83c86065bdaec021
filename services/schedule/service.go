package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"eios-backend/lib/schedcache"
	"eios-backend/lib/scrapers/eios"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// fetcher pulls one day of events from the portal.
type fetcher interface {
	FetchDay(ctx context.Context, date time.Time) ([]eios.ScheduleEvent, error)
	Close()
}

// Service answers schedule queries for a single user: cache first,
// portal scrape on miss. Portal and credential failures surface to
// the caller, cache failures never do.
type Service struct {
	gateway *CredentialsGateway
	cache   *schedcache.Cache[[]eios.ScheduleEvent]

	portalBaseUrl string
	cacheTtl      time.Duration
	preloadDelay  time.Duration

	mu    sync.Mutex
	fetch fetcher
}

type ServiceOptions struct {
	Gateway *CredentialsGateway
	Cache   *schedcache.Cache[[]eios.ScheduleEvent]
	// base url of the school portal
	PortalBaseUrl string
	// how long cached days stay valid, zero means forever
	CacheTtl time.Duration
	// pause between preload dispatches, keeps the portal from
	// seeing a burst of parallel sessions
	PreloadDelay time.Duration
}

func NewService(opts ServiceOptions) *Service {
	preloadDelay := opts.PreloadDelay
	if preloadDelay == 0 {
		preloadDelay = time.Second
	}
	return &Service{
		gateway:       opts.Gateway,
		cache:         opts.Cache,
		portalBaseUrl: opts.PortalBaseUrl,
		cacheTtl:      opts.CacheTtl,
		preloadDelay:  preloadDelay,
	}
}

// portalFetcher runs the full scrape pipeline against a live portal
// session.
type portalFetcher struct {
	client *eios.Client
}

func (f portalFetcher) FetchDay(ctx context.Context, date time.Time) ([]eios.ScheduleEvent, error) {
	state, err := f.client.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	err = f.client.SelectDayView(ctx, state)
	if err != nil {
		return nil, err
	}
	payload, err := f.client.NavigateToDate(ctx, state, date)
	if err != nil {
		return nil, err
	}
	return eios.Decode(payload), nil
}

func (f portalFetcher) Close() {}

func (s *Service) getFetcher(ctx context.Context) (fetcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetch != nil {
		return s.fetch, nil
	}

	creds, err := s.gateway.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := eios.ClientOptions{
		BaseUrl:  s.portalBaseUrl,
		Username: creds.Username,
		Password: creds.Password,
		PlanId:   creds.PlanId,
	}
	if opts.PlanId == "" {
		// profile-page fallback, costs one extra authenticated fetch
		opts.PlanId, err = eios.FetchPlanId(ctx, opts)
		if err != nil {
			return nil, err
		}
	}
	client, err := eios.NewClient(opts)
	if err != nil {
		return nil, err
	}
	s.fetch = portalFetcher{client: client}
	return s.fetch, nil
}

// GetDay returns the events for a single date, sorted by start time.
// forceRefresh skips the cache read but still refreshes the cache
// with whatever the portal returned.
func (s *Service) GetDay(ctx context.Context, date time.Time, forceRefresh bool) ([]eios.ScheduleEvent, error) {
	ctx, span := tracer.Start(ctx, "GetDay")
	defer span.End()
	span.SetAttributes(
		attribute.String("date", date.Format(schedcache.DateFormat)),
		attribute.Bool("force_refresh", forceRefresh),
	)

	if !forceRefresh {
		cached, hit, err := s.cache.Get(ctx, date)
		if err != nil {
			slog.WarnContext(ctx, "cache lookup failed", "err", err)
		}
		if hit {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached, nil
		}
	}

	fetch, err := s.getFetcher(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not reach the portal")
		return nil, err
	}
	events, err := fetch.FetchDay(ctx, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch schedule")
		return nil, err
	}

	slices.SortStableFunc(events, func(a, b eios.ScheduleEvent) int {
		return startMinutes(a.StartTime) - startMinutes(b.StartTime)
	})

	err = s.cache.Save(ctx, date, events, s.cacheTtl)
	if err != nil {
		slog.WarnContext(ctx, "failed to cache schedule", "err", err)
	}
	return events, nil
}

// startMinutes turns "9:05" into minutes since midnight, unparseable
// times sort first.
func startMinutes(t string) int {
	hour, minute, ok := strings.Cut(t, ":")
	if !ok {
		return -1
	}
	h, err := strconv.Atoi(hour)
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(minute)
	if err != nil {
		return -1
	}
	return h*60 + m
}

// DaySchedule is one entry of a week query.
type DaySchedule struct {
	Date   string               `json:"date"`
	Events []eios.ScheduleEvent `json:"events"`
}

// GetWeek returns seven consecutive days starting at start. A day
// that fails to fetch comes back with an empty event list rather
// than failing the whole week, unless the failure is an auth or
// missing-credentials one, which would fail every day anyway.
func (s *Service) GetWeek(ctx context.Context, start time.Time, forceRefresh bool) ([]DaySchedule, error) {
	ctx, span := tracer.Start(ctx, "GetWeek")
	defer span.End()

	week := make([]DaySchedule, 0, 7)
	for i := 0; i < 7; i++ {
		date := start.AddDate(0, 0, i)
		events, err := s.GetDay(ctx, date, forceRefresh)
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			slog.WarnContext(
				ctx, "failed to fetch day, returning it empty",
				"date", date.Format(schedcache.DateFormat), "err", err,
			)
			events = []eios.ScheduleEvent{}
		}
		if events == nil {
			events = []eios.ScheduleEvent{}
		}
		week = append(week, DaySchedule{
			Date:   date.Format(schedcache.DateFormat),
			Events: events,
		})
	}
	return week, nil
}

func isFatal(err error) bool {
	return errors.Is(err, eios.ErrAuthentication) || errors.Is(err, ErrNoCredentials)
}

// PreloadRange warms the cache for every date in [start, end],
// inclusive. Already-cached days are skipped, fetches run in the
// background with a fixed delay between dispatches, and individual
// failures are only logged. Returns the number of fetches dispatched.
func (s *Service) PreloadRange(ctx context.Context, start, end time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "PreloadRange")
	defer span.End()

	if end.Before(start) {
		return 0, fmt.Errorf("preload range ends before it starts")
	}

	var dates []time.Time
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		_, hit, err := s.cache.Get(ctx, date)
		if err != nil {
			slog.WarnContext(ctx, "cache lookup failed", "err", err)
		}
		if !hit {
			dates = append(dates, date)
		}
	}

	// the spacing between dispatches belongs to the background, the
	// caller only waits for the count
	go func() {
		ctx := context.WithoutCancel(ctx)
		var wg sync.WaitGroup
		for _, date := range dates {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.GetDay(ctx, date, true)
				if err != nil {
					slog.WarnContext(
						ctx, "preload fetch failed",
						"date", date.Format(schedcache.DateFormat), "err", err,
					)
				}
			}()
			time.Sleep(s.preloadDelay)
		}
		wg.Wait()
		slog.InfoContext(ctx, "preload finished", "dispatched", len(dates))
	}()

	return len(dates), nil
}

// resetFetcher drops the live portal session so the next fetch builds
// a fresh one, used after the stored credentials change.
func (s *Service) resetFetcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetch != nil {
		s.fetch.Close()
		s.fetch = nil
	}
}

// ClearCache drops every cached day for this user.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetch != nil {
		s.fetch.Close()
		s.fetch = nil
	}
	if s.gateway != nil {
		s.gateway.Clear()
	}
}
