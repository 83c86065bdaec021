package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eios-backend/lib/schedcache"
	"eios-backend/lib/scrapers/eios"
	"eios-backend/lib/timezone"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Server exposes the schedule service over plain JSON endpoints. Each
// authenticated user gets their own Service instance, kept warm in an
// expiring LRU so repeat queries reuse the portal session and fetched
// credentials.
type Server struct {
	opts     ServerOptions
	services *expirable.LRU[string, *Service]
}

type ServerOptions struct {
	// base url of the school portal
	PortalBaseUrl string
	// base url of the credential storage backend
	AuthBaseUrl string
	// nil when no remote cache backend is configured
	Remote schedcache.Backend
	Local  schedcache.Backend
	// zero means cached days never expire
	CacheTtl     time.Duration
	PreloadDelay time.Duration
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		opts: opts,
		services: expirable.NewLRU(
			2048,
			func(key string, svc *Service) { svc.Close() },
			time.Minute*15,
		),
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schedule/day", s.handleGetDay)
	mux.HandleFunc("GET /api/schedule/week", s.handleGetWeek)
	mux.HandleFunc("POST /api/schedule/preload", s.handlePreload)
	mux.HandleFunc("DELETE /api/schedule/cache", s.handleClearCache)
	mux.HandleFunc("GET /api/auth/check", s.handleCheckCredentials)
	mux.HandleFunc("POST /api/auth/credentials", s.handleStoreCredentials)
	mux.HandleFunc("DELETE /api/auth/credentials", s.handleDeleteCredentials)
}

// identityFromRequest pulls the signed init payload out of the
// Authorization header and extracts the stable user id embedded in
// it. The payload itself is verified downstream by the credential
// storage backend, this layer only needs the id for cache keying.
func identityFromRequest(r *http.Request) (userId string, initData string, err error) {
	scheme, payload, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || scheme != "tma" || payload == "" {
		return "", "", fmt.Errorf("missing init data")
	}

	fields, err := url.ParseQuery(payload)
	if err != nil {
		return "", "", fmt.Errorf("malformed init data: %w", err)
	}
	var user struct {
		Id int64 `json:"id"`
	}
	err = json.Unmarshal([]byte(fields.Get("user")), &user)
	if err != nil || user.Id == 0 {
		return "", "", fmt.Errorf("init data carries no user")
	}

	return fmt.Sprint(user.Id), payload, nil
}

func (s *Server) serviceFor(r *http.Request) (*Service, error) {
	userId, initData, err := identityFromRequest(r)
	if err != nil {
		return nil, err
	}

	svc, hit := s.services.Get(initData)
	if hit {
		return svc, nil
	}

	svc = NewService(ServiceOptions{
		Gateway: NewCredentialsGateway(CredentialsGatewayOptions{
			BaseUrl:  s.opts.AuthBaseUrl,
			InitData: initData,
		}),
		Cache: schedcache.New[[]eios.ScheduleEvent](
			fmt.Sprintf("schedule_%s_", userId),
			s.opts.Remote, s.opts.Local,
		),
		PortalBaseUrl: s.opts.PortalBaseUrl,
		CacheTtl:      s.opts.CacheTtl,
		PreloadDelay:  s.opts.PreloadDelay,
	})
	s.services.Add(initData, svc)
	return svc, nil
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoCredentials), errors.Is(err, eios.ErrAuthentication):
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	default:
		slog.WarnContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeJson(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func parseDate(value string) (time.Time, error) {
	date, err := time.ParseInLocation(schedcache.DateFormat, value, timezone.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected a YYYY-MM-DD date: %w", err)
	}
	return date, nil
}

func (s *Server) handleGetDay(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	dateParam := r.URL.Query().Get("date")
	var date time.Time
	if dateParam == "" {
		date = timezone.Midnight(timezone.Now())
	} else {
		date, err = parseDate(dateParam)
		if err != nil {
			writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	events, err := svc.GetDay(r.Context(), date, forceRefresh)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []eios.ScheduleEvent{}
	}
	writeJson(w, http.StatusOK, DaySchedule{
		Date:   date.Format(schedcache.DateFormat),
		Events: events,
	})
}

func (s *Server) handleGetWeek(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	startParam := r.URL.Query().Get("start_date")
	var start time.Time
	if startParam == "" {
		start, _ = timezone.GetCurrentWeek(timezone.Now())
	} else {
		start, err = parseDate(startParam)
		if err != nil {
			writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	week, err := svc.GetWeek(r.Context(), start, r.URL.Query().Get("force_refresh") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, week)
}

type preloadRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type preloadResponse struct {
	Dispatched int `json:"dispatched"`
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	var req preloadRequest
	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	dispatched, err := svc.PreloadRange(r.Context(), start, end)
	if err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJson(w, http.StatusOK, preloadResponse{Dispatched: dispatched})
}

type credentialStatus struct {
	HasCredentials bool `json:"has_credentials"`
}

func (s *Server) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	has, err := svc.gateway.Check(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, credentialStatus{HasCredentials: has})
}

func (s *Server) handleStoreCredentials(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	var creds Credentials
	err = json.NewDecoder(r.Body).Decode(&creds)
	if err != nil {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	err = svc.gateway.Store(r.Context(), creds)
	if errors.Is(err, ErrNoCredentials) {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	// a live portal session under the old pair is now stale
	svc.resetFetcher()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	err = svc.gateway.Delete(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	svc.resetFetcher()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	svc.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
