package schedule

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var ErrNoCredentials = fmt.Errorf("no portal credentials are stored for this user")

// Credentials is a username/password pair for the school portal, plus
// the student's plan id when the storage backend has one on file. A
// missing plan id is not an error, it gets scraped off the profile
// page instead.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PlanId   string `json:"base_plan_id,omitempty"`
}

func (c Credentials) complete() bool {
	return c.Username != "" && c.Password != ""
}

// CredentialsGateway fetches portal credentials from the credential
// storage backend on behalf of a single user. The pair is fetched at
// most once per gateway and kept in memory until Clear.
type CredentialsGateway struct {
	http     *resty.Client
	initData string

	fetched bool
	creds   Credentials
}

type CredentialsGatewayOptions struct {
	// base url of the credential storage backend
	BaseUrl string
	// the signed init payload identifying the user, sent verbatim
	// in the Authorization header
	InitData string
	Timeout  time.Duration
}

func NewCredentialsGateway(opts CredentialsGatewayOptions) *CredentialsGateway {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 10
	}
	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetTimeout(timeout).
		SetHeader("Authorization", "tma "+opts.InitData)
	return &CredentialsGateway{
		http:     client,
		initData: opts.InitData,
	}
}

// Get returns the stored credentials, fetching them on first use.
// ErrNoCredentials means the user never provided a pair (or provided
// an incomplete one).
func (g *CredentialsGateway) Get(ctx context.Context) (Credentials, error) {
	ctx, span := tracer.Start(ctx, "credentials:Get")
	defer span.End()

	if g.fetched {
		return g.creds, nil
	}

	var creds Credentials
	res, err := g.http.R().
		SetContext(ctx).
		SetResult(&creds).
		Get("/api/auth/credentials")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach credential storage")
		return Credentials{}, fmt.Errorf("fetch credentials: %w", err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return Credentials{}, ErrNoCredentials
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "credential storage returned an error")
		return Credentials{}, fmt.Errorf(
			"fetch credentials: status code %d", res.StatusCode(),
		)
	}
	if !creds.complete() {
		return Credentials{}, ErrNoCredentials
	}

	g.fetched = true
	g.creds = creds
	return creds, nil
}

// Check reports whether the storage backend holds a pair for this
// user, without pulling the pair itself.
func (g *CredentialsGateway) Check(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "credentials:Check")
	defer span.End()

	var status struct {
		HasCredentials bool `json:"has_credentials"`
	}
	res, err := g.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/api/auth/check")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach credential storage")
		return false, fmt.Errorf("check credentials: %w", err)
	}
	if !res.IsSuccess() {
		return false, fmt.Errorf("check credentials: status code %d", res.StatusCode())
	}
	return status.HasCredentials, nil
}

// Store saves a new pair for this user and primes the in-memory copy.
func (g *CredentialsGateway) Store(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "credentials:Store")
	defer span.End()

	if !creds.complete() {
		return ErrNoCredentials
	}

	res, err := g.http.R().
		SetContext(ctx).
		SetBody(creds).
		Post("/api/auth/credentials")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach credential storage")
		return fmt.Errorf("store credentials: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("store credentials: status code %d", res.StatusCode())
	}

	g.fetched = true
	g.creds = creds
	return nil
}

// Delete removes the stored pair and forgets the in-memory copy.
func (g *CredentialsGateway) Delete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "credentials:Delete")
	defer span.End()

	res, err := g.http.R().
		SetContext(ctx).
		Delete("/api/auth/credentials")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach credential storage")
		return fmt.Errorf("delete credentials: %w", err)
	}
	if !res.IsSuccess() && res.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("delete credentials: status code %d", res.StatusCode())
	}

	g.Clear()
	return nil
}

// Clear drops the cached pair so the next Get refetches it.
func (g *CredentialsGateway) Clear() {
	g.fetched = false
	g.creds = Credentials{}
}
