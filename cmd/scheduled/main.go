package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"time"

	"eios-backend/lib/configutil"
	"eios-backend/lib/restyutil"
	"eios-backend/lib/schedcache"
	"eios-backend/lib/scrapers/eios"
	"eios-backend/lib/serviceutil"
	"eios-backend/lib/telemetry"
	"eios-backend/services/schedule"
)

type Config struct {
	// base url of the school portal, e.g. "https://eios.linguanet.ru"
	PortalBaseUrl string `json:"portal_base_url"`
	// base url of the credential storage backend
	AuthBaseUrl string `json:"auth_base_url"`
	// leave the address empty to run without a remote cache
	Redis schedcache.RedisOptions `json:"redis"`
	// path of the local cache database
	SqlitePath string `json:"sqlite_path"`
	// seconds a cached day stays valid, zero means forever
	CacheTtlSeconds int64 `json:"cache_ttl_seconds"`
	// milliseconds between preload dispatches
	PreloadDelayMs int64 `json:"preload_delay_ms"`
	Port           int   `json:"port"`
}

func initTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	t, err := telemetry.SetupFromEnv(ctx, "scheduled")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		t.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)

	if verbose {
		eios.SetRestyInstrumentOutput(
			restyutil.NewFilesystemOutput(".dev/resty/eios"),
		)
	}
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()
	initTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = "schedule_cache.db"
	}

	local, err := schedcache.NewSqliteBackend(cfg.SqlitePath)
	if err != nil {
		serviceutil.Fatal("open local cache", err)
	}
	defer local.Close()

	var remote schedcache.Backend
	if cfg.Redis.Addr != "" {
		redis, err := schedcache.NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			slog.WarnContext(
				ctx, "redis is unreachable, running on the local cache only",
				"addr", cfg.Redis.Addr, "err", err,
			)
		} else {
			remote = redis
			defer redis.Close()
		}
	}

	server := schedule.NewServer(schedule.ServerOptions{
		PortalBaseUrl: cfg.PortalBaseUrl,
		AuthBaseUrl:   cfg.AuthBaseUrl,
		Remote:        remote,
		Local:         local,
		CacheTtl:      time.Duration(cfg.CacheTtlSeconds) * time.Second,
		PreloadDelay:  time.Duration(cfg.PreloadDelayMs) * time.Millisecond,
	})

	mux := http.NewServeMux()
	server.Register(mux)

	go serviceutil.StartHttpServer(cfg.Port, mux)
	<-ctx.Done()
}
