package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"eios-backend/lib/configutil"
	"eios-backend/lib/restyutil"
	"eios-backend/lib/schedcache"
	"eios-backend/lib/scrapers/eios"
	"eios-backend/lib/serviceutil"
	"eios-backend/lib/timezone"

	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	// optional, scraped from the profile page when empty
	PlanId string `json:"plan_id"`
}

var dayDate *string
var dayDump *string

func init() {
	dayDate = dayCmd.Flags().String("date", "", "The date to fetch, YYYY-MM-DD. Defaults to today.")
	dayDump = dayCmd.Flags().String("dump", "", "Also write the raw callback payload to this file.")
	rootCmd.AddCommand(dayCmd)
}

func createClient(ctx context.Context, cfg Config) *eios.Client {
	opts := eios.ClientOptions{
		BaseUrl:  cfg.BaseUrl,
		Username: cfg.Username,
		Password: cfg.Password,
		PlanId:   cfg.PlanId,
	}
	eios.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/schedule-cli"))

	if opts.PlanId == "" {
		planId, err := eios.FetchPlanId(ctx, opts)
		if err != nil {
			serviceutil.Fatal("failed to discover plan id", err)
		}
		slog.Info("discovered plan id", "plan_id", planId)
		opts.PlanId = planId
	}

	client, err := eios.NewClient(opts)
	if err != nil {
		serviceutil.Fatal("failed to initialize portal client", err)
	}
	return client
}

var dayCmd = &cobra.Command{
	Use:   "day [--date <YYYY-MM-DD>] [--dump <path/to/payload.txt>]",
	Short: "Fetches one day of the timetable straight from the portal.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		date := timezone.Midnight(timezone.Now())
		if *dayDate != "" {
			date, err = time.ParseInLocation(schedcache.DateFormat, *dayDate, timezone.Location)
			if err != nil {
				serviceutil.Fatal("failed to parse date", err)
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute*2)
		defer cancel()

		client := createClient(ctx, cfg)

		t1 := time.Now()
		state, err := client.OpenSession(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open session", err)
		}
		err = client.SelectDayView(ctx, state)
		if err != nil {
			serviceutil.Fatal("failed to select the day view", err)
		}
		payload, err := client.NavigateToDate(ctx, state, date)
		if err != nil {
			serviceutil.Fatal("failed to navigate to date", err)
		}
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())

		if *dayDump != "" {
			err = os.WriteFile(*dayDump, []byte(payload), 0644)
			if err != nil {
				serviceutil.Fatal("failed to dump payload", err)
			}
		}

		renderEvents(eios.Decode(payload))
	},
}
