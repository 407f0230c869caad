package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/api"
	"github.com/lox/turfweather/internal/config"
	"github.com/lox/turfweather/internal/ingest"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	config.Config `embed:""`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Bootstrap, schedule the daily cycle and serve the API."`
	History  HistoryCmd  `cmd:"" help:"Ingest a historical date range and exit."`
	Hourly   HourlyCmd   `cmd:"" help:"Ingest hourly samples for a date range and exit."`
	Forecast ForecastCmd `cmd:"" help:"Refresh the forecast and exit."`
	Daily    DailyCmd    `cmd:"" help:"Run one daily cycle and exit."`
}

type ServeCmd struct {
	NoSchedule bool `help:"Disable the scheduler (server only, for local dev)."`
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Bootstrap(ctx); err != nil {
		// The server still starts; the next cycle retries the gap.
		log.Printf("bootstrap failed: %v", err)
	}

	var sched *ingest.Scheduler
	if !c.NoSchedule {
		sched = ingest.NewScheduler(cfg.Location(), cfg.Debug)
		if err := ingest.RegisterIngestJobs(sched, a.service, a.store, cfg.DailySchedule, cfg.PayloadRetentionDays); err != nil {
			return fmt.Errorf("register jobs: %w", err)
		}
		sched.Start(ctx)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Printf("%v", err)
			}
		}()
	} else {
		log.Println("scheduler disabled (--no-schedule)")
	}

	server := api.NewServer(a.service, sched, a.store, cfg.Port, cfg.CORSOrigin)
	return server.Run(ctx)
}

type HistoryCmd struct {
	Start string `arg:"" help:"First date (YYYY-MM-DD)."`
	End   string `arg:"" optional:"" help:"Last date (YYYY-MM-DD); defaults to start."`
}

func (c *HistoryCmd) Run(cfg *config.Config) error {
	start, end, err := parseRange(c.Start, c.End)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.service.TriggerHistorical(context.Background(), start, end)
	if err != nil {
		return err
	}
	log.Printf("ingested %d days (%s to %s)", n, start, end)
	return nil
}

type HourlyCmd struct {
	Start string `arg:"" help:"First date (YYYY-MM-DD)."`
	End   string `arg:"" optional:"" help:"Last date (YYYY-MM-DD); defaults to start."`
}

func (c *HourlyCmd) Run(cfg *config.Config) error {
	start, end, err := parseRange(c.Start, c.End)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.service.TriggerHourly(context.Background(), start, end)
	if err != nil {
		return err
	}
	log.Printf("stored %d hourly samples (%s to %s)", n, start, end)
	return nil
}

// parseRange parses START and an optional END, which defaults to START.
func parseRange(startArg, endArg string) (align.Date, align.Date, error) {
	start, err := align.ParseDate(startArg)
	if err != nil {
		return align.Date{}, align.Date{}, err
	}
	if endArg == "" {
		return start, start, nil
	}
	end, err := align.ParseDate(endArg)
	if err != nil {
		return align.Date{}, align.Date{}, err
	}
	return start, end, nil
}

type ForecastCmd struct{}

func (c *ForecastCmd) Run(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.service.TriggerForecast(context.Background())
	if err != nil {
		return err
	}
	log.Printf("stored %d forecast days", n)
	return nil
}

type DailyCmd struct{}

func (c *DailyCmd) Run(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.RunDailyCycle(context.Background()); err != nil {
		return err
	}
	log.Println("done")
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("turfweather"),
		kong.Description("Turf weather ingestion: growing degree days, growth potential and dollar spot risk."),
		kong.UsageOnError(),
	)
	if err := cli.Config.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	if err := kctx.Run(&cli.Config); err != nil {
		log.Fatalf("%v", err)
	}
}
