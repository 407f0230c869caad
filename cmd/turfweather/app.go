package main

import (
	"fmt"
	"log"

	"github.com/lox/turfweather/internal/config"
	"github.com/lox/turfweather/internal/httputil"
	"github.com/lox/turfweather/internal/ingest"
	"github.com/lox/turfweather/internal/store"
	"github.com/lox/turfweather/internal/watermark"
)

// app is the wired ingestion stack shared by every command.
type app struct {
	store   *store.Store
	service *ingest.Service
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("database migrated (%s)", st.Dialect())

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = -1
	}
	opts := ingest.ClientOptions{
		HTTPClient: httputil.NewClient(cfg.HTTPTimeout),
		MaxRetries: retries,
		Cache:      ingest.NewResponseCache(cfg.CacheTTL),
		Debug:      cfg.Debug,
	}
	provider := ingest.NewOpenMeteo(cfg.APIKey, opts)

	var current ingest.CurrentConditionsProvider = provider
	if cfg.CurrentProvider == config.ProviderOpenWeatherMap {
		current = ingest.NewOpenWeatherMap(cfg.OpenWeatherAPIKey, opts)
	}

	var wm watermark.Store
	if cfg.WatermarkFile != "" {
		wm = watermark.NewFile(cfg.WatermarkFile)
	} else {
		wm = watermark.NewRow(st)
	}

	site := ingest.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude, Timezone: cfg.Timezone}
	orch, err := ingest.NewOrchestrator(st, provider, site, cfg.PersistHourly)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := ingest.NewService(orch, st, wm, current, ingest.ServiceOptions{
		ForecastDays:  cfg.ForecastDays,
		BootstrapDays: cfg.BootstrapDays,
	})
	return &app{store: st, service: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
