package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/metrics"
	"github.com/lox/turfweather/internal/models"
	"github.com/lox/turfweather/internal/store"
	"github.com/lox/turfweather/internal/turf"
	"github.com/lox/turfweather/internal/watermark"
)

const (
	DefaultForecastDays  = 7
	DefaultBootstrapDays = 30
)

// ServiceOptions tunes the cycle windows. Zero values pick defaults.
type ServiceOptions struct {
	ForecastDays  int
	BootstrapDays int
}

// Service owns the ingestion cycles and serializes them: a cycle requested
// while another runs fails with ErrCycleInProgress.
type Service struct {
	orch      *Orchestrator
	store     *store.Store
	watermark watermark.Store
	current   CurrentConditionsProvider
	site      Location

	forecastDays  int
	bootstrapDays int

	mu  sync.Mutex
	now func() time.Time
}

func NewService(orch *Orchestrator, st *store.Store, wm watermark.Store, current CurrentConditionsProvider, opts ServiceOptions) *Service {
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = DefaultForecastDays
	}
	if opts.BootstrapDays <= 0 {
		opts.BootstrapDays = DefaultBootstrapDays
	}
	return &Service{
		orch:          orch,
		store:         st,
		watermark:     wm,
		current:       current,
		site:          orch.site,
		forecastDays:  opts.ForecastDays,
		bootstrapDays: opts.BootstrapDays,
		now:           time.Now,
	}
}

func (s *Service) acquire() error {
	if !s.mu.TryLock() {
		return ErrCycleInProgress
	}
	return nil
}

// Today is the current calendar date in the site's zone.
func (s *Service) Today() align.Date {
	return align.DateOf(s.now().In(s.orch.Location()))
}

// Bootstrap fills empty tables: the trailing window of history ending
// yesterday, and one forecast.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	n, err := s.store.CountDaily()
	if err != nil {
		return persistErr("count daily records", err)
	}
	if n == 0 {
		if err := s.orch.ResolveZone(ctx, s.forecastDays); err != nil {
			metrics.CycleFailures.WithLabelValues("bootstrap").Inc()
			return err
		}
		yesterday := s.Today().AddDays(-1)
		start := yesterday.AddDays(-(s.bootstrapDays - 1))
		log.Printf("service: bootstrapping %d days of history", s.bootstrapDays)
		if _, err := s.orch.IngestHistoricalRange(ctx, start, yesterday); err != nil {
			metrics.CycleFailures.WithLabelValues("bootstrap").Inc()
			return err
		}
		if err := s.advanceWatermark(); err != nil {
			return err
		}
	}

	n, err = s.store.CountForecasts()
	if err != nil {
		return persistErr("count forecast records", err)
	}
	if n == 0 {
		log.Println("service: bootstrapping forecast")
		if _, err := s.orch.IngestForecast(ctx, s.forecastDays); err != nil {
			metrics.CycleFailures.WithLabelValues("bootstrap").Inc()
			return err
		}
	}
	return nil
}

// RunDailyCycle ingests the gap between the watermark's local date and
// yesterday, refreshes the forecast, then advances the watermark. Any error
// leaves the watermark untouched so the next run retries the same window.
func (s *Service) RunDailyCycle(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	err := s.runDailyCycle(ctx)
	if err != nil {
		metrics.CycleFailures.WithLabelValues("daily").Inc()
		log.Printf("service: daily cycle failed: %v", err)
	}
	return err
}

func (s *Service) runDailyCycle(ctx context.Context) error {
	if err := s.orch.ResolveZone(ctx, s.forecastDays); err != nil {
		return err
	}
	yesterday := s.Today().AddDays(-1)
	start := yesterday

	last, ok, err := s.watermark.Read()
	if err != nil {
		return persistErr("read watermark", err)
	}
	if ok {
		start = align.DateOf(last.In(s.orch.Location()))
	}

	if start.After(yesterday) {
		log.Printf("service: history up to date (watermark %s)", start)
	} else if _, err := s.orch.IngestHistoricalRange(ctx, start, yesterday); err != nil {
		return err
	}

	if _, err := s.orch.IngestForecast(ctx, s.forecastDays); err != nil {
		return err
	}
	return s.advanceWatermark()
}

func (s *Service) advanceWatermark() error {
	now := s.now().UTC()
	if err := s.watermark.Write(now); err != nil {
		return persistErr("write watermark", err)
	}
	metrics.LastSuccessfulFetch.Set(float64(now.Unix()))
	return nil
}

// LastFetch returns the watermark.
func (s *Service) LastFetch() (time.Time, bool, error) {
	return s.watermark.Read()
}

// TriggerHistorical ingests an explicit inclusive date range.
func (s *Service) TriggerHistorical(ctx context.Context, start, end align.Date) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n, err := s.orch.IngestHistoricalRange(ctx, start, end)
	if err != nil {
		metrics.CycleFailures.WithLabelValues("historical").Inc()
	}
	return n, err
}

// TriggerHourly ingests hourly samples for an explicit inclusive date range.
func (s *Service) TriggerHourly(ctx context.Context, start, end align.Date) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n, err := s.orch.IngestHourly(ctx, start, end)
	if err != nil {
		metrics.CycleFailures.WithLabelValues("hourly").Inc()
	}
	return n, err
}

// TriggerForecast refreshes the forecast, bypassing the response cache.
func (s *Service) TriggerForecast(ctx context.Context) (int, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n, err := s.orch.IngestForecast(WithFreshData(ctx), s.forecastDays)
	if err != nil {
		metrics.CycleFailures.WithLabelValues("forecast").Inc()
	}
	return n, err
}

// ResetCumulativeGDD zeroes the cumulative total on the latest record only.
// Earlier rows and later ingests are unaffected; it is not a season reset.
func (s *Service) ResetCumulativeGDD() (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	ok, err := s.store.ResetLatestCumulativeGDD()
	if err != nil {
		return false, persistErr("reset cumulative gdd", err)
	}
	return ok, nil
}

func (s *Service) ListDaily() ([]models.DailyRecord, error) {
	return s.store.ListDaily()
}

func (s *Service) ListForecast() ([]models.ForecastRecord, error) {
	return s.store.ListForecasts()
}

// ListHourly returns stored hourly samples for the local dates start..end.
func (s *Service) ListHourly(start, end align.Date) ([]models.HourlyRecord, error) {
	loc := s.orch.Location()
	return s.store.ListHourly(start.In(loc), end.AddDays(1).In(loc))
}

// Current returns current conditions from the configured provider.
func (s *Service) Current(ctx context.Context) (*models.CurrentConditions, error) {
	if s.current == nil {
		return nil, errors.New("no current conditions provider configured")
	}
	return s.current.FetchCurrent(ctx, s.site.Latitude, s.site.Longitude)
}

// SeriesPoint is one day of the combined historical and forecast series.
type SeriesPoint struct {
	Date            align.Date
	Forecast        bool
	TempMax         sql.NullFloat64
	TempMin         sql.NullFloat64
	GDD             sql.NullFloat64
	CumulativeGDD   float64
	GrowthPotential sql.NullFloat64
	DollarSpot      sql.NullFloat64
}

// Combined returns every historical day followed by forecast days after the
// last historical date, with cumulative GDD projected through the forecast.
func (s *Service) Combined() ([]SeriesPoint, error) {
	daily, err := s.store.ListDaily()
	if err != nil {
		return nil, err
	}
	forecasts, err := s.store.ListForecasts()
	if err != nil {
		return nil, err
	}

	points := make([]SeriesPoint, 0, len(daily)+len(forecasts))
	var last align.Date
	lastCumulative := 0.0
	for _, r := range daily {
		d := align.DateOf(r.Date)
		points = append(points, SeriesPoint{
			Date:            d,
			TempMax:         r.TempMax,
			TempMin:         r.TempMin,
			GDD:             r.GDD,
			CumulativeGDD:   r.CumulativeGDD,
			GrowthPotential: r.GrowthPotential,
			DollarSpot:      r.DollarSpotProbability,
		})
		last = d
		lastCumulative = r.CumulativeGDD
	}

	var upcoming []models.ForecastRecord
	for _, f := range forecasts {
		if last.IsZero() || align.DateOf(f.Date).After(last) {
			upcoming = append(upcoming, f)
		}
	}
	gdds := make([]sql.NullFloat64, len(upcoming))
	for i, f := range upcoming {
		gdds[i] = f.ForecastGDD
	}
	projected := turf.ProjectCumulative(lastCumulative, gdds)
	for i, f := range upcoming {
		points = append(points, SeriesPoint{
			Date:            align.DateOf(f.Date),
			Forecast:        true,
			TempMax:         f.TempMax,
			TempMin:         f.TempMin,
			GDD:             f.ForecastGDD,
			CumulativeGDD:   projected[i],
			GrowthPotential: f.ForecastGrowthPotential,
			DollarSpot:      f.ForecastDollarSpotProbability,
		})
	}
	return points, nil
}
