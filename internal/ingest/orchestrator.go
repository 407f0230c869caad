package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/metrics"
	"github.com/lox/turfweather/internal/models"
	"github.com/lox/turfweather/internal/store"
	"github.com/lox/turfweather/internal/turf"
)

// Location is the single configured site.
type Location struct {
	Latitude  float64
	Longitude float64
	Timezone  string // IANA name or "auto"
}

func (l Location) id() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Orchestrator runs one ingestion pass: fetch, align, derive, persist.
// It assumes at most one pass runs at a time.
type Orchestrator struct {
	store         *store.Store
	provider      DailySeriesProvider
	site          Location
	persistHourly bool

	mu       sync.Mutex
	loc      *time.Location
	resolved bool
}

func NewOrchestrator(st *store.Store, provider DailySeriesProvider, site Location, persistHourly bool) (*Orchestrator, error) {
	loc, err := align.ResolveLocation(site.Timezone, "", 0)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:         st,
		provider:      provider,
		site:          site,
		persistHourly: persistHourly,
		loc:           loc,
	}, nil
}

// Location returns the zone used for date alignment. With an "auto" zone it
// reflects the provider's answer from the most recent fetch.
func (o *Orchestrator) Location() *time.Location {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loc
}

func (o *Orchestrator) resolve(resp *SeriesResponse) (*time.Location, error) {
	loc, err := align.ResolveLocation(o.site.Timezone, resp.Timezone, resp.OffsetSeconds)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.loc = loc
	o.resolved = true
	o.mu.Unlock()
	return loc, nil
}

// ResolveZone fetches the forecast once to learn an "auto" zone before any
// local date is computed. It does nothing for a fixed zone or once a fetch
// has answered.
func (o *Orchestrator) ResolveZone(ctx context.Context, forecastDays int) error {
	o.mu.Lock()
	known := (o.site.Timezone != "" && o.site.Timezone != "auto") || o.resolved
	o.mu.Unlock()
	if known {
		return nil
	}

	resp, err := o.provider.FetchForecastSeries(ctx, o.site.Latitude, o.site.Longitude, o.site.Timezone, forecastDays)
	if err != nil {
		return err
	}
	loc, err := o.resolve(resp)
	if err != nil {
		return err
	}
	log.Printf("orchestrator: resolved site zone %s", loc)
	return nil
}

// IngestHistoricalRange ingests each day from start to end inclusive, one
// single-day fetch at a time, so every day's cumulative GDD sees the rows
// inserted before it. The first failing day aborts the range; days before it
// stay committed. Returns the number of records inserted.
func (o *Orchestrator) IngestHistoricalRange(ctx context.Context, start, end align.Date) (int, error) {
	days := align.DaysBetween(start, end)
	if len(days) == 0 {
		return 0, fmt.Errorf("invalid range %s to %s", start, end)
	}

	log.Printf("orchestrator: ingesting history %s to %s (%d days)", start, end, len(days))
	inserted := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		if err := o.ingestDay(ctx, day); err != nil {
			return inserted, fmt.Errorf("ingest %s: %w", day, err)
		}
		inserted++
	}
	log.Printf("orchestrator: inserted %d daily records", inserted)
	return inserted, nil
}

func (o *Orchestrator) ingestDay(ctx context.Context, day align.Date) (err error) {
	run := o.startRun("archive")
	stored := 0
	var flags []string
	defer func() { o.completeRun(run, stored, flags, err) }()

	resp, err := o.provider.FetchDailySeries(ctx, o.site.Latitude, o.site.Longitude, day, day, o.site.Timezone)
	if err != nil {
		return err
	}
	o.recordResponse(run, resp, "archive")

	loc, err := o.resolve(resp)
	if err != nil {
		return err
	}

	idx := -1
	for i, d := range align.LocalDates(resp.Daily.Time, loc) {
		if d == day {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &DataShapeError{Provider: o.providerName(), Detail: "no daily entry for " + day.String()}
	}

	weather := resp.Daily.Weather(idx)
	humidity := o.humidityFor(resp.Hourly, loc, day)
	flags = ValidateWeather(weather)
	if humidity.Valid {
		flags = append(flags, ValidateHumidity(humidity.Float64)...)
	}
	idxs := turf.Derive(weather.TempMax, weather.TempMin, humidity)

	prev, err := o.store.LatestDailyBefore(day.Time())
	if err != nil {
		return persistErr("read latest daily record", err)
	}
	prevCumulative := 0.0
	if prev != nil {
		prevCumulative = prev.CumulativeGDD
	}

	rec := models.DailyRecord{
		Date:                  day.Time(),
		Weather:               weather,
		GDD:                   idxs.GDD,
		CumulativeGDD:         turf.Round2(turf.CumulativeGDD(prevCumulative, idxs.GDD)),
		GrowthPotential:       idxs.GrowthPotential,
		DollarSpotProbability: idxs.DollarSpot,
	}
	var hourly []models.HourlyRecord
	if o.persistHourly {
		hourly = resp.Hourly.Records()
	}
	if _, err := o.store.InsertDay(rec, hourly); err != nil {
		return persistErr("insert daily record", err)
	}
	stored += 1 + len(hourly)
	metrics.RecordsIngested.WithLabelValues("daily").Inc()
	metrics.RecordsIngested.WithLabelValues("hourly").Add(float64(len(hourly)))
	return nil
}

// IngestForecast fetches one forecast bundle and upserts a ForecastRecord per
// date. Forecasts carry no cumulative total.
func (o *Orchestrator) IngestForecast(ctx context.Context, days int) (n int, err error) {
	run := o.startRun("forecast")
	var flags []string
	defer func() { o.completeRun(run, n, flags, err) }()

	resp, err := o.provider.FetchForecastSeries(ctx, o.site.Latitude, o.site.Longitude, o.site.Timezone, days)
	if err != nil {
		return 0, err
	}
	o.recordResponse(run, resp, "forecast")

	loc, err := o.resolve(resp)
	if err != nil {
		return 0, err
	}

	humidity := align.DailyMeans(resp.Hourly.Time, resp.Hourly.RelativeHumidity(), loc)
	dates := align.LocalDates(resp.Daily.Time, loc)
	records := make([]models.ForecastRecord, 0, len(dates))
	fetchedAt := time.Now().UTC()
	for i, d := range dates {
		weather := resp.Daily.Weather(i)
		rh := sql.NullFloat64{}
		if v, ok := humidity[d]; ok {
			rh = sql.NullFloat64{Float64: v, Valid: true}
		}
		flags = append(flags, ValidateWeather(weather)...)
		idxs := turf.Derive(weather.TempMax, weather.TempMin, rh)
		records = append(records, models.ForecastRecord{
			Date:                          d.Time(),
			Weather:                       weather,
			ForecastGDD:                   idxs.GDD,
			ForecastGrowthPotential:       idxs.GrowthPotential,
			ForecastDollarSpotProbability: idxs.DollarSpot,
			FetchedAt:                     fetchedAt,
		})
	}

	for _, rec := range records {
		if err := o.store.UpsertForecast(rec); err != nil {
			return n, persistErr("upsert forecast", err)
		}
		n++
		metrics.RecordsIngested.WithLabelValues("forecast").Inc()
	}
	log.Printf("orchestrator: upserted %d forecast days", n)
	return n, nil
}

// IngestHourly fetches hourly samples for an inclusive date range in one
// request and stores them. Samples already stored are left untouched.
func (o *Orchestrator) IngestHourly(ctx context.Context, start, end align.Date) (n int, err error) {
	if end.Before(start) {
		return 0, fmt.Errorf("invalid range %s to %s", start, end)
	}
	run := o.startRun("hourly")
	defer func() { o.completeRun(run, n, nil, err) }()

	hourly, err := o.provider.FetchHourlySeries(ctx, o.site.Latitude, o.site.Longitude, start, end, o.site.Timezone)
	if err != nil {
		return 0, err
	}
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(hourly.Time)), Valid: true}
	}
	n, err = o.persistHourlyRecords(*hourly)
	if err != nil {
		return n, err
	}
	log.Printf("orchestrator: stored %d hourly samples %s to %s", n, start, end)
	return n, nil
}

func (o *Orchestrator) persistHourlyRecords(h HourlySeries) (int, error) {
	n := 0
	for _, rec := range h.Records() {
		if err := o.store.InsertHourly(rec); err != nil {
			return n, persistErr("insert hourly record", err)
		}
		n++
	}
	metrics.RecordsIngested.WithLabelValues("hourly").Add(float64(n))
	return n, nil
}

func (o *Orchestrator) humidityFor(h HourlySeries, loc *time.Location, day align.Date) sql.NullFloat64 {
	means := align.DailyMeans(h.Time, h.RelativeHumidity(), loc)
	if v, ok := means[day]; ok {
		return sql.NullFloat64{Float64: v, Valid: true}
	}
	return sql.NullFloat64{}
}

func (o *Orchestrator) providerName() string {
	if n, ok := o.provider.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "provider"
}

func (o *Orchestrator) startRun(endpoint string) *store.IngestRun {
	run, err := o.store.StartIngestRun(o.providerName(), endpoint, o.site.id())
	if err != nil {
		log.Printf("orchestrator: start ingest run: %v", err)
		return nil
	}
	return run
}

func (o *Orchestrator) recordResponse(run *store.IngestRun, resp *SeriesResponse, endpoint string) {
	if run == nil {
		return
	}
	if resp.HTTPStatus > 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(resp.HTTPStatus), Valid: true}
	}
	run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(resp.Raw)), Valid: len(resp.Raw) > 0}
	run.RecordsParsed = sql.NullInt64{Int64: int64(len(resp.Daily.Time)), Valid: true}
	if len(resp.Raw) > 0 {
		if _, err := o.store.StoreRawPayload(run.ID, o.providerName(), endpoint, o.site.id(), resp.Raw); err != nil {
			log.Printf("orchestrator: store raw payload: %v", err)
		}
	}
}

func (o *Orchestrator) completeRun(run *store.IngestRun, stored int, flags []string, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	var msgs []string
	if len(flags) > 0 {
		run.ParseErrors = sql.NullInt64{Int64: int64(len(flags)), Valid: true}
		msgs = append(msgs, "quality flags: "+QualityFlagsToJSON(flags))
		log.Printf("orchestrator: quality flags on %s run: %v", run.Endpoint, flags)
	}
	if err != nil {
		msgs = append([]string{err.Error()}, msgs...)
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode > 0 {
			run.HTTPStatus = sql.NullInt64{Int64: int64(te.StatusCode), Valid: true}
		}
	}
	if len(msgs) > 0 {
		run.ErrorMessage = sql.NullString{String: strings.Join(msgs, "; "), Valid: true}
	}
	if cerr := o.store.CompleteIngestRun(run); cerr != nil {
		log.Printf("orchestrator: complete ingest run: %v", cerr)
	}
}
