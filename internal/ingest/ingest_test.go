package ingest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/store"
	"github.com/lox/turfweather/internal/watermark"
)

const testZone = "America/Chicago"

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func day(s string) align.Date {
	d, err := align.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fp(v float64) *float64 { return &v }

type dayValues struct {
	date     align.Date
	tmax     float64
	tmin     float64
	humidity *float64 // hourly value for every hour of the day; nil for none
}

// seriesFor builds a response as the provider would return it with
// timeformat=unixtime: daily timestamps at local midnight, hourly at each
// local hour.
func seriesFor(loc *time.Location, days ...dayValues) *SeriesResponse {
	resp := &SeriesResponse{
		Daily:    DailySeries{Values: make([][]*float64, len(DailyVariables))},
		Hourly:   HourlySeries{Values: make([][]*float64, len(HourlyVariables))},
		Timezone: loc.String(),
		Raw:      []byte(`{}`),
	}
	for _, d := range days {
		midnight := d.date.In(loc)
		resp.Daily.Time = append(resp.Daily.Time, midnight.Unix())
		for i := range DailyVariables {
			var v *float64
			switch i {
			case 0:
				v = fp(d.tmax)
			case 1:
				v = fp(d.tmin)
			case 2:
				v = fp(0)
			}
			resp.Daily.Values[i] = append(resp.Daily.Values[i], v)
		}
		for h := 0; h < 24; h++ {
			resp.Hourly.Time = append(resp.Hourly.Time, midnight.Add(time.Duration(h)*time.Hour).Unix())
			resp.Hourly.Values[0] = append(resp.Hourly.Values[0], d.humidity)
			resp.Hourly.Values[1] = append(resp.Hourly.Values[1], fp(d.tmin+float64(h)/2))
		}
	}
	// Raw differs per response so raw payload dedup does not hide runs.
	resp.Raw = []byte(time.Now().String() + days[0].date.String())
	return resp
}

type fakeProvider struct {
	mu          sync.Mutex
	days        map[align.Date]*SeriesResponse
	forecast    *SeriesResponse
	fail        map[align.Date]error
	forecastErr error
	dailyCalls  []align.Date
	forecastN   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		days: make(map[align.Date]*SeriesResponse),
		fail: make(map[align.Date]error),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchDailySeries(ctx context.Context, lat, lon float64, start, end align.Date, tz string) (*SeriesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyCalls = append(f.dailyCalls, start)
	if start != end {
		return nil, errors.New("fake: multi-day request")
	}
	if err := f.fail[start]; err != nil {
		return nil, err
	}
	if r, ok := f.days[start]; ok {
		return r, nil
	}
	return nil, &TransportError{Provider: "fake", Endpoint: "archive", StatusCode: 404, Err: errors.New("no data")}
}

func (f *fakeProvider) FetchForecastSeries(ctx context.Context, lat, lon float64, tz string, days int) (*SeriesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forecastN++
	if f.forecastErr != nil {
		return nil, f.forecastErr
	}
	return f.forecast, nil
}

func (f *fakeProvider) FetchHourlySeries(ctx context.Context, lat, lon float64, start, end align.Date, tz string) (*HourlySeries, error) {
	r, err := f.FetchDailySeries(ctx, lat, lon, start, end, tz)
	if err != nil {
		return nil, err
	}
	return &r.Hourly, nil
}

func (f *fakeProvider) addDays(loc *time.Location, days ...dayValues) {
	for _, d := range days {
		f.days[d.date] = seriesFor(loc, d)
	}
}

func newTestOrchestrator(t *testing.T, st *store.Store, p DailySeriesProvider, persistHourly bool) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(st, p, Location{Latitude: 41.88, Longitude: -87.63, Timezone: testZone}, persistHourly)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestIngestHistoricalRange_EndToEnd(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-01"), 25, 15, fp(60)},
		dayValues{day("2024-06-02"), 30, 10, fp(40)},
	)
	o := newTestOrchestrator(t, st, p, false)

	n, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-02"))
	if err != nil {
		t.Fatalf("IngestHistoricalRange: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}
	if len(p.dailyCalls) != 2 {
		t.Errorf("provider calls = %d, want one per day", len(p.dailyCalls))
	}

	records, err := st.ListDaily()
	if err != nil {
		t.Fatalf("ListDaily: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	want := []struct {
		date       string
		gdd, cum   float64
		growth, ds float64
	}{
		{"2024-06-01", 10, 10, 1, 0.15},
		{"2024-06-02", 10, 20, 1, 0.05},
	}
	for i, w := range want {
		r := records[i]
		if got := align.DateOf(r.Date).String(); got != w.date {
			t.Errorf("[%d] date = %s, want %s", i, got, w.date)
		}
		if !r.GDD.Valid || r.GDD.Float64 != w.gdd {
			t.Errorf("[%d] gdd = %+v, want %v", i, r.GDD, w.gdd)
		}
		if r.CumulativeGDD != w.cum {
			t.Errorf("[%d] cumulative = %v, want %v", i, r.CumulativeGDD, w.cum)
		}
		if !r.GrowthPotential.Valid || r.GrowthPotential.Float64 != w.growth {
			t.Errorf("[%d] growth = %+v, want %v", i, r.GrowthPotential, w.growth)
		}
		if !r.DollarSpotProbability.Valid || r.DollarSpotProbability.Float64 != w.ds {
			t.Errorf("[%d] dollar spot = %+v, want %v", i, r.DollarSpotProbability, w.ds)
		}
	}

	health, err := st.GetIngestHealth(365 * 10)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 || health[0].SuccessRuns != 2 {
		t.Errorf("ingest health = %+v, want 2 successful archive runs", health)
	}
}

func TestIngestHistoricalRange_CumulativeSkipsMissingGDD(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-01"), 24, 12, fp(50)},
		dayValues{day("2024-06-03"), 20, 16, fp(50)},
	)
	gap := seriesFor(loc, dayValues{day("2024-06-02"), 0, 0, fp(50)})
	gap.Daily.Values[0][0] = nil
	p.days[day("2024-06-02")] = gap
	o := newTestOrchestrator(t, st, p, false)

	if _, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-03")); err != nil {
		t.Fatalf("IngestHistoricalRange: %v", err)
	}

	records, _ := st.ListDaily()
	wantCum := []float64{8, 8, 16}
	for i, r := range records {
		if r.CumulativeGDD != wantCum[i] {
			t.Errorf("[%d] cumulative = %v, want %v", i, r.CumulativeGDD, wantCum[i])
		}
	}
	if records[1].GDD.Valid || records[1].DollarSpotProbability.Valid || records[1].GrowthPotential.Valid {
		t.Errorf("missing max temp should null derived indices: %+v", records[1])
	}
}

func TestIngestHistoricalRange_DuplicateDayInsertsTwice(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-01"), 25, 15, fp(60)})
	o := newTestOrchestrator(t, st, p, false)

	for i := 0; i < 2; i++ {
		if _, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-01")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	n, err := st.CountDaily()
	if err != nil {
		t.Fatalf("CountDaily: %v", err)
	}
	if n != 2 {
		t.Errorf("CountDaily = %d, want 2 (historical ingest is insert-only)", n)
	}
}

func TestIngestHistoricalRange_FailureAbortsDay(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-01"), 25, 15, fp(60)},
		dayValues{day("2024-06-03"), 25, 15, fp(60)},
	)
	p.fail[day("2024-06-02")] = &TransportError{Provider: "fake", Endpoint: "archive", StatusCode: 503, Err: errors.New("unavailable")}
	o := newTestOrchestrator(t, st, p, false)

	n, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-03"))
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != 503 {
		t.Errorf("error = %v, want TransportError 503", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}
	if count, _ := st.CountDaily(); count != 1 {
		t.Errorf("CountDaily = %d, want 1", count)
	}
	if len(p.dailyCalls) != 2 {
		t.Errorf("provider calls = %d, want 2 (range stops at failure)", len(p.dailyCalls))
	}

	errs, _ := st.GetRecentIngestErrors(5)
	if len(errs) != 1 || errs[0].HTTPStatus.Int64 != 503 {
		t.Errorf("recent errors = %+v, want one 503 run", errs)
	}
}

func TestIngestHistoricalRange_MissingDayIsDataShapeError(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	// Response for a different date than requested.
	p.days[day("2024-06-01")] = seriesFor(loc, dayValues{day("2024-05-31"), 25, 15, fp(60)})
	o := newTestOrchestrator(t, st, p, false)

	_, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-01"))
	var dse *DataShapeError
	if !errors.As(err, &dse) {
		t.Fatalf("error = %v, want DataShapeError", err)
	}
	if n, _ := st.CountDaily(); n != 0 {
		t.Errorf("CountDaily = %d, want 0", n)
	}
}

func TestIngestHistoricalRange_NoHumidityNullsDollarSpot(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-01"), 25, 15, nil})
	o := newTestOrchestrator(t, st, p, false)

	if _, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-01")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	records, _ := st.ListDaily()
	if records[0].DollarSpotProbability.Valid {
		t.Errorf("dollar spot = %v, want null without humidity", records[0].DollarSpotProbability.Float64)
	}
	if !records[0].GDD.Valid {
		t.Error("gdd should not depend on humidity")
	}
}

func TestIngestHistoricalRange_PersistsHourly(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-01"), 25, 15, fp(55)})
	o := newTestOrchestrator(t, st, p, true)

	if _, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-01")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	start := day("2024-06-01").In(loc)
	hourly, err := st.ListHourly(start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListHourly: %v", err)
	}
	if len(hourly) != 24 {
		t.Fatalf("len(hourly) = %d, want 24", len(hourly))
	}
	if hourly[0].RelativeHumidity.Float64 != 55 {
		t.Errorf("humidity = %v, want 55", hourly[0].RelativeHumidity.Float64)
	}
}

func TestIngestForecast_ReplacesByDate(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.forecast = seriesFor(loc,
		dayValues{day("2024-06-10"), 25, 15, fp(60)},
		dayValues{day("2024-06-11"), 26, 16, fp(60)},
	)
	o := newTestOrchestrator(t, st, p, false)

	if _, err := o.IngestForecast(context.Background(), 2); err != nil {
		t.Fatalf("first IngestForecast: %v", err)
	}

	p.forecast = seriesFor(loc,
		dayValues{day("2024-06-10"), 30, 20, fp(40)},
		dayValues{day("2024-06-11"), 31, 21, fp(40)},
	)
	n, err := o.IngestForecast(context.Background(), 2)
	if err != nil {
		t.Fatalf("second IngestForecast: %v", err)
	}
	if n != 2 {
		t.Errorf("upserted = %d, want 2", n)
	}

	forecasts, err := st.ListForecasts()
	if err != nil {
		t.Fatalf("ListForecasts: %v", err)
	}
	if len(forecasts) != 2 {
		t.Fatalf("len(forecasts) = %d, want 2", len(forecasts))
	}
	if forecasts[0].TempMax.Float64 != 30 || forecasts[0].ForecastGDD.Float64 != 15 {
		t.Errorf("forecast[0] = max %v gdd %v, want the second fetch (30, 15)",
			forecasts[0].TempMax.Float64, forecasts[0].ForecastGDD.Float64)
	}
	if n, _ := st.CountDaily(); n != 0 {
		t.Errorf("forecast ingest wrote %d daily records", n)
	}
}

func TestIngestForecast_ErrorWritesNothing(t *testing.T) {
	st := setupTestStore(t)
	p := newFakeProvider()
	p.forecastErr = &DataShapeError{Provider: "fake", Detail: "missing daily time"}
	o := newTestOrchestrator(t, st, p, false)

	if _, err := o.IngestForecast(context.Background(), 7); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := st.CountForecasts(); n != 0 {
		t.Errorf("CountForecasts = %d, want 0", n)
	}
}

func TestIngest_AutoTimezoneFollowsProvider(t *testing.T) {
	st := setupTestStore(t)
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-01"), 25, 15, fp(60)})

	o, err := NewOrchestrator(st, p, Location{Latitude: 41.88, Longitude: -87.63, Timezone: "auto"}, false)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := o.IngestHistoricalRange(context.Background(), day("2024-06-01"), day("2024-06-01")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := o.Location().String(); got != testZone {
		t.Errorf("Location = %s, want %s", got, testZone)
	}
}

func newTestService(t *testing.T, p *fakeProvider, now time.Time) (*Service, *store.Store, *watermark.File) {
	t.Helper()
	st := setupTestStore(t)
	o := newTestOrchestrator(t, st, p, false)
	wm := watermark.NewFile(filepath.Join(t.TempDir(), "last_fetch"))
	svc := NewService(o, st, wm, nil, ServiceOptions{ForecastDays: 2, BootstrapDays: 3})
	svc.now = func() time.Time { return now }
	return svc, st, wm
}

func TestService_Bootstrap(t *testing.T) {
	loc := mustLoad(t, testZone)
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, loc)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-02"), 25, 15, fp(60)},
		dayValues{day("2024-06-03"), 25, 15, fp(60)},
		dayValues{day("2024-06-04"), 25, 15, fp(60)},
	)
	p.forecast = seriesFor(loc, dayValues{day("2024-06-05"), 25, 15, fp(60)}, dayValues{day("2024-06-06"), 25, 15, fp(60)})
	svc, st, wm := newTestService(t, p, now)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if n, _ := st.CountDaily(); n != 3 {
		t.Errorf("CountDaily = %d, want 3", n)
	}
	if n, _ := st.CountForecasts(); n != 2 {
		t.Errorf("CountForecasts = %d, want 2", n)
	}
	if got, ok, _ := wm.Read(); !ok || !got.Equal(now) {
		t.Errorf("watermark = %v, %v; want %v", got, ok, now)
	}

	// A second bootstrap with populated tables fetches nothing.
	calls := len(p.dailyCalls)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if len(p.dailyCalls) != calls || p.forecastN != 1 {
		t.Errorf("second bootstrap fetched again: daily %d->%d, forecast %d", calls, len(p.dailyCalls), p.forecastN)
	}
}

func TestService_RunDailyCycle(t *testing.T) {
	loc := mustLoad(t, testZone)
	now := time.Date(2024, 6, 3, 1, 0, 0, 0, loc)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-01"), 25, 15, fp(60)},
		dayValues{day("2024-06-02"), 30, 10, fp(40)},
	)
	p.forecast = seriesFor(loc, dayValues{day("2024-06-03"), 25, 15, fp(60)})
	svc, st, wm := newTestService(t, p, now)

	// Last run completed at 01:00 local on June 1.
	if err := wm.Write(time.Date(2024, 6, 1, 1, 0, 0, 0, loc)); err != nil {
		t.Fatal(err)
	}

	if err := svc.RunDailyCycle(context.Background()); err != nil {
		t.Fatalf("RunDailyCycle: %v", err)
	}
	if len(p.dailyCalls) != 2 || p.dailyCalls[0] != day("2024-06-01") || p.dailyCalls[1] != day("2024-06-02") {
		t.Errorf("daily calls = %v, want June 1 and 2", p.dailyCalls)
	}
	records, _ := st.ListDaily()
	if len(records) != 2 || records[1].CumulativeGDD != 20 {
		t.Errorf("records = %+v, want cumulative 20 on June 2", records)
	}
	if got, _, _ := wm.Read(); !got.Equal(now) {
		t.Errorf("watermark = %v, want %v", got, now)
	}

	// Same day again: history is current, only the forecast refreshes.
	if err := svc.RunDailyCycle(context.Background()); err != nil {
		t.Fatalf("second RunDailyCycle: %v", err)
	}
	if len(p.dailyCalls) != 2 {
		t.Errorf("daily calls = %d, want no new history fetches", len(p.dailyCalls))
	}
}

func TestService_RunDailyCycle_FailureKeepsWatermark(t *testing.T) {
	loc := mustLoad(t, testZone)
	now := time.Date(2024, 6, 3, 1, 0, 0, 0, loc)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-02"), 25, 15, fp(60)})
	p.forecastErr = &TransportError{Provider: "fake", Endpoint: "forecast", Err: errors.New("timeout")}
	svc, _, wm := newTestService(t, p, now)

	err := svc.RunDailyCycle(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if _, ok, _ := wm.Read(); ok {
		t.Error("watermark advanced after failed cycle")
	}
}

func TestService_SingleFlight(t *testing.T) {
	p := newFakeProvider()
	svc, _, _ := newTestService(t, p, time.Now())

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, err := svc.TriggerForecast(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("TriggerForecast = %v, want ErrCycleInProgress", err)
	}
	if err := svc.RunDailyCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("RunDailyCycle = %v, want ErrCycleInProgress", err)
	}
	if _, err := svc.ResetCumulativeGDD(); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("ResetCumulativeGDD = %v, want ErrCycleInProgress", err)
	}
	if p.forecastN != 0 {
		t.Error("provider called while cycle in progress")
	}
}

func TestService_TriggerHistoricalRejectsReversedRange(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeProvider(), time.Now())
	if _, err := svc.TriggerHistorical(context.Background(), day("2024-06-02"), day("2024-06-01")); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestService_BootstrapResolvesAutoZoneFirst(t *testing.T) {
	loc := mustLoad(t, testZone)
	// 02:00 UTC on the 10th is still the evening of the 9th in Chicago.
	now := time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-08"), 25, 15, fp(60)},
		dayValues{day("2024-06-09"), 25, 15, fp(60)},
	)
	p.forecast = seriesFor(loc, dayValues{day("2024-06-09"), 25, 15, fp(60)}, dayValues{day("2024-06-10"), 25, 15, fp(60)})

	st := setupTestStore(t)
	o, err := NewOrchestrator(st, p, Location{Latitude: 41.88, Longitude: -87.63, Timezone: "auto"}, false)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	wm := watermark.NewFile(filepath.Join(t.TempDir(), "last_fetch"))
	svc := NewService(o, st, wm, nil, ServiceOptions{ForecastDays: 2, BootstrapDays: 1})
	svc.now = func() time.Time { return now }

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(p.dailyCalls) != 1 || p.dailyCalls[0] != day("2024-06-08") {
		t.Fatalf("dailyCalls = %v, want [2024-06-08]", p.dailyCalls)
	}
	records, err := st.ListDaily()
	if err != nil {
		t.Fatalf("ListDaily: %v", err)
	}
	if len(records) != 1 || align.DateOf(records[0].Date) != day("2024-06-08") {
		t.Errorf("daily records = %+v, want only 2024-06-08", records)
	}
	if got := svc.Today(); got != day("2024-06-09") {
		t.Errorf("Today = %s, want 2024-06-09", got)
	}
}

func TestService_RunDailyCycleResolvesAutoZoneFirst(t *testing.T) {
	loc := mustLoad(t, testZone)
	now := time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-08"), 25, 15, fp(60)})
	p.forecast = seriesFor(loc, dayValues{day("2024-06-09"), 25, 15, fp(60)})

	st := setupTestStore(t)
	o, err := NewOrchestrator(st, p, Location{Latitude: 41.88, Longitude: -87.63, Timezone: "auto"}, false)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	wm := watermark.NewFile(filepath.Join(t.TempDir(), "last_fetch"))
	svc := NewService(o, st, wm, nil, ServiceOptions{ForecastDays: 1, BootstrapDays: 1})
	svc.now = func() time.Time { return now }

	if err := svc.RunDailyCycle(context.Background()); err != nil {
		t.Fatalf("RunDailyCycle: %v", err)
	}
	if len(p.dailyCalls) != 1 || p.dailyCalls[0] != day("2024-06-08") {
		t.Errorf("dailyCalls = %v, want [2024-06-08]", p.dailyCalls)
	}
}

func TestService_TriggerHourly(t *testing.T) {
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc, dayValues{day("2024-06-01"), 25, 15, fp(60)})
	svc, st, _ := newTestService(t, p, time.Date(2024, 6, 5, 12, 0, 0, 0, loc))
	ctx := context.Background()

	n, err := svc.TriggerHourly(ctx, day("2024-06-01"), day("2024-06-01"))
	if err != nil {
		t.Fatalf("TriggerHourly: %v", err)
	}
	if n != 24 {
		t.Errorf("stored = %d, want 24", n)
	}
	rows, err := svc.ListHourly(day("2024-06-01"), day("2024-06-01"))
	if err != nil {
		t.Fatalf("ListHourly: %v", err)
	}
	if len(rows) != 24 {
		t.Fatalf("hourly rows = %d, want 24", len(rows))
	}
	if rows[0].RelativeHumidity.Float64 != 60 {
		t.Errorf("humidity = %v, want 60", rows[0].RelativeHumidity)
	}
	if n, _ := st.CountDaily(); n != 0 {
		t.Errorf("CountDaily = %d, want 0", n)
	}

	// Re-ingesting the same hours is a no-op on conflict.
	if _, err := svc.TriggerHourly(ctx, day("2024-06-01"), day("2024-06-01")); err != nil {
		t.Fatalf("second TriggerHourly: %v", err)
	}
	if rows, _ := svc.ListHourly(day("2024-06-01"), day("2024-06-01")); len(rows) != 24 {
		t.Errorf("hourly rows after repeat = %d, want 24", len(rows))
	}

	if _, err := svc.TriggerHourly(ctx, day("2024-06-02"), day("2024-06-01")); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestService_ResetAndCombined(t *testing.T) {
	loc := mustLoad(t, testZone)
	p := newFakeProvider()
	p.addDays(loc,
		dayValues{day("2024-06-01"), 25, 15, fp(60)},
		dayValues{day("2024-06-02"), 30, 10, fp(40)},
	)
	p.forecast = seriesFor(loc,
		dayValues{day("2024-06-02"), 30, 10, fp(40)},
		dayValues{day("2024-06-03"), 24, 14, fp(50)},
	)
	svc, _, _ := newTestService(t, p, time.Date(2024, 6, 3, 9, 0, 0, 0, loc))

	if _, err := svc.TriggerHistorical(context.Background(), day("2024-06-01"), day("2024-06-02")); err != nil {
		t.Fatalf("TriggerHistorical: %v", err)
	}
	if _, err := svc.TriggerForecast(context.Background()); err != nil {
		t.Fatalf("TriggerForecast: %v", err)
	}

	points, err := svc.Combined()
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 2 historical + 1 forecast", len(points))
	}
	if !points[2].Forecast || points[2].CumulativeGDD != 29 {
		t.Errorf("projected point = %+v, want forecast with cumulative 29", points[2])
	}

	ok, err := svc.ResetCumulativeGDD()
	if err != nil || !ok {
		t.Fatalf("ResetCumulativeGDD = %v, %v", ok, err)
	}
	records, _ := svc.ListDaily()
	if records[0].CumulativeGDD != 10 || records[1].CumulativeGDD != 0 {
		t.Errorf("cumulative after reset = %v, %v; want 10, 0", records[0].CumulativeGDD, records[1].CumulativeGDD)
	}
}

func TestValidateWeather(t *testing.T) {
	loc := time.UTC
	r := seriesFor(loc, dayValues{day("2024-06-01"), 10, 20, fp(50)})
	flags := ValidateWeather(r.Daily.Weather(0))
	if len(flags) != 1 || flags[0] != FlagTempInverted {
		t.Errorf("flags = %v, want [%s]", flags, FlagTempInverted)
	}

	r = seriesFor(loc, dayValues{day("2024-06-01"), 25, 15, fp(50)})
	if flags := ValidateWeather(r.Daily.Weather(0)); len(flags) != 0 {
		t.Errorf("flags = %v, want none", flags)
	}
	if got := ValidateHumidity(101); len(got) != 1 {
		t.Errorf("ValidateHumidity(101) = %v", got)
	}
	if got := QualityFlagsToJSON([]string{FlagTempInverted}); got != `["temp_max_below_min"]` {
		t.Errorf("QualityFlagsToJSON = %q", got)
	}
}

func TestHumidityMeanGroupsByLocalDate(t *testing.T) {
	loc := mustLoad(t, testZone)
	// 2024-01-01T23:30:00-06:00 is 2024-01-02T05:30:00Z.
	late := time.Date(2024, 1, 1, 23, 30, 0, 0, loc).Unix()
	h := HourlySeries{
		Time:   []int64{late, late + 3600},
		Values: [][]*float64{{fp(80), fp(20)}},
	}
	o := &Orchestrator{}
	got := o.humidityFor(h, loc, day("2024-01-01"))
	if !got.Valid || math.Abs(got.Float64-80) > 1e-9 {
		t.Errorf("humidity for 2024-01-01 = %+v, want 80", got)
	}
}
