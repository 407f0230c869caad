package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/models"
)

const (
	openMeteoProvider    = "open-meteo"
	openMeteoURL         = "https://api.open-meteo.com/v1/forecast"
	openMeteoCustomerURL = "https://customer-api.open-meteo.com/v1/forecast"
)

// OpenMeteo implements DailySeriesProvider and CurrentConditionsProvider
// against the Open-Meteo forecast API.
type OpenMeteo struct {
	baseURL string
	apiKey  string
	fetch   *fetcher
}

// NewOpenMeteo creates a client. With an API key the commercial endpoint is
// used and the key is sent as the apikey parameter.
func NewOpenMeteo(apiKey string, opts ClientOptions) *OpenMeteo {
	base := opts.BaseURL
	if base == "" {
		base = openMeteoURL
		if apiKey != "" {
			base = openMeteoCustomerURL
		}
	}
	return &OpenMeteo{
		baseURL: base,
		apiKey:  apiKey,
		fetch:   newFetcher(openMeteoProvider, opts),
	}
}

func (o *OpenMeteo) Name() string { return openMeteoProvider }

func (o *OpenMeteo) buildURL(req Request, daily, hourly []string) (*url.URL, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(req.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(req.Longitude, 'f', -1, 64))
	tz := req.Timezone
	if tz == "" {
		tz = "auto"
	}
	q.Set("timezone", tz)
	q.Set("timeformat", "unixtime")
	if req.ForecastDays > 0 {
		q.Set("forecast_days", strconv.Itoa(req.ForecastDays))
	} else {
		q.Set("start_date", req.Start.String())
		q.Set("end_date", req.End.String())
	}
	if len(daily) > 0 {
		q.Set("daily", strings.Join(daily, ","))
	}
	if len(hourly) > 0 {
		q.Set("hourly", strings.Join(hourly, ","))
	}
	if o.apiKey != "" {
		q.Set("apikey", o.apiKey)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func (o *OpenMeteo) FetchDailySeries(ctx context.Context, lat, lon float64, start, end align.Date, timezone string) (*SeriesResponse, error) {
	return o.series(ctx, "archive", Request{Latitude: lat, Longitude: lon, Timezone: timezone, Start: start, End: end})
}

func (o *OpenMeteo) FetchForecastSeries(ctx context.Context, lat, lon float64, timezone string, forecastDays int) (*SeriesResponse, error) {
	if forecastDays <= 0 {
		return nil, fmt.Errorf("forecast days must be positive, got %d", forecastDays)
	}
	return o.series(ctx, "forecast", Request{Latitude: lat, Longitude: lon, Timezone: timezone, ForecastDays: forecastDays})
}

func (o *OpenMeteo) FetchHourlySeries(ctx context.Context, lat, lon float64, start, end align.Date, timezone string) (*HourlySeries, error) {
	u, err := o.buildURL(Request{Latitude: lat, Longitude: lon, Timezone: timezone, Start: start, End: end}, nil, HourlyVariables)
	if err != nil {
		return nil, err
	}
	res, err := o.fetch.get(ctx, "hourly", u)
	if err != nil {
		return nil, err
	}
	var data openMeteoResponse
	if err := json.Unmarshal(res.Body, &data); err != nil {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "decode hourly response", Err: err}
	}
	if data.Error {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "provider error: " + data.Reason}
	}
	hourly, err := data.hourlySeries()
	if err != nil {
		return nil, err
	}
	o.fetch.remember(res)
	return &hourly, nil
}

func (o *OpenMeteo) series(ctx context.Context, endpoint string, req Request) (*SeriesResponse, error) {
	u, err := o.buildURL(req, DailyVariables, HourlyVariables)
	if err != nil {
		return nil, err
	}
	res, err := o.fetch.get(ctx, endpoint, u)
	if err != nil {
		return nil, err
	}
	resp, err := ParseOpenMeteoSeries(res.Body)
	if err != nil {
		return nil, err
	}
	o.fetch.remember(res)
	resp.HTTPStatus = res.Status
	return resp, nil
}

type openMeteoResponse struct {
	Timezone         string                     `json:"timezone"`
	UTCOffsetSeconds int                        `json:"utc_offset_seconds"`
	Daily            map[string]json.RawMessage `json:"daily"`
	Hourly           map[string]json.RawMessage `json:"hourly"`
	Error            bool                       `json:"error"`
	Reason           string                     `json:"reason"`
}

// ParseOpenMeteoSeries decodes a daily+hourly response body. Every entry of
// DailyVariables and the hourly humidity must be present.
func ParseOpenMeteoSeries(body []byte) (*SeriesResponse, error) {
	var data openMeteoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "decode response", Err: err}
	}
	if data.Error {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "provider error: " + data.Reason}
	}
	if data.Daily == nil {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "missing daily section"}
	}

	var times epochList
	raw, ok := data.Daily["time"]
	if !ok {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "missing daily time"}
	}
	if err := json.Unmarshal(raw, &times); err != nil {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "daily time", Err: err}
	}

	daily := DailySeries{Time: times, Values: make([][]*float64, len(DailyVariables))}
	for i, name := range DailyVariables {
		raw, ok := data.Daily[name]
		if !ok {
			return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "missing daily " + name}
		}
		var vals valueList
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "daily " + name, Err: err}
		}
		if len(vals) != len(times) {
			return nil, &DataShapeError{Provider: openMeteoProvider,
				Detail: fmt.Sprintf("daily %s has %d values for %d timestamps", name, len(vals), len(times))}
		}
		daily.Values[i] = vals
	}

	hourly, err := data.hourlySeries()
	if err != nil {
		return nil, err
	}

	return &SeriesResponse{
		Daily:         daily,
		Hourly:        hourly,
		Timezone:      data.Timezone,
		OffsetSeconds: data.UTCOffsetSeconds,
		Raw:           body,
	}, nil
}

// hourlySeries decodes the hourly section. Timestamps come either as a time
// array or as start/end/interval slots.
func (d openMeteoResponse) hourlySeries() (HourlySeries, error) {
	if d.Hourly == nil {
		return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "missing hourly section"}
	}

	var times []int64
	if raw, ok := d.Hourly["time"]; ok {
		var list epochList
		if err := json.Unmarshal(raw, &list); err != nil {
			return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "hourly time", Err: err}
		}
		times = list
	} else {
		var start, end, interval int64
		for name, dst := range map[string]*int64{"start": &start, "end": &end, "interval": &interval} {
			raw, ok := d.Hourly[name]
			if !ok {
				return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "missing hourly time"}
			}
			if err := json.Unmarshal(raw, dst); err != nil {
				return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "hourly " + name, Err: err}
			}
		}
		times = align.Slots(start, end, interval)
	}

	hourly := HourlySeries{Time: times, Values: make([][]*float64, len(HourlyVariables))}
	for i, name := range HourlyVariables {
		raw, ok := d.Hourly[name]
		if !ok {
			if i == 0 {
				return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "missing hourly " + name}
			}
			continue
		}
		var vals valueList
		if err := json.Unmarshal(raw, &vals); err != nil {
			return HourlySeries{}, &DataShapeError{Provider: openMeteoProvider, Detail: "hourly " + name, Err: err}
		}
		hourly.Values[i] = vals
	}
	return hourly, nil
}

// FetchCurrent reads current conditions from the same forecast endpoint.
func (o *OpenMeteo) FetchCurrent(ctx context.Context, lat, lon float64) (*models.CurrentConditions, error) {
	u, err := o.buildURL(Request{Latitude: lat, Longitude: lon, Timezone: "UTC", ForecastDays: 1}, nil, nil)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,surface_pressure,weather_code")
	u.RawQuery = q.Encode()

	res, err := o.fetch.get(WithFreshData(ctx), "current", u)
	if err != nil {
		return nil, err
	}

	var data struct {
		Current struct {
			Time             int64    `json:"time"`
			Temperature      *float64 `json:"temperature_2m"`
			RelativeHumidity *float64 `json:"relative_humidity_2m"`
			WindSpeed        *float64 `json:"wind_speed_10m"`
			Pressure         *float64 `json:"surface_pressure"`
			WeatherCode      *int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.Unmarshal(res.Body, &data); err != nil {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "decode current", Err: err}
	}
	if data.Current.Time == 0 {
		return nil, &DataShapeError{Provider: openMeteoProvider, Detail: "missing current section"}
	}

	cc := &models.CurrentConditions{
		Provider:         openMeteoProvider,
		ObservedAt:       unixUTC(data.Current.Time),
		Temperature:      nullable(data.Current.Temperature),
		RelativeHumidity: nullable(data.Current.RelativeHumidity),
		WindSpeed:        nullable(data.Current.WindSpeed),
		Pressure:         nullable(data.Current.Pressure),
	}
	if data.Current.WeatherCode != nil {
		cc.Description = weatherCodeDescription(*data.Current.WeatherCode)
	}
	return cc, nil
}

// weatherCodeDescription maps WMO weather interpretation codes.
func weatherCodeDescription(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code <= 3:
		return "Partly cloudy"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return "Rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "Snow"
	case code >= 95:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func unixUTC(epoch int64) time.Time {
	return time.Unix(epoch, 0).UTC()
}
