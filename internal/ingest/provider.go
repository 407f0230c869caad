package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/models"
)

// DailyVariables is the fixed, ordered list of daily variables requested from
// the provider. Responses are decoded positionally against this order.
var DailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"rain_sum",
	"sunshine_duration",
	"precipitation_probability_max",
	"uv_index_max",
	"et0_fao_evapotranspiration",
	"precipitation_sum",
	"precipitation_hours",
	"wind_speed_10m_max",
	"snowfall_sum",
}

// HourlyVariables lists the sub-daily variables. Relative humidity comes first
// because it is joined into the daily series.
var HourlyVariables = []string{
	"relative_humidity_2m",
	"temperature_2m",
	"dew_point_2m",
	"precipitation",
	"soil_temperature_0cm",
	"soil_moisture_0_to_1cm",
}

// Request describes one series fetch. Either Start/End or ForecastDays is set.
type Request struct {
	Latitude     float64
	Longitude    float64
	Timezone     string
	Start, End   align.Date
	ForecastDays int
}

// DailySeriesProvider fetches daily and hourly time series.
type DailySeriesProvider interface {
	FetchDailySeries(ctx context.Context, lat, lon float64, start, end align.Date, timezone string) (*SeriesResponse, error)
	FetchForecastSeries(ctx context.Context, lat, lon float64, timezone string, forecastDays int) (*SeriesResponse, error)
	FetchHourlySeries(ctx context.Context, lat, lon float64, start, end align.Date, timezone string) (*HourlySeries, error)
}

// CurrentConditionsProvider fetches a point-in-time observation.
type CurrentConditionsProvider interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (*models.CurrentConditions, error)
}

// SeriesResponse is a provider-agnostic daily bundle with its companion
// hourly series.
type SeriesResponse struct {
	Daily         DailySeries
	Hourly        HourlySeries
	Timezone      string
	OffsetSeconds int
	Raw           []byte
	HTTPStatus    int
}

// DailySeries holds one UTC epoch per day and one value column per entry of
// DailyVariables, in that order. Missing values are nil.
type DailySeries struct {
	Time   []int64
	Values [][]*float64
}

// Column returns the values for a named daily variable.
func (d DailySeries) Column(name string) []*float64 {
	for i, v := range DailyVariables {
		if v == name && i < len(d.Values) {
			return d.Values[i]
		}
	}
	return nil
}

// Weather returns the daily variables at index i.
func (d DailySeries) Weather(i int) models.Weather {
	at := func(col int) sql.NullFloat64 {
		if col >= len(d.Values) || i >= len(d.Values[col]) || d.Values[col][i] == nil {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: *d.Values[col][i], Valid: true}
	}
	return models.Weather{
		TempMax:                     at(0),
		TempMin:                     at(1),
		RainSum:                     at(2),
		SunshineDuration:            at(3),
		PrecipProbabilityMax:        at(4),
		UVIndexMax:                  at(5),
		ReferenceEvapotranspiration: at(6),
		PrecipitationSum:            at(7),
		PrecipitationHours:          at(8),
		WindMetric:                  at(9),
		SnowfallSum:                 at(10),
	}
}

// HourlySeries holds hourly timestamps and one value column per entry of
// HourlyVariables.
type HourlySeries struct {
	Time   []int64
	Values [][]*float64
}

func (h HourlySeries) column(i int) []*float64 {
	if i < len(h.Values) {
		return h.Values[i]
	}
	return nil
}

// RelativeHumidity returns the humidity column.
func (h HourlySeries) RelativeHumidity() []*float64 { return h.column(0) }

// Records converts the series into HourlyRecords.
func (h HourlySeries) Records() []models.HourlyRecord {
	at := func(col, i int) sql.NullFloat64 {
		c := h.column(col)
		if i >= len(c) || c[i] == nil {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: *c[i], Valid: true}
	}
	out := make([]models.HourlyRecord, 0, len(h.Time))
	for i, ts := range h.Time {
		out = append(out, models.HourlyRecord{
			Timestamp:          unixUTC(ts),
			RelativeHumidity:   at(0, i),
			Temperature:        at(1, i),
			DewPoint:           at(2, i),
			Precipitation:      at(3, i),
			SoilTemperature0cm: at(4, i),
			SoilMoisture0to1cm: at(5, i),
		})
	}
	return out
}

// epochList accepts either a JSON array of epochs or a single scalar epoch.
type epochList []int64

func (e *epochList) UnmarshalJSON(b []byte) error {
	var list []int64
	if err := json.Unmarshal(b, &list); err == nil {
		*e = list
		return nil
	}
	var single int64
	if err := json.Unmarshal(b, &single); err != nil {
		return fmt.Errorf("time: want epoch or list of epochs: %w", err)
	}
	*e = epochList{single}
	return nil
}

// valueList accepts a JSON array of nullable numbers or a single scalar.
type valueList []*float64

func (v *valueList) UnmarshalJSON(b []byte) error {
	var list []*float64
	if err := json.Unmarshal(b, &list); err == nil {
		*v = list
		return nil
	}
	var single *float64
	if err := json.Unmarshal(b, &single); err != nil {
		return fmt.Errorf("values: want number or list of numbers: %w", err)
	}
	*v = valueList{single}
	return nil
}
