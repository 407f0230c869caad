package api

import (
	"database/sql"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/ingest"
	"github.com/lox/turfweather/internal/models"
)

// WeatherView is the JSON form of the daily weather variables.
type WeatherView struct {
	TempMax                     *float64 `json:"temp_max"`
	TempMin                     *float64 `json:"temp_min"`
	RainSum                     *float64 `json:"rain_sum"`
	SunshineDuration            *float64 `json:"sunshine_duration"`
	PrecipProbabilityMax        *float64 `json:"precip_probability_max"`
	UVIndexMax                  *float64 `json:"uv_index_max"`
	ReferenceEvapotranspiration *float64 `json:"reference_evapotranspiration"`
	PrecipitationSum            *float64 `json:"precipitation_sum"`
	PrecipitationHours          *float64 `json:"precipitation_hours"`
	WindMetric                  *float64 `json:"wind_metric"`
	SnowfallSum                 *float64 `json:"snowfall_sum"`
}

type DailyView struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
	WeatherView
	GDD                   *float64  `json:"gdd"`
	CumulativeGDD         float64   `json:"cumulative_gdd"`
	GrowthPotential       *float64  `json:"growth_potential"`
	DollarSpotProbability *float64  `json:"dollar_spot_probability"`
	RecordedAt            time.Time `json:"recorded_at"`
}

type ForecastView struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
	WeatherView
	ForecastGDD                   *float64  `json:"forecast_gdd"`
	ForecastGrowthPotential       *float64  `json:"forecast_growth_potential"`
	ForecastDollarSpotProbability *float64  `json:"forecast_dollar_spot_probability"`
	FetchedAt                     time.Time `json:"fetched_at"`
}

type HourlyView struct {
	Timestamp          time.Time `json:"timestamp"`
	RelativeHumidity   *float64  `json:"relative_humidity"`
	Temperature        *float64  `json:"temperature"`
	DewPoint           *float64  `json:"dew_point"`
	Precipitation      *float64  `json:"precipitation"`
	SoilTemperature0cm *float64  `json:"soil_temperature_0cm"`
	SoilMoisture0to1cm *float64  `json:"soil_moisture_0_to_1cm"`
}

type SeriesView struct {
	Date            string   `json:"date"`
	Forecast        bool     `json:"forecast"`
	TempMax         *float64 `json:"temp_max"`
	TempMin         *float64 `json:"temp_min"`
	GDD             *float64 `json:"gdd"`
	CumulativeGDD   float64  `json:"cumulative_gdd"`
	GrowthPotential *float64 `json:"growth_potential"`
	DollarSpot      *float64 `json:"dollar_spot_probability"`
}

type CurrentView struct {
	Provider         string    `json:"provider"`
	ObservedAt       time.Time `json:"observed_at"`
	Temperature      *float64  `json:"temperature"`
	RelativeHumidity *float64  `json:"relative_humidity"`
	WindSpeed        *float64  `json:"wind_speed"`
	Pressure         *float64  `json:"pressure"`
	Description      string    `json:"description,omitempty"`
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func weatherView(w models.Weather) WeatherView {
	return WeatherView{
		TempMax:                     ptr(w.TempMax),
		TempMin:                     ptr(w.TempMin),
		RainSum:                     ptr(w.RainSum),
		SunshineDuration:            ptr(w.SunshineDuration),
		PrecipProbabilityMax:        ptr(w.PrecipProbabilityMax),
		UVIndexMax:                  ptr(w.UVIndexMax),
		ReferenceEvapotranspiration: ptr(w.ReferenceEvapotranspiration),
		PrecipitationSum:            ptr(w.PrecipitationSum),
		PrecipitationHours:          ptr(w.PrecipitationHours),
		WindMetric:                  ptr(w.WindMetric),
		SnowfallSum:                 ptr(w.SnowfallSum),
	}
}

func dailyViews(records []models.DailyRecord) []DailyView {
	out := make([]DailyView, 0, len(records))
	for _, r := range records {
		out = append(out, DailyView{
			ID:                    r.ID,
			Date:                  align.DateOf(r.Date).String(),
			WeatherView:           weatherView(r.Weather),
			GDD:                   ptr(r.GDD),
			CumulativeGDD:         r.CumulativeGDD,
			GrowthPotential:       ptr(r.GrowthPotential),
			DollarSpotProbability: ptr(r.DollarSpotProbability),
			RecordedAt:            r.RecordedAt,
		})
	}
	return out
}

func forecastViews(records []models.ForecastRecord) []ForecastView {
	out := make([]ForecastView, 0, len(records))
	for _, r := range records {
		out = append(out, ForecastView{
			ID:                            r.ID,
			Date:                          align.DateOf(r.Date).String(),
			WeatherView:                   weatherView(r.Weather),
			ForecastGDD:                   ptr(r.ForecastGDD),
			ForecastGrowthPotential:       ptr(r.ForecastGrowthPotential),
			ForecastDollarSpotProbability: ptr(r.ForecastDollarSpotProbability),
			FetchedAt:                     r.FetchedAt,
		})
	}
	return out
}

func hourlyViews(records []models.HourlyRecord) []HourlyView {
	out := make([]HourlyView, 0, len(records))
	for _, r := range records {
		out = append(out, HourlyView{
			Timestamp:          r.Timestamp,
			RelativeHumidity:   ptr(r.RelativeHumidity),
			Temperature:        ptr(r.Temperature),
			DewPoint:           ptr(r.DewPoint),
			Precipitation:      ptr(r.Precipitation),
			SoilTemperature0cm: ptr(r.SoilTemperature0cm),
			SoilMoisture0to1cm: ptr(r.SoilMoisture0to1cm),
		})
	}
	return out
}

func seriesViews(points []ingest.SeriesPoint) []SeriesView {
	out := make([]SeriesView, 0, len(points))
	for _, p := range points {
		out = append(out, SeriesView{
			Date:            p.Date.String(),
			Forecast:        p.Forecast,
			TempMax:         ptr(p.TempMax),
			TempMin:         ptr(p.TempMin),
			GDD:             ptr(p.GDD),
			CumulativeGDD:   p.CumulativeGDD,
			GrowthPotential: ptr(p.GrowthPotential),
			DollarSpot:      ptr(p.DollarSpot),
		})
	}
	return out
}

func currentView(c *models.CurrentConditions) CurrentView {
	return CurrentView{
		Provider:         c.Provider,
		ObservedAt:       c.ObservedAt,
		Temperature:      ptr(c.Temperature),
		RelativeHumidity: ptr(c.RelativeHumidity),
		WindSpeed:        ptr(c.WindSpeed),
		Pressure:         ptr(c.Pressure),
		Description:      c.Description,
	}
}
