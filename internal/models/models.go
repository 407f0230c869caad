package models

import (
	"database/sql"
	"time"
)

// Weather holds the provider's daily variables for one calendar date.
type Weather struct {
	TempMax                     sql.NullFloat64
	TempMin                     sql.NullFloat64
	RainSum                     sql.NullFloat64
	SunshineDuration            sql.NullFloat64
	PrecipProbabilityMax        sql.NullFloat64
	UVIndexMax                  sql.NullFloat64
	ReferenceEvapotranspiration sql.NullFloat64
	PrecipitationSum            sql.NullFloat64
	PrecipitationHours          sql.NullFloat64
	WindMetric                  sql.NullFloat64 // daily max 10m wind speed
	SnowfallSum                 sql.NullFloat64
}

// DailyRecord is one ingested historical day. Rows are insert-only.
type DailyRecord struct {
	ID   int64
	Date time.Time // midnight UTC of the local calendar date
	Weather
	GDD                   sql.NullFloat64
	CumulativeGDD         float64
	GrowthPotential       sql.NullFloat64
	DollarSpotProbability sql.NullFloat64
	RecordedAt            time.Time
}

// ForecastRecord is the latest forecast for a date; re-fetching replaces it.
type ForecastRecord struct {
	ID   int64
	Date time.Time
	Weather
	ForecastGDD                   sql.NullFloat64
	ForecastGrowthPotential       sql.NullFloat64
	ForecastDollarSpotProbability sql.NullFloat64
	FetchedAt                     time.Time
}

type HourlyRecord struct {
	ID                 int64
	Timestamp          time.Time
	RelativeHumidity   sql.NullFloat64
	Temperature        sql.NullFloat64
	DewPoint           sql.NullFloat64
	Precipitation      sql.NullFloat64
	SoilTemperature0cm sql.NullFloat64
	SoilMoisture0to1cm sql.NullFloat64
	RecordedAt         time.Time
}

// CurrentConditions is a point-in-time reading from a current-conditions provider.
type CurrentConditions struct {
	Provider         string
	ObservedAt       time.Time
	Temperature      sql.NullFloat64
	RelativeHumidity sql.NullFloat64
	WindSpeed        sql.NullFloat64
	Pressure         sql.NullFloat64
	Description      string
}
