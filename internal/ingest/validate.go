package ingest

import (
	"encoding/json"

	"github.com/lox/turfweather/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagTempInverted       = "temp_max_below_min"
	FlagPrecipNegative     = "precip_negative"
	FlagProbabilityInvalid = "probability_invalid"
	FlagSunshineInvalid    = "sunshine_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagHumidityInvalid    = "humidity_invalid"
)

// ValidateWeather returns quality flags for implausible daily values.
// Flagged days are still ingested; the flags are recorded on the ingest run.
func ValidateWeather(w models.Weather) []string {
	var flags []string

	if tempOutOfRange(w.TempMax.Float64, w.TempMax.Valid) || tempOutOfRange(w.TempMin.Float64, w.TempMin.Valid) {
		flags = append(flags, FlagTempOutOfRange)
	}

	if w.TempMax.Valid && w.TempMin.Valid && w.TempMax.Float64 < w.TempMin.Float64 {
		flags = append(flags, FlagTempInverted)
	}

	if (w.RainSum.Valid && w.RainSum.Float64 < 0) ||
		(w.PrecipitationSum.Valid && w.PrecipitationSum.Float64 < 0) ||
		(w.SnowfallSum.Valid && w.SnowfallSum.Float64 < 0) {
		flags = append(flags, FlagPrecipNegative)
	}

	if w.PrecipProbabilityMax.Valid && (w.PrecipProbabilityMax.Float64 < 0 || w.PrecipProbabilityMax.Float64 > 100) {
		flags = append(flags, FlagProbabilityInvalid)
	}

	if w.SunshineDuration.Valid && (w.SunshineDuration.Float64 < 0 || w.SunshineDuration.Float64 > 86400) {
		flags = append(flags, FlagSunshineInvalid)
	}

	if w.WindMetric.Valid && (w.WindMetric.Float64 < 0 || w.WindMetric.Float64 > 400) {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	return flags
}

func tempOutOfRange(v float64, valid bool) bool {
	return valid && (v < -60 || v > 60)
}

// ValidateHumidity flags a mean relative humidity outside [0, 100].
func ValidateHumidity(rh float64) []string {
	if rh < 0 || rh > 100 {
		return []string{FlagHumidityInvalid}
	}
	return nil
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
