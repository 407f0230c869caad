// Package config holds the runtime settings shared by every command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	ProviderOpenMeteo      = "openmeteo"
	ProviderOpenWeatherMap = "openweathermap"
)

// Config is bound by kong from flags, TURF_* environment variables and .env.
type Config struct {
	Latitude  float64 `help:"Site latitude." env:"TURF_LATITUDE" required:"" validate:"gte=-90,lte=90"`
	Longitude float64 `help:"Site longitude." env:"TURF_LONGITUDE" required:"" validate:"gte=-180,lte=180"`
	Timezone  string  `help:"IANA zone for local dates, or 'auto' to follow the provider." env:"TURF_TIMEZONE" required:""`

	APIKey            string `name:"api-key" help:"Open-Meteo customer API key." env:"TURF_API_KEY"`
	OpenWeatherAPIKey string `name:"openweather-api-key" help:"OpenWeatherMap API key." env:"TURF_OPENWEATHER_API_KEY"`
	CurrentProvider   string `help:"Current conditions provider." env:"TURF_CURRENT_PROVIDER" default:"openmeteo" enum:"openmeteo,openweathermap"`

	Database      string `help:"SQLite path or postgres:// connection string." env:"TURF_DATABASE" default:"data/turfweather.db"`
	WatermarkFile string `help:"Watermark file; empty stores it in the database." env:"TURF_WATERMARK_FILE"`

	Port       string `help:"HTTP server port." env:"TURF_PORT" default:"8080"`
	CORSOrigin string `name:"cors-origin" help:"Allowed CORS origin." env:"TURF_CORS_ORIGIN" default:"http://localhost:5173"`

	MaxRetries  int           `help:"Provider retries per request." env:"TURF_MAX_RETRIES" default:"3" validate:"gte=0,lte=10"`
	HTTPTimeout time.Duration `name:"http-timeout" help:"Per-request provider timeout." env:"TURF_HTTP_TIMEOUT" default:"30s" validate:"gt=0"`
	CacheTTL    time.Duration `name:"cache-ttl" help:"Provider response cache lifetime; 0 disables." env:"TURF_CACHE_TTL" default:"1h" validate:"gte=0"`

	ForecastDays         int    `help:"Days of forecast to fetch." env:"TURF_FORECAST_DAYS" default:"7" validate:"gte=1,lte=16"`
	BootstrapDays        int    `help:"Days of history fetched into an empty database." env:"TURF_BOOTSTRAP_DAYS" default:"30" validate:"gte=1,lte=366"`
	DailySchedule        string `help:"Cron spec for the daily cycle." env:"TURF_DAILY_SCHEDULE" default:"0 1 * * *"`
	PersistHourly        bool   `help:"Store hourly samples alongside daily records." env:"TURF_PERSIST_HOURLY"`
	PayloadRetentionDays int    `help:"Days to keep raw provider payloads; 0 keeps them forever." env:"TURF_PAYLOAD_RETENTION_DAYS" default:"90" validate:"gte=0"`

	Debug bool `help:"Verbose scheduler and provider logging." env:"TURF_DEBUG"`
}

// ConfigurationError reports an invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var validate = validator.New()

// Validate checks ranges and cross-field requirements. The first problem
// found is returned as a *ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return &ConfigurationError{
				Field: kebab(fe.Field()),
				Err:   fmt.Errorf("value %v fails %s=%s", fe.Value(), fe.Tag(), fe.Param()),
			}
		}
		return &ConfigurationError{Field: "config", Err: err}
	}

	if c.Timezone == "" {
		return &ConfigurationError{Field: "timezone", Err: errors.New("required")}
	}
	if c.Timezone != "auto" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return &ConfigurationError{Field: "timezone", Err: err}
		}
	}

	switch c.CurrentProvider {
	case ProviderOpenMeteo, "":
	case ProviderOpenWeatherMap:
		if c.OpenWeatherAPIKey == "" {
			return &ConfigurationError{Field: "openweather-api-key", Err: errors.New("required when current-provider is openweathermap")}
		}
	default:
		return &ConfigurationError{Field: "current-provider", Err: fmt.Errorf("unknown provider %q", c.CurrentProvider)}
	}

	if c.DailySchedule != "" {
		if _, err := cron.ParseStandard(c.DailySchedule); err != nil {
			return &ConfigurationError{Field: "daily-schedule", Err: err}
		}
	}
	if c.Database == "" {
		return &ConfigurationError{Field: "database", Err: errors.New("required")}
	}
	return nil
}

// Location returns the zone used for cron schedules. "auto" schedules in UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "auto" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// kebab turns a Go field name into its flag name, e.g. HTTPTimeout -> http-timeout.
func kebab(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		upper := unicode.IsUpper(r)
		if upper && i > 0 {
			prevLower := unicode.IsLower(rs[i-1])
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if prevLower || (unicode.IsUpper(rs[i-1]) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
