package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/lox/turfweather/internal/models"
)

const (
	openWeatherProvider = "openweathermap"
	openWeatherURL      = "https://api.openweathermap.org/data/2.5/weather"
)

// OpenWeatherMap implements CurrentConditionsProvider. It requires an API key.
type OpenWeatherMap struct {
	baseURL string
	apiKey  string
	fetch   *fetcher
}

func NewOpenWeatherMap(apiKey string, opts ClientOptions) *OpenWeatherMap {
	base := opts.BaseURL
	if base == "" {
		base = openWeatherURL
	}
	return &OpenWeatherMap{
		baseURL: base,
		apiKey:  apiKey,
		fetch:   newFetcher(openWeatherProvider, opts),
	}
}

func (p *OpenWeatherMap) Name() string { return openWeatherProvider }

func (p *OpenWeatherMap) FetchCurrent(ctx context.Context, lat, lon float64) (*models.CurrentConditions, error) {
	if p.apiKey == "" {
		return nil, errors.New("openweathermap api key is not configured")
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("units", "metric")
	q.Set("appid", p.apiKey)
	u.RawQuery = q.Encode()

	res, err := p.fetch.get(WithFreshData(ctx), "current", u)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return nil, &DataShapeError{Provider: openWeatherProvider, Detail: "decode current", Err: err}
	}
	if payload.Dt == 0 {
		return nil, &DataShapeError{Provider: openWeatherProvider, Detail: "missing dt"}
	}

	cc := &models.CurrentConditions{
		Provider:         openWeatherProvider,
		ObservedAt:       unixUTC(payload.Dt),
		Temperature:      nullable(payload.Main.Temp),
		RelativeHumidity: nullable(payload.Main.Humidity),
		WindSpeed:        nullable(payload.Wind.Speed),
		Pressure:         nullable(payload.Main.Pressure),
	}
	if len(payload.Weather) > 0 {
		desc := payload.Weather[0].Description
		if desc == "" {
			desc = payload.Weather[0].Main
		}
		if desc != "" {
			cc.Description = strings.ToUpper(desc[:1]) + desc[1:]
		}
	}
	return cc, nil
}
