// Package turf computes turf-management indices from daily weather.
package turf

import (
	"database/sql"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// GDDBaseTemp is the base threshold in °C below which no heat accumulates.
	GDDBaseTemp = 10.0

	growthOptimum = 20.0
	growthSpread  = 5.5

	// Smith-Kerns dollar spot model coefficients.
	dollarSpotB0 = -8.37
	dollarSpotB1 = 0.15
	dollarSpotB2 = 0.06
)

// GrowingDegreeDays returns max(avgTemp - 10, 0).
func GrowingDegreeDays(avgTemp float64) float64 {
	return math.Max(avgTemp-GDDBaseTemp, 0)
}

// GrowthPotential is a Gaussian response peaking at 20°C, bounded in (0, 1].
func GrowthPotential(avgTemp float64) float64 {
	z := (avgTemp - growthOptimum) / growthSpread
	return math.Exp(-0.5 * z * z)
}

// DollarSpotProbability returns the Smith-Kerns logistic probability of
// dollar spot development, clamped to [0, 1] and rounded to two decimals.
func DollarSpotProbability(avgTemp, relHumidity float64) float64 {
	x := dollarSpotB0 + dollarSpotB1*avgTemp + dollarSpotB2*relHumidity
	p := logistic(x)
	if math.IsNaN(p) {
		p = 0
	}
	return Round2(math.Max(0, math.Min(1, p)))
}

// logistic is e^x/(1+e^x) written to avoid Inf/Inf for large x.
func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// AverageTemp is (max+min)/2, invalid when either bound is missing.
func AverageTemp(tempMax, tempMin sql.NullFloat64) sql.NullFloat64 {
	if !tempMax.Valid || !tempMin.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: (tempMax.Float64 + tempMin.Float64) / 2, Valid: true}
}

// DollarSpot is DollarSpotProbability over nullable inputs. Missing
// temperature or humidity yields an invalid result; no defaults are used.
func DollarSpot(avgTemp, relHumidity sql.NullFloat64) sql.NullFloat64 {
	if !avgTemp.Valid || !relHumidity.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: DollarSpotProbability(avgTemp.Float64, relHumidity.Float64), Valid: true}
}

// CumulativeGDD adds a day's contribution to the previous running total.
// A missing gdd contributes zero.
func CumulativeGDD(prev float64, gdd sql.NullFloat64) float64 {
	if !gdd.Valid {
		return prev
	}
	return prev + gdd.Float64
}

// Indices are the derived values for one day.
type Indices struct {
	AvgTemp         sql.NullFloat64
	GDD             sql.NullFloat64
	GrowthPotential sql.NullFloat64
	DollarSpot      sql.NullFloat64
}

// Derive computes a day's indices from its temperature extremes and mean
// relative humidity. GDD and growth potential are stored at two decimals.
func Derive(tempMax, tempMin, relHumidity sql.NullFloat64) Indices {
	avg := AverageTemp(tempMax, tempMin)
	idx := Indices{AvgTemp: avg}
	if avg.Valid {
		idx.GDD = sql.NullFloat64{Float64: Round2(GrowingDegreeDays(avg.Float64)), Valid: true}
		idx.GrowthPotential = sql.NullFloat64{Float64: Round2(GrowthPotential(avg.Float64)), Valid: true}
	}
	idx.DollarSpot = DollarSpot(avg, relHumidity)
	return idx
}

// ProjectCumulative continues a running GDD total through a sequence of
// forecast GDD values, returning the projected total after each day.
func ProjectCumulative(last float64, forecastGDD []sql.NullFloat64) []float64 {
	out := make([]float64, len(forecastGDD))
	running := last
	for i, g := range forecastGDD {
		running = CumulativeGDD(running, g)
		out[i] = Round2(running)
	}
	return out
}
