// Package align maps provider UTC epochs onto local calendar dates and
// aggregates sub-daily samples into per-day summaries.
package align

import (
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string. Longer strings (e.g. RFC 3339
// timestamps returned by some drivers for DATE columns) are truncated first.
func ParseDate(s string) (Date, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// In returns local midnight of the date in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) After(o Date) bool { return d.Time().After(o.Time()) }

func (d Date) IsZero() bool { return d == Date{} }

// DaysBetween returns the inclusive list of dates from start to end. An end
// before start yields nil.
func DaysBetween(start, end Date) []Date {
	var days []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// LocalDate converts a UTC epoch (seconds) to the calendar date it falls on in
// loc. The day boundary is loc's local midnight.
func LocalDate(epoch int64, loc *time.Location) Date {
	return DateOf(time.Unix(epoch, 0).In(loc))
}

// LocalDates converts each epoch to its local calendar date.
func LocalDates(timestamps []int64, loc *time.Location) []Date {
	dates := make([]Date, len(timestamps))
	for i, ts := range timestamps {
		dates[i] = LocalDate(ts, loc)
	}
	return dates
}

// Slots reconstructs slot timestamps start + k*interval for k in
// [0, (end-start)/interval).
func Slots(start, end, interval int64) []int64 {
	if interval <= 0 || end <= start {
		return nil
	}
	n := (end - start) / interval
	slots := make([]int64, n)
	for k := int64(0); k < n; k++ {
		slots[k] = start + k*interval
	}
	return slots
}

// DailyMeans groups samples by the local date their timestamp falls on and
// returns the arithmetic mean of the non-missing values per date. Dates with
// no contributing sample are absent from the result.
func DailyMeans(timestamps []int64, values []*float64, loc *time.Location) map[Date]float64 {
	type acc struct {
		sum   float64
		count int
	}
	groups := make(map[Date]*acc)
	for i, ts := range timestamps {
		if i >= len(values) || values[i] == nil {
			continue
		}
		d := LocalDate(ts, loc)
		g, ok := groups[d]
		if !ok {
			g = &acc{}
			groups[d] = g
		}
		g.sum += *values[i]
		g.count++
	}

	means := make(map[Date]float64, len(groups))
	for d, g := range groups {
		if g.count > 0 {
			means[d] = g.sum / float64(g.count)
		}
	}
	return means
}

// ResolveLocation returns the zone used for alignment. "auto" (or empty)
// defers to the zone the provider reported for the coordinates, falling back
// to a fixed offset when that name is unknown to the local tz database.
func ResolveLocation(name, providerZone string, offsetSeconds int) (*time.Location, error) {
	if name != "" && name != "auto" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", name, err)
		}
		return loc, nil
	}
	if providerZone != "" {
		if loc, err := time.LoadLocation(providerZone); err == nil {
			return loc, nil
		}
	}
	label := providerZone
	if label == "" {
		label = "provider"
	}
	return time.FixedZone(label, offsetSeconds), nil
}
