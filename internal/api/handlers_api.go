package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/turfweather/internal/align"
)

// dateRange is a validated inclusive range of local dates.
type dateRange struct {
	Start time.Time `validate:"required"`
	End   time.Time `validate:"required,gtefield=Start"`
}

// parseDateRange reads start and end query parameters, falling back to the
// given defaults when a parameter is absent.
func parseDateRange(r *http.Request, defStart, defEnd align.Date) (align.Date, align.Date, error) {
	start, err := queryDate(r, "start", defStart)
	if err != nil {
		return align.Date{}, align.Date{}, err
	}
	end, err := queryDate(r, "end", defEnd)
	if err != nil {
		return align.Date{}, align.Date{}, err
	}
	if err := validate.Struct(dateRange{Start: start.Time(), End: end.Time()}); err != nil {
		return align.Date{}, align.Date{}, err
	}
	return start, end, nil
}

func queryDate(r *http.Request, name string, def align.Date) (align.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	d, err := align.ParseDate(v)
	if err != nil {
		return align.Date{}, badRequest{fmt.Errorf("invalid %s: %w", name, err)}
	}
	return d, nil
}

type healthQuery struct {
	Days  int `validate:"min=1,max=365"`
	Limit int `validate:"min=1,max=500"`
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid %s: %w", name, err)}
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}

	last, ok, err := s.service.LastFetch()
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		resp["last_fetch"] = last
	} else {
		resp["last_fetch"] = nil
	}
	if n, err := s.store.CountDaily(); err == nil {
		resp["daily_records"] = n
	}
	if v, err := s.store.MigrationVersion(); err == nil {
		resp["schema_version"] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	today := s.service.Today()
	start, end, err := parseDateRange(r, today.AddDays(-1), today)
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := s.service.TriggerHistorical(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"start":   start.String(),
		"end":     end.String(),
		"records": n,
	})
}

func (s *Server) handleFetchForecast(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.TriggerForecast(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": n})
}

func (s *Server) handleFetchHourly(w http.ResponseWriter, r *http.Request) {
	today := s.service.Today()
	start, end, err := parseDateRange(r, today.AddDays(-1), today)
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := s.service.TriggerHourly(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"start":   start.String(),
		"end":     end.String(),
		"records": n,
	})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListDaily()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dailyViews(records))
}

func (s *Server) handleDailyForecast(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListForecast()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forecastViews(records))
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	today := s.service.Today()
	start, end, err := parseDateRange(r, today, today)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.service.ListHourly(start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hourlyViews(records))
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	points, err := s.service.Combined()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seriesViews(points))
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, currentView(c))
}

func (s *Server) handleResetGDD(w http.ResponseWriter, r *http.Request) {
	reset, err := s.service.ResetCumulativeGDD()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "reset": reset})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false, "jobs": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running": true,
		"jobs":    s.scheduler.Jobs(),
	})
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 7)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Struct(healthQuery{Days: days, Limit: limit}); err != nil {
		writeError(w, err)
		return
	}

	summaries, err := s.store.GetIngestHealth(days)
	if err != nil {
		writeError(w, err)
		return
	}
	recent, err := s.store.GetRecentIngestErrors(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.store.GetRawPayloadStats()
	if err != nil {
		writeError(w, err)
		return
	}

	errs := make([]map[string]any, 0, len(recent))
	for _, run := range recent {
		e := map[string]any{
			"id":         run.ID,
			"source":     run.Source,
			"endpoint":   run.Endpoint,
			"started_at": run.StartedAt,
		}
		if run.HTTPStatus.Valid {
			e["http_status"] = run.HTTPStatus.Int64
		}
		if run.ErrorMessage.Valid {
			e["error"] = run.ErrorMessage.String
		}
		errs = append(errs, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"days":          days,
		"summaries":     summaries,
		"recent_errors": errs,
		"raw_payloads":  stats,
	})
}
