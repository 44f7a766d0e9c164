package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/scheduler"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
	maxStatsRange      = 366 * 24 * time.Hour
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Running bool   `json:"running"`
	Phase   string `json:"phase,omitempty"`
}

// TickResponse is the body of POST /api/v1/tick.
type TickResponse struct {
	Dispatched *workunit.WorkUnit `json:"dispatched"`
}

// SummariesResponse is the body of GET /api/v1/summaries.
type SummariesResponse struct {
	Date      string                 `json:"date,omitempty"`
	Query     string                 `json:"query,omitempty"`
	Count     int                    `json:"count"`
	Summaries []*summary.WorkSummary `json:"summaries"`
}

func (s *Server) handleHealth(c echo.Context) error {
	st := s.scheduler.Status()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Running: st.Running,
		Phase:   string(st.Phase.CurrentPhase),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) handlePlan(c echo.Context) error {
	res := s.scheduler.PlanDay(c.Request().Context())
	code := http.StatusOK
	if res.Result == scheduler.PlanPlanned {
		code = http.StatusCreated
	}
	return c.JSON(code, res)
}

func (s *Server) handleTick(c echo.Context) error {
	return c.JSON(http.StatusOK, TickResponse{Dispatched: s.scheduler.Tick(c.Request().Context())})
}

// handleSummaries lists a day's summaries (?date=YYYY-MM-DD, default
// today) or searches them (?q=text&limit=n).
func (s *Server) handleSummaries(c echo.Context) error {
	if s.summaries == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "summary store not configured")
	}
	ctx := c.Request().Context()

	if q := c.QueryParam("q"); q != "" {
		limit, err := parseLimit(c.QueryParam("limit"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		found, err := s.summaries.Search(ctx, q, limit)
		if err != nil {
			return s.internalError("search summaries", err)
		}
		return c.JSON(http.StatusOK, SummariesResponse{Query: q, Count: len(found), Summaries: nonNil(found)})
	}

	date := s.clock()
	if raw := c.QueryParam("date"); raw != "" {
		var err error
		if date, err = time.Parse(summary.DateLayout, raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}
	list, err := s.summaries.ByDate(ctx, date)
	if err != nil {
		return s.internalError("list summaries", err)
	}
	return c.JSON(http.StatusOK, SummariesResponse{
		Date:      date.Format(summary.DateLayout),
		Count:     len(list),
		Summaries: nonNil(list),
	})
}

func (s *Server) handleSummary(c echo.Context) error {
	if s.summaries == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "summary store not configured")
	}
	slug, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slug")
	}
	ws, err := s.summaries.Get(c.Request().Context(), slug)
	switch {
	case errors.Is(err, summary.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "summary not found")
	case errors.Is(err, summary.ErrInvalidSlug):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slug")
	case err != nil:
		return s.internalError("get summary", err)
	}
	return c.JSON(http.StatusOK, ws)
}

// handleStats aggregates ?start=..&end=.. (inclusive, default today).
func (s *Server) handleStats(c echo.Context) error {
	if s.summaries == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "summary store not configured")
	}
	today := s.clock()
	start, err := parseDate(c.QueryParam("start"), today)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
	}
	end, err := parseDate(c.QueryParam("end"), today)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end is before start")
	}
	if end.Sub(start) > maxStatsRange {
		return echo.NewHTTPError(http.StatusBadRequest, "range exceeds one year")
	}
	stats, err := s.summaries.Stats(c.Request().Context(), start, end)
	if err != nil {
		return s.internalError("summary stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) internalError(op string, err error) error {
	s.logger.Error(op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

func parseDate(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	return time.Parse(summary.DateLayout, raw)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultSearchLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxSearchLimit {
		n = maxSearchLimit
	}
	return n, nil
}

func nonNil(list []*summary.WorkSummary) []*summary.WorkSummary {
	if list == nil {
		return []*summary.WorkSummary{}
	}
	return list
}
