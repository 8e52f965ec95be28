package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/cohabit/internal/auth"
	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/model"
)

type CalendarHandler struct {
	svc       *calendar.Service
	loc       *time.Location
	weekStart time.Weekday
	logger    *slog.Logger

	Now func() time.Time
}

func NewCalendarHandler(svc *calendar.Service, loc *time.Location, weekStart time.Weekday, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{
		svc:       svc,
		loc:       loc,
		weekStart: weekStart,
		logger:    logger.With("component", "calendar_handler"),
		Now:       time.Now,
	}
}

func (h *CalendarHandler) now() time.Time {
	return h.Now().In(h.loc)
}

// events refreshes from the backend, falling back to the last snapshot on
// transport failure. The returned error is non-nil only for a failed
// refresh; events are still usable.
func (h *CalendarHandler) events(r *http.Request) ([]model.ScheduleEvent, error) {
	viewer := auth.User(r.Context())
	events, err := h.svc.Refresh(r.Context(), viewer)
	if err != nil {
		h.logger.Warn("refresh schedules", "error", err)
		return h.svc.Events(viewer), err
	}
	return events, nil
}

type scheduleRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func (req scheduleRequest) draft() calendar.Draft {
	return calendar.Draft{Title: req.Title, Description: req.Description, Start: req.Start, End: req.End}
}

// List handles GET /api/schedules
func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Refresh(r.Context(), auth.User(r.Context()))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if events == nil {
		events = []model.ScheduleEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type dayResponse struct {
	Date    string                `json:"date"`
	InMonth bool                  `json:"in_month"`
	Today   bool                  `json:"today"`
	Events  []model.ScheduleEvent `json:"events"`
}

func dayResponses(days []calendar.Day) []dayResponse {
	out := make([]dayResponse, len(days))
	for i, d := range days {
		events := d.Events
		if events == nil {
			events = []model.ScheduleEvent{}
		}
		out[i] = dayResponse{
			Date:    d.Date.Format("2006-01-02"),
			InMonth: d.InMonth,
			Today:   d.Today,
			Events:  events,
		}
	}
	return out
}

// Month handles GET /api/schedules/month?year=2026&month=2
func (h *CalendarHandler) Month(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	year, month := now.Year(), now.Month()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be a number")
			return
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
			return
		}
		month = time.Month(m)
	}

	events, err := h.events(r)
	grid := calendar.MonthGrid(events, year, month, h.weekStart, now)
	weeks := make([][]dayResponse, len(grid))
	for i, week := range grid {
		weeks[i] = dayResponses(week)
	}

	resp := map[string]any{"year": year, "month": int(month), "weeks": weeks}
	if err != nil {
		_, msg := failure(err)
		resp["warning"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// Week handles GET /api/schedules/week?date=2026-02-05
func (h *CalendarHandler) Week(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	day := now
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}

	events, err := h.events(r)
	resp := map[string]any{"days": dayResponses(calendar.WeekList(events, day, h.weekStart, now))}
	if err != nil {
		_, msg := failure(err)
		resp["warning"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// Draft handles GET /api/schedules/draft?start=...&end=...
func (h *CalendarHandler) Draft(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 format")
		return
	}
	var end time.Time
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339 format")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":  calendar.ModeCreate,
		"draft": calendar.NewDraft(start, end),
	})
}

// Get handles GET /api/schedules/{id} and reports how the dialog opens.
func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	event, mode, err := h.svc.Open(auth.User(r.Context()), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode, "event": event})
}

// Create handles POST /api/schedules
func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	event, err := h.svc.Create(r.Context(), auth.User(r.Context()), req.draft())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Update handles PUT /api/schedules/{id}
func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	event, err := h.svc.Update(r.Context(), auth.User(r.Context()), id, req.draft())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Delete handles DELETE /api/schedules/{id}
func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.Delete(r.Context(), auth.User(r.Context()), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ICS handles GET /calendar.ics
func (h *CalendarHandler) ICS(w http.ResponseWriter, r *http.Request) {
	events, err := h.events(r)
	if err != nil && len(events) == 0 {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="cohabit.ics"`)
	if err := calendar.WriteICS(w, events, h.Now()); err != nil {
		h.logger.Error("write ics", "error", err)
	}
}
