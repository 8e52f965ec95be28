package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/cohabit/internal/model"
)

// UntitledEvent is shown for entries saved without a title.
const UntitledEvent = "Untitled"

// ScheduleInput is the body of a create or update request.
type ScheduleInput struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

type scheduleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

func (in ScheduleInput) request() scheduleRequest {
	return scheduleRequest{
		Title:       in.Title,
		Description: in.Description,
		StartDate:   in.Start.UTC().Format(time.RFC3339),
		EndDate:     in.End.UTC().Format(time.RFC3339),
	}
}

// wireSchedule covers every field-name variant the backend has used.
type wireSchedule struct {
	ID          flexID    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       *flexTime `json:"start"`
	StartDate   *flexTime `json:"startDate"`
	End         *flexTime `json:"end"`
	EndDate     *flexTime `json:"endDate"`
	User        *wireUser `json:"user"`
	UserID      flexID    `json:"userId"`
	UserName    string    `json:"userName"`
	UserEmail   string    `json:"userEmail"`
}

func pickTime(candidates ...*flexTime) time.Time {
	for _, c := range candidates {
		if c != nil && !c.IsZero() {
			return c.Time
		}
	}
	return time.Time{}
}

// event adapts one backend entry into the canonical type.
func (w wireSchedule) event() model.ScheduleEvent {
	e := model.ScheduleEvent{
		ID:          int64(w.ID),
		Title:       strings.TrimSpace(w.Title),
		Description: w.Description,
		Start:       pickTime(w.StartDate, w.Start),
		End:         pickTime(w.EndDate, w.End),
		AuthorID:    int64(w.UserID),
		AuthorName:  w.UserName,
		AuthorEmail: w.UserEmail,
	}
	if w.User != nil {
		if w.User.ID != 0 {
			e.AuthorID = int64(w.User.ID)
		}
		if w.User.Name != "" {
			e.AuthorName = w.User.Name
		}
		if w.User.Email != "" {
			e.AuthorEmail = w.User.Email
		}
	}
	if e.Title == "" {
		e.Title = UntitledEvent
	}
	return e
}

// decodeScheduleList accepts a bare array or {"schedules": [...]}.
func decodeScheduleList(raw []byte) ([]model.ScheduleEvent, error) {
	var list []wireSchedule
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			Schedules *[]wireSchedule `json:"schedules"`
		}
		if werr := json.Unmarshal(raw, &wrapped); werr != nil || wrapped.Schedules == nil {
			return nil, errors.New("unrecognized schedule list payload")
		}
		list = *wrapped.Schedules
	}

	events := make([]model.ScheduleEvent, 0, len(list))
	for _, w := range list {
		events = append(events, w.event())
	}
	return events, nil
}

// decodeSchedule accepts a bare entry or {"schedule": {...}}.
func decodeSchedule(raw []byte) (model.ScheduleEvent, error) {
	var wrapped struct {
		Schedule json.RawMessage `json:"schedule"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if inner := firstNonEmpty(wrapped.Schedule); inner != nil {
			raw = inner
		}
	}
	var w wireSchedule
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.ScheduleEvent{}, fmt.Errorf("decode schedule: %w", err)
	}
	return w.event(), nil
}

// ListSchedules fetches every member's entries.
func (c *Client) ListSchedules(ctx context.Context) ([]model.ScheduleEvent, error) {
	raw, err := c.send(ctx, http.MethodGet, "/schedules?all=true", "schedules_list", nil)
	if err != nil {
		return nil, err
	}
	return decodeScheduleList(raw)
}

// CreateSchedule posts a new entry and returns the backend's copy. Fields
// the backend omits are left zero.
func (c *Client) CreateSchedule(ctx context.Context, in ScheduleInput) (model.ScheduleEvent, error) {
	raw, err := c.send(ctx, http.MethodPost, "/schedules", "schedules_create", in.request())
	if err != nil {
		return model.ScheduleEvent{}, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return model.ScheduleEvent{}, nil
	}
	return decodeSchedule(raw)
}

func (c *Client) UpdateSchedule(ctx context.Context, id int64, in ScheduleInput) error {
	path := "/schedules/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodPut, path, "schedules_update", in.request(), nil)
}

func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	path := "/schedules/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodDelete, path, "schedules_delete", nil, nil)
}
