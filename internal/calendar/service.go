// Package calendar keeps the household schedule snapshot and enforces the
// owner-only edit rule.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/model"
)

var (
	ErrNotOwner     = errors.New("only the author can change this entry")
	ErrNotFound     = errors.New("schedule entry not found")
	ErrInvalidDraft = errors.New("start and end are required")
)

// Mode is how the event dialog opens.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
	ModeView   Mode = "view"
)

// Backend is the subset of the api client the calendar needs.
type Backend interface {
	ListSchedules(ctx context.Context) ([]model.ScheduleEvent, error)
	CreateSchedule(ctx context.Context, in api.ScheduleInput) (model.ScheduleEvent, error)
	UpdateSchedule(ctx context.Context, id int64, in api.ScheduleInput) error
	DeleteSchedule(ctx context.Context, id int64) error
}

// Draft is the content of the create/edit dialog.
type Draft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// NewDraft seeds a create dialog from a clicked slot.
func NewDraft(slotStart, slotEnd time.Time) Draft {
	if slotEnd.IsZero() || !slotEnd.After(slotStart) {
		slotEnd = slotStart.Add(time.Hour)
	}
	return Draft{Start: slotStart, End: slotEnd}
}

// RollOvernight moves end to the day after start, keeping end's wall-clock
// time, when end is earlier than start. Days and clock times are read in loc.
func RollOvernight(start, end time.Time, loc *time.Location) time.Time {
	if !end.Before(start) {
		return end
	}
	s, e := start.In(loc), end.In(loc)
	return time.Date(s.Year(), s.Month(), s.Day()+1, e.Hour(), e.Minute(), e.Second(), e.Nanosecond(), loc)
}

func (d Draft) normalize(loc *time.Location) (Draft, error) {
	if d.Start.IsZero() || d.End.IsZero() {
		return d, ErrInvalidDraft
	}
	d.Title = strings.TrimSpace(d.Title)
	d.End = RollOvernight(d.Start, d.End, loc)
	return d, nil
}

func (d Draft) input() api.ScheduleInput {
	return api.ScheduleInput{Title: d.Title, Description: d.Description, Start: d.Start, End: d.End}
}

// Service holds the last fetched schedule snapshot. loc is the household
// zone used to roll overnight entries.
type Service struct {
	backend Backend
	palette *Palette
	loc     *time.Location
	logger  *slog.Logger

	mu        sync.RWMutex
	events    []model.ScheduleEvent
	listeners []func([]model.ScheduleEvent)
}

func NewService(backend Backend, palette *Palette, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		backend: backend,
		palette: palette,
		loc:     loc,
		logger:  logger.With("component", "calendar"),
	}
}

// OnChange registers fn to receive the snapshot after every refresh or
// mutation. fn runs on the caller's goroutine.
func (s *Service) OnChange(fn func([]model.ScheduleEvent)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) decorate(e model.ScheduleEvent, viewer model.User) model.ScheduleEvent {
	e.Color = s.palette.UserColor(e.Author())
	e.IsOwner = viewer.ID != 0 && e.AuthorID == viewer.ID
	return e
}

// Refresh replaces the snapshot with the backend's list.
func (s *Service) Refresh(ctx context.Context, viewer model.User) ([]model.ScheduleEvent, error) {
	events, err := s.backend.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("fetch schedules", "error", err)
		return nil, fmt.Errorf("fetch schedules: %w", err)
	}
	for i := range events {
		events[i] = s.decorate(events[i], viewer)
	}
	sortByStart(events)

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	s.logger.Debug("schedules refreshed", "count", len(events))
	s.notify()
	return s.Events(viewer), nil
}

// Events returns a copy of the snapshot with ownership computed for viewer.
func (s *Service) Events(viewer model.User) []model.ScheduleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScheduleEvent, len(s.events))
	for i, e := range s.events {
		out[i] = s.decorate(e, viewer)
	}
	return out
}

// Create posts d and appends the result to the snapshot.
func (s *Service) Create(ctx context.Context, viewer model.User, d Draft) (model.ScheduleEvent, error) {
	d, err := d.normalize(s.loc)
	if err != nil {
		return model.ScheduleEvent{}, err
	}

	created, err := s.backend.CreateSchedule(ctx, d.input())
	if err != nil {
		s.logger.Error("create schedule", "error", err)
		return model.ScheduleEvent{}, fmt.Errorf("create schedule: %w", err)
	}

	// The backend may echo only part of the entry.
	if (created.Title == "" || created.Title == api.UntitledEvent) && d.Title != "" {
		created.Title = d.Title
	}
	if created.Title == "" {
		created.Title = api.UntitledEvent
	}
	if created.Description == "" {
		created.Description = d.Description
	}
	if created.Start.IsZero() {
		created.Start = d.Start
	}
	if created.End.IsZero() {
		created.End = d.End
	}
	if created.AuthorID == 0 {
		created.AuthorID = viewer.ID
	}
	if created.AuthorName == "" && created.AuthorEmail == "" {
		created.AuthorName = viewer.Name
		created.AuthorEmail = viewer.Email
	}
	created = s.decorate(created, viewer)

	s.mu.Lock()
	s.events = append(s.events, created)
	sortByStart(s.events)
	s.mu.Unlock()

	s.logger.Info("schedule created", "id", created.ID)
	s.notify()
	return created, nil
}

// owned returns the entry with id if viewer authored it.
func (s *Service) owned(viewer model.User, id int64) (model.ScheduleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.ID != id {
			continue
		}
		if viewer.ID == 0 || e.AuthorID != viewer.ID {
			return e, ErrNotOwner
		}
		return e, nil
	}
	return model.ScheduleEvent{}, ErrNotFound
}

// Update changes an entry the viewer authored.
func (s *Service) Update(ctx context.Context, viewer model.User, id int64, d Draft) (model.ScheduleEvent, error) {
	current, err := s.owned(viewer, id)
	if err != nil {
		return model.ScheduleEvent{}, err
	}
	d, err = d.normalize(s.loc)
	if err != nil {
		return model.ScheduleEvent{}, err
	}

	if err := s.backend.UpdateSchedule(ctx, id, d.input()); err != nil {
		s.logger.Error("update schedule", "id", id, "error", err)
		return model.ScheduleEvent{}, fmt.Errorf("update schedule: %w", err)
	}

	current.Title = d.Title
	if current.Title == "" {
		current.Title = api.UntitledEvent
	}
	current.Description = d.Description
	current.Start = d.Start
	current.End = d.End
	current = s.decorate(current, viewer)

	s.mu.Lock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i] = current
		}
	}
	sortByStart(s.events)
	s.mu.Unlock()

	s.logger.Info("schedule updated", "id", id)
	s.notify()
	return current, nil
}

// Delete removes an entry the viewer authored.
func (s *Service) Delete(ctx context.Context, viewer model.User, id int64) error {
	if _, err := s.owned(viewer, id); err != nil {
		return err
	}

	if err := s.backend.DeleteSchedule(ctx, id); err != nil {
		s.logger.Error("delete schedule", "id", id, "error", err)
		return fmt.Errorf("delete schedule: %w", err)
	}

	s.mu.Lock()
	kept := s.events[:0]
	for _, e := range s.events {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.events = kept
	s.mu.Unlock()

	s.logger.Info("schedule deleted", "id", id)
	s.notify()
	return nil
}

// Open returns the entry and the mode its dialog opens in.
func (s *Service) Open(viewer model.User, id int64) (model.ScheduleEvent, Mode, error) {
	e, err := s.owned(viewer, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return model.ScheduleEvent{}, "", err
	case errors.Is(err, ErrNotOwner):
		return s.decorate(e, viewer), ModeView, nil
	default:
		return s.decorate(e, viewer), ModeEdit, nil
	}
}

func (s *Service) notify() {
	s.mu.RLock()
	fns := append([]func([]model.ScheduleEvent){}, s.listeners...)
	snapshot := append([]model.ScheduleEvent(nil), s.events...)
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func sortByStart(events []model.ScheduleEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
