package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/teambition/rrule-go"
)

const (
	trashMarkerPrefix        = "notify:trash:"
	rentDueMarkerPrefix      = "notify:rent-due:"
	rentReminderMarkerPrefix = "notify:rent-reminder:"
	allMembersMarkerPrefix   = "notify:all-members:"
	allMembersCheckedKey     = "notify:all-members-checked"

	// trashWindow and rentWindow bound how late a check may still fire
	// for an occurrence.
	trashWindow = time.Minute
	rentWindow  = time.Hour

	markerRetention = 90 * 24 * time.Hour
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// latestOccurrence returns the most recent occurrence of the rule at or
// before now, or the zero time.
func latestOccurrence(opt rrule.ROption, now time.Time) (time.Time, error) {
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, err
	}
	return r.Before(now, true), nil
}

func (s *Service) trashOccurrence(now time.Time) (time.Time, error) {
	days := make([]rrule.Weekday, 0, len(s.trashDays))
	for _, d := range s.trashDays {
		days = append(days, rruleWeekdays[d])
	}
	anchor := time.Date(now.Year(), now.Month(), now.Day()-8, 0, 0, 0, 0, s.loc)
	return latestOccurrence(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   anchor,
		Byweekday: days,
		Byhour:    []int{s.trashHour},
		Byminute:  []int{s.trashMin},
		Bysecond:  []int{0},
	}, now)
}

func (s *Service) monthlyOccurrence(day, hour int, now time.Time) (time.Time, error) {
	anchor := time.Date(now.Year(), now.Month()-2, 1, 0, 0, 0, 0, s.loc)
	return latestOccurrence(rrule.ROption{
		Freq:       rrule.MONTHLY,
		Dtstart:    anchor,
		Bymonthday: []int{day},
		Byhour:     []int{hour},
		Byminute:   []int{0},
		Bysecond:   []int{0},
	}, now)
}

// guardMinute reports whether rule already ran in now's minute and records
// this run. Caller holds ruleMu.
func (s *Service) guardMinute(rule string, now time.Time) bool {
	minute := now.Format("2006-01-02T15:04")
	if s.lastChecked[rule] == minute {
		return true
	}
	s.lastChecked[rule] = minute
	return false
}

// fireOnce records a notification unless marker is already set, then sets
// it. A recorded notification is appended to pending for delivery once
// ruleMu is released. Caller holds ruleMu.
func (s *Service) fireOnce(ctx context.Context, pending *[]model.Notification, source, marker, title, body string) (bool, error) {
	_, seen, err := s.kv.Get(marker)
	if err != nil {
		return false, fmt.Errorf("read marker: %w", err)
	}
	if seen {
		return false, nil
	}
	n, recorded, err := s.record(ctx, source, title, body)
	if err != nil {
		return false, err
	}
	if recorded {
		*pending = append(*pending, n)
	}
	if err := s.kv.Set(marker, s.now().Format(time.RFC3339)); err != nil {
		return recorded, fmt.Errorf("write marker: %w", err)
	}
	return recorded, nil
}

// CheckTrash fires the trash-day reminder at most once per calendar day.
func (s *Service) CheckTrash(ctx context.Context) (bool, error) {
	if !s.cfg.Trash.Enabled || len(s.trashDays) == 0 {
		return false, nil
	}
	now := s.now()

	var pending []model.Notification
	defer func() { s.deliverLater(pending) }()
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	if s.guardMinute("trash", now) {
		return false, nil
	}

	occ, err := s.trashOccurrence(now)
	if err != nil {
		s.logger.Error("trash rule", "error", err)
		return false, err
	}
	if occ.IsZero() || now.Sub(occ) >= trashWindow {
		return false, nil
	}

	marker := trashMarkerPrefix + occ.Format("2006-01-02")
	fired, err := s.fireOnce(ctx, &pending, "trash", marker, s.cfg.Trash.Title, s.cfg.Trash.Body)
	if err != nil {
		s.logger.Error("trash rule", "error", err)
	}
	return fired, err
}

// CheckRent fires the rent reminder and rent due notifications, each at most
// once per calendar month.
func (s *Service) CheckRent(ctx context.Context) (bool, error) {
	if !s.cfg.Rent.Enabled {
		return false, nil
	}
	now := s.now()

	var pending []model.Notification
	defer func() { s.deliverLater(pending) }()
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	if s.guardMinute("rent", now) {
		return false, nil
	}

	rules := []struct {
		source, prefix, title, body string
		day                         int
	}{
		{"rent-reminder", rentReminderMarkerPrefix, s.cfg.Rent.ReminderTitle, s.cfg.Rent.ReminderBody, s.cfg.Rent.ReminderDay},
		{"rent-due", rentDueMarkerPrefix, s.cfg.Rent.DueTitle, s.cfg.Rent.DueBody, s.cfg.Rent.DueDay},
	}

	firedAny := false
	for _, r := range rules {
		occ, err := s.monthlyOccurrence(r.day, s.cfg.Rent.Hour, now)
		if err != nil {
			s.logger.Error("rent rule", "source", r.source, "error", err)
			return firedAny, err
		}
		if occ.IsZero() || now.Sub(occ) >= rentWindow {
			continue
		}
		fired, err := s.fireOnce(ctx, &pending, r.source, r.prefix+occ.Format("2006-01"), r.title, r.body)
		if err != nil {
			s.logger.Error("rent rule", "source", r.source, "error", err)
			return firedAny, err
		}
		firedAny = firedAny || fired
	}
	return firedAny, nil
}

// rosterCovered reports whether every roster member authored one of events.
func rosterCovered(roster []string, events []model.ScheduleEvent) bool {
	for _, member := range roster {
		member = strings.TrimSpace(member)
		found := false
		for _, e := range events {
			if strings.EqualFold(e.AuthorName, member) || strings.EqualFold(e.AuthorEmail, member) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CheckAllMembers looks for the nearest day, today or later, on which every
// roster member has an entry and notifies about it once. After it fires, it
// does not look again until tomorrow.
func (s *Service) CheckAllMembers(ctx context.Context, events []model.ScheduleEvent) (bool, error) {
	rule := s.cfg.AllMembers
	if !rule.Enabled || len(rule.Roster) == 0 {
		return false, nil
	}
	now := s.now()
	today := now.Format("2006-01-02")

	var pending []model.Notification
	defer func() { s.deliverLater(pending) }()
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	checked, ok, err := s.kv.Get(allMembersCheckedKey)
	if err != nil {
		return false, fmt.Errorf("read checked marker: %w", err)
	}
	if ok && checked == today {
		return false, nil
	}

	byDate := calendar.GroupByDate(events, s.loc)
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		if d >= today {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	for _, d := range dates {
		if !rosterCovered(rule.Roster, byDate[d]) {
			continue
		}
		marker := allMembersMarkerPrefix + d
		if _, seen, err := s.kv.Get(marker); err != nil {
			return false, fmt.Errorf("read marker: %w", err)
		} else if seen {
			continue
		}

		day, _ := time.ParseInLocation("2006-01-02", d, s.loc)
		body := fmt.Sprintf("All %d members are scheduled on %s.", len(rule.Roster), day.Format("Mon, Jan 2"))
		fired, err := s.fireOnce(ctx, &pending, "all-members", marker, rule.Title, body)
		if err != nil {
			s.logger.Error("all-members rule", "date", d, "error", err)
			return false, err
		}
		if err := s.kv.Set(allMembersCheckedKey, today); err != nil {
			return fired, fmt.Errorf("write checked marker: %w", err)
		}
		return fired, nil
	}
	return false, nil
}

// OnScheduleChange adapts CheckAllMembers to the calendar change hook.
func (s *Service) OnScheduleChange(events []model.ScheduleEvent) {
	if _, err := s.CheckAllMembers(context.Background(), events); err != nil {
		s.logger.Error("all-members check", "error", err)
	}
}

// PruneMarkers deletes date-keyed markers older than age.
func (s *Service) PruneMarkers(age time.Duration) {
	cutoff := s.now().Add(-age)

	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	prefixes := map[string]string{
		trashMarkerPrefix:        "2006-01-02",
		allMembersMarkerPrefix:   "2006-01-02",
		rentDueMarkerPrefix:      "2006-01",
		rentReminderMarkerPrefix: "2006-01",
	}
	removed := 0
	for prefix, layout := range prefixes {
		keys, err := s.kv.Keys(prefix)
		if err != nil {
			s.logger.Error("list markers", "prefix", prefix, "error", err)
			continue
		}
		for _, k := range keys {
			t, err := time.ParseInLocation(layout, strings.TrimPrefix(k, prefix), s.loc)
			if err != nil || !t.Before(cutoff) {
				continue
			}
			if err := s.kv.Delete(k); err != nil {
				s.logger.Error("delete marker", "key", k, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned notification markers", "count", removed)
	}
}
