package calendar

import (
	"sort"
	"time"

	"github.com/dukerupert/cohabit/internal/model"
)

// DateKey is the YYYY-MM-DD of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// GroupByDate buckets events by the calendar date of their start.
func GroupByDate(events []model.ScheduleEvent, loc *time.Location) map[string][]model.ScheduleEvent {
	out := make(map[string][]model.ScheduleEvent)
	for _, e := range events {
		k := DateKey(e.Start, loc)
		out[k] = append(out[k], e)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	}
	return out
}

// Day is one cell of a month grid or one row of a week list.
type Day struct {
	Date    time.Time
	InMonth bool
	Today   bool
	Events  []model.ScheduleEvent
}

func startOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(weekStart) + 7) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
}

// MonthGrid lays out six weeks covering month, starting on weekStart.
func MonthGrid(events []model.ScheduleEvent, year int, month time.Month, weekStart time.Weekday, now time.Time) [][]Day {
	loc := now.Location()
	byDate := GroupByDate(events, loc)
	today := DateKey(now, loc)

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	cursor := startOfWeek(first, weekStart)

	weeks := make([][]Day, 6)
	for w := range weeks {
		week := make([]Day, 7)
		for d := range week {
			key := DateKey(cursor, loc)
			week[d] = Day{
				Date:    cursor,
				InMonth: cursor.Month() == month,
				Today:   key == today,
				Events:  byDate[key],
			}
			cursor = cursor.AddDate(0, 0, 1)
		}
		weeks[w] = week
	}
	return weeks
}

// WeekList returns the seven days of the week containing day.
func WeekList(events []model.ScheduleEvent, day time.Time, weekStart time.Weekday, now time.Time) []Day {
	loc := now.Location()
	byDate := GroupByDate(events, loc)
	today := DateKey(now, loc)

	cursor := startOfWeek(day.In(loc), weekStart)
	days := make([]Day, 7)
	for i := range days {
		key := DateKey(cursor, loc)
		days[i] = Day{
			Date:    cursor,
			InMonth: cursor.Month() == day.In(loc).Month(),
			Today:   key == today,
			Events:  byDate[key],
		}
		cursor = cursor.AddDate(0, 0, 1)
	}
	return days
}
