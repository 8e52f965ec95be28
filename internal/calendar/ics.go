package calendar

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/cohabit/internal/model"
)

// WriteICS serializes events as an iCalendar feed.
func WriteICS(w io.Writer, events []model.ScheduleEvent, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//cohabit//schedule//EN")
	cal.SetName("Household schedule")

	for _, e := range events {
		ev := cal.AddEvent(fmt.Sprintf("schedule-%d@cohabit", e.ID))
		ev.SetDtStampTime(now.UTC())
		ev.SetStartAt(e.Start.UTC())
		ev.SetEndAt(e.End.UTC())
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.AuthorEmail != "" {
			ev.SetOrganizer("mailto:"+e.AuthorEmail, ical.WithCN(e.Author()))
		}
		if e.Color != "" {
			ev.SetProperty(ical.ComponentProperty("COLOR"), e.Color)
		}
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("serialize calendar: %w", err)
	}
	return nil
}
