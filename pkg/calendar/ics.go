package calendar

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/astromechza/chronos/pkg/events"
)

const productID = "-//chronos//events//PT"

// UID returns the stable iCalendar uid of an event.
func UID(id int64) string {
	return fmt.Sprintf("event-%d@chronos", id)
}

// NewICS builds a published calendar with one VEVENT per event.
func NewICS(evs []events.Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("chronos")
	for _, ev := range evs {
		ve := cal.AddEvent(UID(ev.ID))
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.StartDate)
		ve.SetEndAt(ev.EndDate)
		ve.SetSummary(ev.Title)
		ve.SetDescription(ev.Description)
		ve.SetLocation(ev.Location)
	}
	return cal
}

// WriteICS serialises the events as a VCALENDAR to w.
func WriteICS(w io.Writer, evs []events.Event, stamp time.Time) error {
	if _, err := io.WriteString(w, NewICS(evs, stamp).Serialize()); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}
