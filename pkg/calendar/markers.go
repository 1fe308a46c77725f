// Package calendar turns events into calendar views: start/end markers for a
// month grid and an iCalendar feed.
package calendar

import (
	"strconv"
	"strings"
	"time"

	"github.com/astromechza/chronos/pkg/events"
)

const (
	startSuffix = "-start"
	endSuffix   = "-end"
)

// Marker is one point on the calendar grid. Every event produces a start and an end marker.
type Marker struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	BackendID int64     `json:"backendId"`
	IsEnd     bool      `json:"isEnd"`
}

// Expand returns two markers per event, in event order.
func Expand(evs []events.Event) []Marker {
	out := make([]Marker, 0, 2*len(evs))
	for _, ev := range evs {
		id := strconv.FormatInt(ev.ID, 10)
		out = append(out,
			Marker{
				ID:        id + startSuffix,
				GroupID:   id,
				Title:     ev.Title + " (Início)",
				Start:     ev.StartDate,
				BackendID: ev.ID,
			},
			Marker{
				ID:        id + endSuffix,
				GroupID:   id,
				Title:     ev.Title + " (Fim)",
				Start:     ev.EndDate,
				BackendID: ev.ID,
				IsEnd:     true,
			},
		)
	}
	return out
}

// ResolveID maps a selected marker back to its event id. The group id is
// preferred, then the backend id, then the marker id with its suffix removed.
func ResolveID(groupID string, backendID int64, id string) (int64, bool) {
	if groupID != "" {
		if n, err := strconv.ParseInt(groupID, 10, 64); err == nil {
			return n, true
		}
	}
	if backendID != 0 {
		return backendID, true
	}
	lower := strings.ToLower(id)
	for _, suffix := range []string{startSuffix, endSuffix} {
		if strings.HasSuffix(lower, suffix) {
			id = id[:len(id)-len(suffix)]
			break
		}
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve is ResolveID applied to a marker.
func (m Marker) Resolve() (int64, bool) {
	return ResolveID(m.GroupID, m.BackendID, m.ID)
}
