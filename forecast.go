package caltrain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tidbyt.dev/caltrain/model"
)

const DefaultRetryInterval = 5 * time.Minute

// Background surface size. Decides how many departures per
// direction it shows, and so how many must be buffered.
type Layout int

const (
	LayoutCompact Layout = iota
	LayoutExpanded
)

func (l Layout) Lookahead() int {
	if l == LayoutExpanded {
		return 4
	}
	return 3
}

func (l Layout) String() string {
	if l == LayoutExpanded {
		return "expanded"
	}
	return "compact"
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact", "medium":
		return LayoutCompact, nil
	case "expanded", "large":
		return LayoutExpanded, nil
	}
	return LayoutCompact, fmt.Errorf("unknown layout '%s'", s)
}

// A span of time during which a departure snapshot can be displayed
// without fetching again.
type ForecastWindow struct {
	Date       time.Time               `json:"date"`
	ValidUntil time.Time               `json:"validUntil"`
	Northbound []model.MergedDeparture `json:"northbound"`
	Southbound []model.MergedDeparture `json:"southbound"`
	Err        error                   `json:"-"`
}

// Plans windows over merged departures, and the instant at which
// the host must call again.
//
// Each departure event is accepted while at least lookahead
// departures per direction are still ahead of it, counting the event
// itself. A direction with fewer than lookahead departures in total
// only needs to keep all of them. Every accepted event closes a
// window, and the last one is when a refresh becomes necessary.
//
// With nothing to accept, a single error window is returned and the
// host is asked to retry after DefaultRetryInterval. Since the first
// event always meets the capped thresholds, that only happens when no
// departure is left at or after now.
func Forecast(merged []model.MergedDeparture, lookahead int, now time.Time) ([]ForecastWindow, time.Time) {
	if lookahead < 1 {
		lookahead = 1
	}

	events := make([]model.MergedDeparture, 0, len(merged))
	for _, d := range merged {
		if !d.DisplayTime().Before(now) {
			events = append(events, d)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].DisplayTime().Before(events[j].DisplayTime())
	})

	totalNorth, totalSouth := countDirections(events)
	needNorth := min(lookahead, totalNorth)
	needSouth := min(lookahead, totalSouth)

	// Departures at or after events[i], per direction
	aheadNorth, aheadSouth := totalNorth, totalSouth

	accepted := []time.Time{}
	for i := 0; i < len(events); i++ {
		t := events[i].DisplayTime()

		// Departures sharing an instant form one event
		if i > 0 && t.Equal(events[i-1].DisplayTime()) {
			continue
		}

		if aheadNorth < needNorth || aheadSouth < needSouth {
			break
		}
		accepted = append(accepted, t)

		for j := i; j < len(events) && events[j].DisplayTime().Equal(t); j++ {
			if events[j].Direction == model.DirectionNorth {
				aheadNorth--
			} else {
				aheadSouth--
			}
		}
	}

	if len(accepted) == 0 {
		retry := now.Add(DefaultRetryInterval)
		return []ForecastWindow{{
			Date:       now,
			ValidUntil: retry,
			Northbound: []model.MergedDeparture{},
			Southbound: []model.MergedDeparture{},
			Err:        ErrInsufficientDepartures,
		}}, retry
	}

	windows := make([]ForecastWindow, 0, len(accepted))
	for i, until := range accepted {
		start := now
		if i > 0 {
			start = accepted[i-1]
		}

		w := ForecastWindow{
			Date:       start,
			ValidUntil: until,
			Northbound: []model.MergedDeparture{},
			Southbound: []model.MergedDeparture{},
		}
		for _, d := range events {
			t := d.DisplayTime()
			if i > 0 && !t.After(start) {
				continue
			}
			if d.Direction == model.DirectionNorth && len(w.Northbound) < lookahead {
				w.Northbound = append(w.Northbound, d)
			}
			if d.Direction == model.DirectionSouth && len(w.Southbound) < lookahead {
				w.Southbound = append(w.Southbound, d)
			}
		}
		windows = append(windows, w)
	}

	return windows, accepted[len(accepted)-1]
}

func countDirections(departures []model.MergedDeparture) (int, int) {
	north, south := 0, 0
	for _, d := range departures {
		if d.Direction == model.DirectionNorth {
			north++
		} else {
			south++
		}
	}
	return north, south
}
