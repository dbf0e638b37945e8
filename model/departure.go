package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A rail line, identified by its termini. The realtime feed carries
// no destination text, so destinations are inferred from direction.
type Line struct {
	Name               string
	NorthTerminus      string
	NorthTerminusShort string
	SouthTerminus      string
	SouthTerminusShort string
}

var Caltrain = Line{
	Name:               "Caltrain",
	NorthTerminus:      "San Francisco",
	NorthTerminusShort: "SF",
	SouthTerminus:      "San Jose",
	SouthTerminusShort: "SJ",
}

// Long and short destination names for trains heading in direction d.
func (l Line) Terminus(d Direction) (string, string) {
	if d == DirectionNorth {
		return l.NorthTerminus, l.NorthTerminusShort
	}
	return l.SouthTerminus, l.SouthTerminusShort
}

var shortDestinations = []struct {
	match string
	short string
}{
	{"san francisco", "SF"},
	{"san jose", "SJ"},
	{"gilroy", "Gilroy"},
	{"tamien", "Tamien"},
}

// Abbreviates a destination name for compact display.
func ShortDestination(name string) string {
	lower := strings.ToLower(name)
	for _, sd := range shortDestinations {
		if strings.Contains(lower, sd.match) {
			return sd.short
		}
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	if len(fields[0]) > 8 {
		return fields[0][:8]
	}
	return fields[0]
}

// A departure from the static timetable. DepartureTime is a
// wall-clock "HH:MM:SS" with no date.
type ScheduledDeparture struct {
	PlatformID    string      `json:"platformId"`
	TrainNumber   string      `json:"trainNumber"`
	TrainType     TrainType   `json:"trainType"`
	Destination   string      `json:"destination"`
	DepartureTime string      `json:"departureTime"`
	Service       ServiceDays `json:"service"`
}

// Projects the departure time-of-day onto the calendar day of the
// given time, in that time's location.
func (sd ScheduledDeparture) Project(day time.Time) (time.Time, error) {
	h, m, s, err := ParseTimeOfDay(sd.DepartureTime)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, 0, day.Location()), nil
}

// Parses "HH:MM:SS" into its parts.
func ParseTimeOfDay(s string) (int, int, int, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return 0, 0, 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		if len(str) != 2 {
			return 0, 0, 0, fmt.Errorf("bad width in '%s' pos %d", s, i)
		}
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 23 {
		return 0, 0, 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, 0, 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, 0, 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0], hms[1], hms[2], nil
}

// A departure from the realtime feed, resolved to a station.
type LiveDeparture struct {
	ID               string     `json:"id"`
	StationID        string     `json:"stationId"`
	Direction        Direction  `json:"direction"`
	Destination      string     `json:"destination"`
	ShortDestination string     `json:"shortDestination"`
	ScheduledTime    time.Time  `json:"scheduledTime"`
	EstimatedTime    *time.Time `json:"estimatedTime,omitempty"`
	TrainNumber      string     `json:"trainNumber"`
	TrainType        TrainType  `json:"trainType"`
	Status           Status     `json:"status"`
	Platform         string     `json:"platform,omitempty"`
}

// The estimated time when known, otherwise the scheduled time.
func (d LiveDeparture) DisplayTime() time.Time {
	if d.EstimatedTime != nil {
		return *d.EstimatedTime
	}
	return d.ScheduledTime
}

// One entry on a station's departure board: either a live departure
// or a projected scheduled one.
type MergedDeparture struct {
	LiveDeparture
	Live bool `json:"live"`
}
