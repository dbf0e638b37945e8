package model

import (
	"fmt"
	"strings"
	"time"
)

// Holds all external facing types and constants.

type Direction int8

const (
	DirectionNorth Direction = iota
	DirectionSouth
)

func (d Direction) String() string {
	if d == DirectionNorth {
		return "northbound"
	}
	return "southbound"
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "north", "northbound":
		return DirectionNorth, nil
	case "s", "south", "southbound":
		return DirectionSouth, nil
	}
	return 0, fmt.Errorf("unknown direction '%s'", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Which directions a board or timeline should include.
type DirectionFilter int8

const (
	DirectionsBoth DirectionFilter = iota
	DirectionsNorthOnly
	DirectionsSouthOnly
)

func (f DirectionFilter) Includes(d Direction) bool {
	switch f {
	case DirectionsNorthOnly:
		return d == DirectionNorth
	case DirectionsSouthOnly:
		return d == DirectionSouth
	}
	return true
}

func (f DirectionFilter) String() string {
	switch f {
	case DirectionsNorthOnly:
		return "north"
	case DirectionsSouthOnly:
		return "south"
	}
	return "both"
}

func ParseDirectionFilter(s string) (DirectionFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return DirectionsBoth, nil
	}
	d, err := ParseDirection(s)
	if err != nil {
		return DirectionsBoth, err
	}
	if d == DirectionNorth {
		return DirectionsNorthOnly, nil
	}
	return DirectionsSouthOnly, nil
}

type TrainType int8

const (
	TrainTypeLocal TrainType = iota
	TrainTypeLimited
	TrainTypeExpress
)

func (t TrainType) String() string {
	switch t {
	case TrainTypeLimited:
		return "limited"
	case TrainTypeExpress:
		return "express"
	}
	return "local"
}

// Infers train type from a free text label, such as a route name
// ("Local Weekday", "Bullet", "LIMITED") or a service code.
func ParseTrainType(label string) TrainType {
	upper := strings.ToUpper(label)
	if strings.Contains(upper, "EXPRESS") || strings.Contains(upper, "BULLET") {
		return TrainTypeExpress
	}
	if strings.Contains(upper, "LIMITED") {
		return TrainTypeLimited
	}
	return TrainTypeLocal
}

func (t TrainType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TrainType) UnmarshalText(b []byte) error {
	*t = ParseTrainType(string(b))
	return nil
}

// Status of a departure. StatusLive is reserved for records built
// from the realtime feed.
type Status int8

const (
	StatusOnTime Status = iota
	StatusDelayed
	StatusCancelled
	StatusLive
)

var statusNames = map[Status]string{
	StatusOnTime:    "on_time",
	StatusDelayed:   "delayed",
	StatusCancelled: "cancelled",
	StatusLive:      "live",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for status, name := range statusNames {
		if name == string(b) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status '%s'", string(b))
}

// Days on which a scheduled departure runs. The zero value runs
// every day.
type ServiceDays int8

const (
	ServiceDaily ServiceDays = iota
	ServiceWeekday
	ServiceWeekend
)

func (s ServiceDays) AppliesOn(t time.Time) bool {
	weekend := t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
	switch s {
	case ServiceWeekday:
		return !weekend
	case ServiceWeekend:
		return weekend
	}
	return true
}

func (s ServiceDays) String() string {
	switch s {
	case ServiceWeekday:
		return "weekday"
	case ServiceWeekend:
		return "weekend"
	}
	return "daily"
}

func ParseServiceDays(s string) (ServiceDays, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "all":
		return ServiceDaily, nil
	case "weekday", "weekdays":
		return ServiceWeekday, nil
	case "weekend", "weekends", "saturday", "sunday":
		return ServiceWeekend, nil
	}
	return ServiceDaily, fmt.Errorf("unknown service '%s'", s)
}
