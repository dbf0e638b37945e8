package caltrain

import (
	"fmt"
	"sort"
	"time"

	"tidbyt.dev/caltrain/model"
)

// Combines a station's baseline timetable with its live departures.
//
// Baseline times are projected onto asOf's date in loc, and rows
// that fail to parse or don't run on that date are dropped. A
// baseline row is excluded when its train number appears among the
// live departures, so live always wins. What remains departs at or
// after asOf, ordered by scheduled time.
//
// Baseline rows sharing a train number, with no live counterpart,
// are all kept.
func MergeDepartures(
	station model.Station,
	scheduled []model.ScheduledDeparture,
	live []model.LiveDeparture,
	asOf time.Time,
	loc *time.Location,
) []model.MergedDeparture {
	if loc == nil {
		loc = time.UTC
	}
	day := asOf.In(loc)

	liveTrains := map[string]bool{}
	for _, d := range live {
		liveTrains[d.TrainNumber] = true
	}

	merged := make([]model.MergedDeparture, 0, len(live)+len(scheduled))
	for _, d := range live {
		merged = append(merged, model.MergedDeparture{LiveDeparture: d, Live: true})
	}

	for _, sd := range scheduled {
		if liveTrains[sd.TrainNumber] {
			continue
		}
		if !sd.Service.AppliesOn(day) {
			continue
		}
		direction, found := station.DirectionOf(sd.PlatformID)
		if !found {
			continue
		}
		t, err := sd.Project(day)
		if err != nil {
			continue
		}

		merged = append(merged, model.MergedDeparture{
			LiveDeparture: model.LiveDeparture{
				ID:               fmt.Sprintf("%s_%s", sd.TrainNumber, sd.PlatformID),
				StationID:        station.ID,
				Direction:        direction,
				Destination:      sd.Destination,
				ShortDestination: model.ShortDestination(sd.Destination),
				ScheduledTime:    t,
				TrainNumber:      sd.TrainNumber,
				TrainType:        sd.TrainType,
				Status:           model.StatusOnTime,
			},
		})
	}

	upcoming := merged[:0]
	for _, d := range merged {
		if !d.DisplayTime().Before(asOf) {
			upcoming = append(upcoming, d)
		}
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledTime.Before(upcoming[j].ScheduledTime)
	})

	return upcoming
}

// Upcoming departures split by direction.
type Board struct {
	Northbound []model.MergedDeparture `json:"northbound"`
	Southbound []model.MergedDeparture `json:"southbound"`
}

// Splits merged departures by direction, keeping at most limit per
// direction. A limit <= 0 keeps everything.
func NewBoard(merged []model.MergedDeparture, limit int) Board {
	board := Board{
		Northbound: []model.MergedDeparture{},
		Southbound: []model.MergedDeparture{},
	}
	for _, d := range merged {
		if d.Direction == model.DirectionNorth {
			if limit <= 0 || len(board.Northbound) < limit {
				board.Northbound = append(board.Northbound, d)
			}
		} else {
			if limit <= 0 || len(board.Southbound) < limit {
				board.Southbound = append(board.Southbound, d)
			}
		}
	}
	return board
}

// Departures of a direction filter's choosing.
func FilterDirections(merged []model.MergedDeparture, filter model.DirectionFilter) []model.MergedDeparture {
	filtered := make([]model.MergedDeparture, 0, len(merged))
	for _, d := range merged {
		if filter.Includes(d.Direction) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
