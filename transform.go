package caltrain

import (
	"fmt"

	"tidbyt.dev/caltrain/model"
	"tidbyt.dev/caltrain/parse"
)

// Turns trip update entities into live departures for the stations
// in dir. The feed carries neither destinations nor delays, so
// destinations follow from direction and every departure is on
// time. Stop time updates on platforms outside the directory, or
// without a departure time, are skipped.
func TransformFeed(entities []parse.FeedEntity, dir *Directory, line model.Line) []model.LiveDeparture {
	departures := []model.LiveDeparture{}

	for _, entity := range entities {
		tu := entity.TripUpdate
		if tu == nil {
			continue
		}

		trainType := model.ParseTrainType(tu.RouteID)

		for _, stu := range tu.StopTimeUpdates {
			if stu.DepartureTime.IsZero() {
				continue
			}
			station, direction, found := dir.ResolvePlatform(stu.StopID)
			if !found {
				continue
			}

			destination, short := line.Terminus(direction)
			departureTime := stu.DepartureTime
			estimated := departureTime

			departures = append(departures, model.LiveDeparture{
				ID:               fmt.Sprintf("%s_%d", tu.TripID, stu.StopSequence),
				StationID:        station.ID,
				Direction:        direction,
				Destination:      destination,
				ShortDestination: short,
				ScheduledTime:    departureTime,
				EstimatedTime:    &estimated,
				TrainNumber:      tu.TripID,
				TrainType:        trainType,
				Status:           model.StatusOnTime,
			})
		}
	}

	return departures
}
