package parse

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/caltrain/model"
)

type timetableDepartureJSON struct {
	TrainID       string `json:"trainId"`
	Line          string `json:"line"`
	Direction     string `json:"direction"`
	ArrivalTime   string `json:"arrivalTime"`
	DepartureTime string `json:"departureTime"`
	Destination   string `json:"destination"`
	DaysOffset    string `json:"daysOffset"`
	Service       string `json:"service"`
}

// Parses a JSON timetable, keyed by platform id.
//
// Departure times are kept verbatim. Malformed times are dropped when
// projected onto a date, not here.
func ParseTimetable(data io.Reader) ([]model.ScheduledDeparture, error) {
	raw := map[string][]timetableDepartureJSON{}
	if err := json.NewDecoder(bom.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling timetable: %w", err)
	}

	platforms := make([]string, 0, len(raw))
	for platform := range raw {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	departures := []model.ScheduledDeparture{}
	for _, platform := range platforms {
		if platform == "" {
			return nil, fmt.Errorf("empty platform id")
		}
		for i, d := range raw[platform] {
			if d.TrainID == "" {
				return nil, fmt.Errorf("missing trainId for platform '%s' (entry %d)", platform, i)
			}
			service, err := model.ParseServiceDays(d.Service)
			if err != nil {
				return nil, errors.Wrapf(err, "platform '%s' (entry %d)", platform, i)
			}
			departures = append(departures, model.ScheduledDeparture{
				PlatformID:    platform,
				TrainNumber:   d.TrainID,
				TrainType:     model.ParseTrainType(d.Line),
				Destination:   d.Destination,
				DepartureTime: d.DepartureTime,
				Service:       service,
			})
		}
	}

	return departures, nil
}

type TimetableCSV struct {
	PlatformID    string `csv:"platform_id"`
	TrainNumber   string `csv:"train_number"`
	TrainType     string `csv:"train_type"`
	Destination   string `csv:"destination"`
	DepartureTime string `csv:"departure_time"`
	Service       string `csv:"service"`
}

// Parses a CSV timetable, one departure per row.
func ParseTimetableCSV(data io.Reader) ([]model.ScheduledDeparture, error) {
	departures := []model.ScheduledDeparture{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(bom.NewReader(data), func(row *TimetableCSV) error {
		i += 1
		if row.PlatformID == "" {
			return fmt.Errorf("missing platform_id (row %d)", i+1)
		}
		if row.TrainNumber == "" {
			return fmt.Errorf("missing train_number (row %d)", i+1)
		}

		service, err := model.ParseServiceDays(row.Service)
		if err != nil {
			return errors.Wrapf(err, "parsing service (row %d)", i+1)
		}

		departures = append(departures, model.ScheduledDeparture{
			PlatformID:    row.PlatformID,
			TrainNumber:   row.TrainNumber,
			TrainType:     model.ParseTrainType(row.TrainType),
			Destination:   row.Destination,
			DepartureTime: row.DepartureTime,
			Service:       service,
		})

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling timetable csv")
	}

	return departures, nil
}
