package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/spkg/bom"
	proto "google.golang.org/protobuf/proto"
)

// A single entity from a trip updates feed. Entities without a trip
// update (alerts, vehicle positions) have a nil TripUpdate.
type FeedEntity struct {
	ID         string
	TripUpdate *TripUpdate
}

type TripUpdate struct {
	TripID          string
	RouteID         string
	DirectionID     *int
	StopTimeUpdates []StopTimeUpdate
}

// Zero ArrivalTime or DepartureTime means the feed didn't provide
// one.
type StopTimeUpdate struct {
	StopSequence  uint32
	StopID        string
	ArrivalTime   time.Time
	DepartureTime time.Time
}

// The 511.org flavor of GTFS-rt trip updates, as JSON.
type tripUpdatesJSON struct {
	Header struct {
		GtfsRealtimeVersion string `json:"GtfsRealtimeVersion"`
		Timestamp           int64  `json:"Timestamp"`
	} `json:"Header"`
	Entities []struct {
		ID         string `json:"Id"`
		TripUpdate *struct {
			Trip struct {
				TripID      string `json:"TripId"`
				RouteID     string `json:"RouteId"`
				DirectionID *int   `json:"DirectionId"`
			} `json:"Trip"`
			StopTimeUpdates []struct {
				StopSequence uint32 `json:"StopSequence"`
				StopID       string `json:"StopId"`
				Arrival      *struct {
					Time int64 `json:"Time"`
				} `json:"Arrival"`
				Departure *struct {
					Time int64 `json:"Time"`
				} `json:"Departure"`
			} `json:"StopTimeUpdates"`
		} `json:"TripUpdate"`
	} `json:"Entities"`
}

// Parses a trip updates payload. JSON payloads (optionally with a
// UTF-8 BOM) are recognized by their leading brace; anything else is
// treated as a GTFS-realtime protobuf FeedMessage.
func ParseTripUpdates(buf []byte) ([]FeedEntity, error) {
	clean := bytes.TrimSpace(bom.Clean(buf))
	if len(clean) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if clean[0] == '{' {
		return parseTripUpdatesJSON(clean)
	}
	return parseTripUpdatesProto(buf)
}

func parseTripUpdatesJSON(buf []byte) ([]FeedEntity, error) {
	feed := tripUpdatesJSON{}
	if err := json.Unmarshal(buf, &feed); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	entities := make([]FeedEntity, 0, len(feed.Entities))
	for _, e := range feed.Entities {
		entity := FeedEntity{ID: e.ID}
		if e.TripUpdate != nil {
			tu := &TripUpdate{
				TripID:      e.TripUpdate.Trip.TripID,
				RouteID:     e.TripUpdate.Trip.RouteID,
				DirectionID: e.TripUpdate.Trip.DirectionID,
			}
			for _, stu := range e.TripUpdate.StopTimeUpdates {
				update := StopTimeUpdate{
					StopSequence: stu.StopSequence,
					StopID:       stu.StopID,
				}
				if stu.Arrival != nil && stu.Arrival.Time != 0 {
					update.ArrivalTime = time.Unix(stu.Arrival.Time, 0).UTC()
				}
				if stu.Departure != nil && stu.Departure.Time != 0 {
					update.DepartureTime = time.Unix(stu.Departure.Time, 0).UTC()
				}
				tu.StopTimeUpdates = append(tu.StopTimeUpdates, update)
			}
			entity.TripUpdate = tu
		}
		entities = append(entities, entity)
	}

	return entities, nil
}

func parseTripUpdatesProto(buf []byte) ([]FeedEntity, error) {
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(buf, f)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}

	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}

	entities := make([]FeedEntity, 0, len(f.GetEntity()))
	for _, e := range f.GetEntity() {
		entity := FeedEntity{ID: e.GetId()}

		// We only care about TripUpdates
		if e.TripUpdate == nil {
			entities = append(entities, entity)
			continue
		}

		trip := e.TripUpdate.GetTrip()
		if trip == nil {
			return nil, fmt.Errorf("trip_update missing trip in entity '%s'", e.GetId())
		}

		tu := &TripUpdate{
			TripID:  trip.GetTripId(),
			RouteID: trip.GetRouteId(),
		}
		if trip.DirectionId != nil {
			dir := int(trip.GetDirectionId())
			tu.DirectionID = &dir
		}

		for _, stu := range e.TripUpdate.GetStopTimeUpdate() {
			update := StopTimeUpdate{
				StopSequence: stu.GetStopSequence(),
				StopID:       stu.GetStopId(),
			}
			if t := stu.GetArrival().GetTime(); t != 0 {
				update.ArrivalTime = time.Unix(t, 0).UTC()
			}
			if t := stu.GetDeparture().GetTime(); t != 0 {
				update.DepartureTime = time.Unix(t, 0).UTC()
			}
			tu.StopTimeUpdates = append(tu.StopTimeUpdates, update)
		}

		entity.TripUpdate = tu
		entities = append(entities, entity)
	}

	return entities, nil
}
