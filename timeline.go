package caltrain

import (
	"context"
	"errors"
	"time"

	"tidbyt.dev/caltrain/model"
)

// What the background surface should show instead of departures.
type Affordance string

const (
	AffordanceNone Affordance = ""

	// Location, station or departure data is missing. The rider
	// needs to open the app.
	AffordanceOpenApp Affordance = "open_app"

	// Upstream failed and nothing is cached.
	AffordanceRetry Affordance = "retry"
)

type TimelineRequest struct {
	Selection  StationSelection
	Directions model.DirectionFilter
	Layout     Layout
}

type Timeline struct {
	Station     *ResolvedStation `json:"station,omitempty"`
	Windows     []ForecastWindow `json:"windows"`
	NextRefresh time.Time        `json:"nextRefresh"`
	Affordance  Affordance       `json:"affordance,omitempty"`

	// Why there's an affordance, if there is one.
	Err error `json:"-"`

	// Set if the refresh attempted along the way failed. The
	// timeline is then built from what was cached.
	RefreshErr error `json:"-"`
}

// Builds the background surface timeline: resolves the station,
// refreshes if the gate allows, merges and forecasts. Never fails.
// Problems are reported through Affordance and Err instead.
func (e *Engine) Timeline(ctx context.Context, req TimelineRequest) Timeline {
	now := e.TimeNow()

	resolved, err := e.ResolveStation(ctx, req.Selection)
	if err != nil {
		affordance := AffordanceRetry
		if errors.Is(err, ErrNoLocation) || errors.Is(err, ErrNoStation) {
			affordance = AffordanceOpenApp
		}
		e.Logger.Info("timeline without station", "error", err)
		return degradedTimeline(now, affordance, err)
	}

	_, refreshErr := e.Refresh(ctx, false)
	if refreshErr != nil {
		e.Logger.Warn("timeline refresh failed", "station", resolved.Station.ID, "error", refreshErr)
	}

	merged, err := e.UpcomingDepartures(resolved.Station.ID, now)
	if err != nil {
		timeline := degradedTimeline(now, AffordanceRetry, err)
		timeline.Station = &resolved
		timeline.RefreshErr = refreshErr
		return timeline
	}
	merged = FilterDirections(merged, req.Directions)

	windows, next := Forecast(merged, req.Layout.Lookahead(), now)
	timeline := Timeline{
		Station:     &resolved,
		Windows:     windows,
		NextRefresh: next,
		RefreshErr:  refreshErr,
	}

	if len(merged) == 0 {
		if refreshErr != nil {
			timeline.Affordance = AffordanceRetry
			timeline.Err = refreshErr
		} else {
			timeline.Affordance = AffordanceOpenApp
			timeline.Err = ErrInsufficientDepartures
		}
	} else if windows[0].Err != nil {
		timeline.Err = windows[0].Err
	}

	return timeline
}

func degradedTimeline(now time.Time, affordance Affordance, err error) Timeline {
	retry := now.Add(DefaultRetryInterval)
	return Timeline{
		Windows: []ForecastWindow{{
			Date:       now,
			ValidUntil: retry,
			Northbound: []model.MergedDeparture{},
			Southbound: []model.MergedDeparture{},
			Err:        err,
		}},
		NextRefresh: retry,
		Affordance:  affordance,
		Err:         err,
	}
}
