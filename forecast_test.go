package caltrain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

var morning = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func departureAt(train string, dir model.Direction, minutes int) model.MergedDeparture {
	return model.MergedDeparture{
		LiveDeparture: model.LiveDeparture{
			ID:            train,
			StationID:     "sf",
			Direction:     dir,
			ScheduledTime: morning.Add(time.Duration(minutes) * time.Minute),
			TrainNumber:   train,
		},
	}
}

func at(minutes int) time.Time {
	return morning.Add(time.Duration(minutes) * time.Minute)
}

func TestForecastFiveNorthTwoSouth(t *testing.T) {
	departures := []model.MergedDeparture{
		departureAt("101", model.DirectionNorth, 10),
		departureAt("502", model.DirectionSouth, 15),
		departureAt("103", model.DirectionNorth, 20),
		departureAt("105", model.DirectionNorth, 30),
		departureAt("107", model.DirectionNorth, 40),
		departureAt("504", model.DirectionSouth, 45),
		departureAt("109", model.DirectionNorth, 50),
	}

	windows, next := caltrain.Forecast(departures, 3, morning)

	// Past the first southbound train only one remains, and the
	// board needs both
	assert.Equal(t, at(15), next)

	require.Equal(t, 2, len(windows))

	assert.Equal(t, morning, windows[0].Date)
	assert.Equal(t, at(10), windows[0].ValidUntil)
	assert.Equal(t, []string{"101", "103", "105"}, trainNumbers(windows[0].Northbound))
	assert.Equal(t, []string{"502", "504"}, trainNumbers(windows[0].Southbound))
	assert.NoError(t, windows[0].Err)

	assert.Equal(t, at(10), windows[1].Date)
	assert.Equal(t, at(15), windows[1].ValidUntil)
	assert.Equal(t, []string{"103", "105", "107"}, trainNumbers(windows[1].Northbound))
	assert.Equal(t, []string{"502", "504"}, trainNumbers(windows[1].Southbound))
}

func TestForecastEmpty(t *testing.T) {
	windows, next := caltrain.Forecast(nil, 3, morning)

	assert.Equal(t, morning.Add(5*time.Minute), next)
	require.Equal(t, 1, len(windows))
	assert.Equal(t, morning, windows[0].Date)
	assert.Equal(t, morning.Add(5*time.Minute), windows[0].ValidUntil)
	assert.ErrorIs(t, windows[0].Err, caltrain.ErrInsufficientDepartures)
	assert.Equal(t, 0, len(windows[0].Northbound))
	assert.Equal(t, 0, len(windows[0].Southbound))

	// Everything in the past is the same as nothing
	windows, next = caltrain.Forecast([]model.MergedDeparture{
		departureAt("101", model.DirectionNorth, -10),
		departureAt("502", model.DirectionSouth, -1),
	}, 3, morning)
	assert.Equal(t, morning.Add(5*time.Minute), next)
	require.Equal(t, 1, len(windows))
	assert.ErrorIs(t, windows[0].Err, caltrain.ErrInsufficientDepartures)
}

func TestForecastSingleDeparture(t *testing.T) {
	// One train left still plans a window rather than an error
	windows, next := caltrain.Forecast([]model.MergedDeparture{
		departureAt("101", model.DirectionNorth, -3),
		departureAt("199", model.DirectionNorth, 7),
	}, 3, morning)

	assert.Equal(t, at(7), next)
	require.Equal(t, 1, len(windows))
	assert.NoError(t, windows[0].Err)
	assert.Equal(t, morning, windows[0].Date)
	assert.Equal(t, at(7), windows[0].ValidUntil)
	assert.Equal(t, []string{"199"}, trainNumbers(windows[0].Northbound))
	assert.Equal(t, 0, len(windows[0].Southbound))
}

func TestForecastIsIdempotent(t *testing.T) {
	departures := []model.MergedDeparture{
		departureAt("101", model.DirectionNorth, 10),
		departureAt("502", model.DirectionSouth, 12),
		departureAt("103", model.DirectionNorth, 20),
		departureAt("504", model.DirectionSouth, 22),
		departureAt("105", model.DirectionNorth, 30),
		departureAt("506", model.DirectionSouth, 32),
		departureAt("107", model.DirectionNorth, 40),
		departureAt("508", model.DirectionSouth, 42),
	}

	windows1, next1 := caltrain.Forecast(departures, 3, morning)
	windows2, next2 := caltrain.Forecast(departures, 3, morning)

	assert.Equal(t, next1, next2)
	assert.Equal(t, windows1, windows2)
}

func TestForecastWindowsAreContiguous(t *testing.T) {
	departures := []model.MergedDeparture{}
	for i := 0; i < 12; i++ {
		departures = append(departures, departureAt("N", model.DirectionNorth, 5+i*10))
		departures = append(departures, departureAt("S", model.DirectionSouth, 7+i*10))
	}

	windows, next := caltrain.Forecast(departures, 4, morning)
	require.True(t, len(windows) > 1)

	assert.Equal(t, morning, windows[0].Date)
	for i, w := range windows {
		assert.True(t, w.ValidUntil.After(w.Date), "window %d", i)
		if i > 0 {
			assert.Equal(t, windows[i-1].ValidUntil, w.Date, "window %d", i)
		}
		assert.Equal(t, 4, len(w.Northbound), "window %d", i)
		assert.Equal(t, 4, len(w.Southbound), "window %d", i)
	}
	assert.Equal(t, windows[len(windows)-1].ValidUntil, next)
	assert.True(t, next.After(morning))

	// Once the next refresh time passes, fewer than 4 departures
	// remain in some direction
	remainingNorth, remainingSouth := 0, 0
	for _, d := range departures {
		if d.DisplayTime().After(next) {
			if d.Direction == model.DirectionNorth {
				remainingNorth++
			} else {
				remainingSouth++
			}
		}
	}
	assert.True(t, remainingNorth < 4 || remainingSouth < 4)
}

func TestForecastSharedDepartureTime(t *testing.T) {
	departures := []model.MergedDeparture{
		departureAt("101", model.DirectionNorth, 10),
		departureAt("502", model.DirectionSouth, 10),
		departureAt("103", model.DirectionNorth, 20),
		departureAt("504", model.DirectionSouth, 20),
		departureAt("105", model.DirectionNorth, 30),
	}

	windows, next := caltrain.Forecast(departures, 2, morning)

	// Past 08:10 a single southbound train is left
	assert.Equal(t, at(10), next)
	require.Equal(t, 1, len(windows))
	assert.Equal(t, []string{"101", "103"}, trainNumbers(windows[0].Northbound))
	assert.Equal(t, []string{"502", "504"}, trainNumbers(windows[0].Southbound))
}

func TestForecastSparseDirection(t *testing.T) {
	// A direction with fewer departures than the lookahead only
	// needs to keep what it has
	departures := []model.MergedDeparture{
		departureAt("101", model.DirectionNorth, 10),
		departureAt("103", model.DirectionNorth, 20),
		departureAt("105", model.DirectionNorth, 30),
		departureAt("107", model.DirectionNorth, 40),
		departureAt("502", model.DirectionSouth, 50),
	}

	windows, next := caltrain.Forecast(departures, 3, morning)
	assert.Equal(t, at(20), next)
	require.Equal(t, 2, len(windows))
	assert.Equal(t, []string{"502"}, trainNumbers(windows[1].Southbound))
	assert.Equal(t, []string{"103", "105", "107"}, trainNumbers(windows[1].Northbound))
}

func TestForecastUsesEstimatedTime(t *testing.T) {
	delayed := departureAt("101", model.DirectionNorth, 5)
	estimated := at(25)
	delayed.EstimatedTime = &estimated

	departures := []model.MergedDeparture{
		delayed,
		departureAt("103", model.DirectionNorth, 15),
	}

	windows, next := caltrain.Forecast(departures, 1, morning)
	assert.Equal(t, at(25), next)
	require.Equal(t, 2, len(windows))
	assert.Equal(t, []string{"103"}, trainNumbers(windows[0].Northbound))
	assert.Equal(t, []string{"101"}, trainNumbers(windows[1].Northbound))
}

func TestLayout(t *testing.T) {
	assert.Equal(t, 3, caltrain.LayoutCompact.Lookahead())
	assert.Equal(t, 4, caltrain.LayoutExpanded.Lookahead())

	for _, tc := range []struct {
		in       string
		expected caltrain.Layout
	}{
		{"", caltrain.LayoutCompact},
		{"medium", caltrain.LayoutCompact},
		{"Compact", caltrain.LayoutCompact},
		{"large", caltrain.LayoutExpanded},
		{"expanded", caltrain.LayoutExpanded},
	} {
		l, err := caltrain.ParseLayout(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.expected, l, tc.in)
	}

	_, err := caltrain.ParseLayout("huge")
	assert.Error(t, err)
}
