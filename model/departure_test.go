package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain/model"
)

func TestScheduledDepartureProject(t *testing.T) {
	tz, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	day := time.Date(2024, 3, 12, 8, 30, 0, 0, tz)

	sd := model.ScheduledDeparture{DepartureTime: "23:59:00"}
	projected, err := sd.Project(day)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 12, 23, 59, 0, 0, tz), projected)

	sd.DepartureTime = "05:07:09"
	projected, err = sd.Project(day)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 12, 5, 7, 9, 0, tz), projected)

	for _, bad := range []string{"", "12:00", "24:00:00", "12:60:00", "12:00:60", "ab:cd:ef", "1:00:00", "12:00:00:00"} {
		sd.DepartureTime = bad
		_, err = sd.Project(day)
		assert.Error(t, err, bad)
	}
}

func TestParseTrainType(t *testing.T) {
	assert.Equal(t, model.TrainTypeExpress, model.ParseTrainType("Express"))
	assert.Equal(t, model.TrainTypeExpress, model.ParseTrainType("BULLET"))
	assert.Equal(t, model.TrainTypeExpress, model.ParseTrainType("Baby Bullet Weekday"))
	assert.Equal(t, model.TrainTypeLimited, model.ParseTrainType("Limited"))
	assert.Equal(t, model.TrainTypeLocal, model.ParseTrainType("Local Weekday"))
	assert.Equal(t, model.TrainTypeLocal, model.ParseTrainType(""))
}

func TestShortDestination(t *testing.T) {
	assert.Equal(t, "SF", model.ShortDestination("San Francisco"))
	assert.Equal(t, "SF", model.ShortDestination("San Francisco 4th & King"))
	assert.Equal(t, "SJ", model.ShortDestination("San Jose Diridon"))
	assert.Equal(t, "Gilroy", model.ShortDestination("Gilroy"))
	assert.Equal(t, "Tamien", model.ShortDestination("Tamien Station"))
	assert.Equal(t, "Millbrae", model.ShortDestination("Millbrae Transit Center"))
	assert.Equal(t, "Sunnyval", model.ShortDestination("Sunnyvale"))
	assert.Equal(t, "", model.ShortDestination("  "))
}

func TestServiceDays(t *testing.T) {
	tuesday := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC)

	assert.True(t, model.ServiceDaily.AppliesOn(tuesday))
	assert.True(t, model.ServiceDaily.AppliesOn(saturday))
	assert.True(t, model.ServiceWeekday.AppliesOn(tuesday))
	assert.False(t, model.ServiceWeekday.AppliesOn(saturday))
	assert.False(t, model.ServiceWeekend.AppliesOn(tuesday))
	assert.True(t, model.ServiceWeekend.AppliesOn(saturday))

	s, err := model.ParseServiceDays("Weekday")
	require.NoError(t, err)
	assert.Equal(t, model.ServiceWeekday, s)
	_, err = model.ParseServiceDays("holiday")
	assert.Error(t, err)
}

func TestDirectionFilter(t *testing.T) {
	f, err := model.ParseDirectionFilter("")
	require.NoError(t, err)
	assert.True(t, f.Includes(model.DirectionNorth))
	assert.True(t, f.Includes(model.DirectionSouth))

	f, err = model.ParseDirectionFilter("northbound")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionsNorthOnly, f)
	assert.False(t, f.Includes(model.DirectionSouth))

	f, err = model.ParseDirectionFilter("S")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionsSouthOnly, f)

	_, err = model.ParseDirectionFilter("east")
	assert.Error(t, err)
}

func TestLiveDepartureDisplayTime(t *testing.T) {
	scheduled := time.Unix(1700000000, 0)
	estimated := scheduled.Add(3 * time.Minute)

	d := model.LiveDeparture{ScheduledTime: scheduled}
	assert.Equal(t, scheduled, d.DisplayTime())

	d.EstimatedTime = &estimated
	assert.Equal(t, estimated, d.DisplayTime())
}
