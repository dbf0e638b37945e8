package caltrain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
	"tidbyt.dev/caltrain/testutil"
)

func TestPlanStationSync(t *testing.T) {
	stations := testutil.Stations()

	existing := map[string]model.Station{}
	for _, st := range stations[:4] {
		existing[st.ID] = st
	}

	// Rider preferences on the stored copies
	mb := existing["mb"]
	mb.Favorite = true
	mb.Selected = true
	existing["mb"] = mb

	// Incoming renames Millbrae, drops San Francisco and adds the
	// last two stations
	incoming := []model.Station{}
	for _, st := range stations[1:] {
		if st.ID == "mb" {
			st.Name = "Millbrae Transit Center"
		}
		incoming = append(incoming, st)
	}

	sync := caltrain.PlanStationSync(existing, incoming)

	require.Equal(t, 3, len(sync.Updates))
	assert.Equal(t, "22nd", sync.Updates[0].ID)
	assert.Equal(t, "mb", sync.Updates[1].ID)
	assert.Equal(t, "pa", sync.Updates[2].ID)

	// Directory fields come from incoming, preferences from existing
	assert.Equal(t, "Millbrae Transit Center", sync.Updates[1].Name)
	assert.True(t, sync.Updates[1].Favorite)
	assert.True(t, sync.Updates[1].Selected)
	assert.False(t, sync.Updates[0].Favorite)

	require.Equal(t, 2, len(sync.Inserts))
	assert.Equal(t, "mv", sync.Inserts[0].ID)
	assert.Equal(t, "sj", sync.Inserts[1].ID)

	assert.Equal(t, []string{"sf"}, sync.Deletions)
}

func TestPlanStationSyncIncomingPreferencesIgnored(t *testing.T) {
	stations := testutil.Stations()
	existing := map[string]model.Station{"sf": stations[0]}

	incoming := stations[0]
	incoming.Favorite = true
	sync := caltrain.PlanStationSync(existing, []model.Station{incoming})

	require.Equal(t, 1, len(sync.Updates))
	assert.False(t, sync.Updates[0].Favorite)
	assert.Equal(t, 0, len(sync.Inserts))
	assert.Equal(t, 0, len(sync.Deletions))
}

func TestSelectStation(t *testing.T) {
	stations := testutil.Stations()
	stations[0].Selected = true

	sync, err := caltrain.SelectStation(stations, "mv")
	require.NoError(t, err)
	require.Equal(t, 2, len(sync.Updates))
	assert.Equal(t, "sf", sync.Updates[0].ID)
	assert.False(t, sync.Updates[0].Selected)
	assert.Equal(t, "mv", sync.Updates[1].ID)
	assert.True(t, sync.Updates[1].Selected)

	// Clearing
	sync, err = caltrain.SelectStation(stations, "")
	require.NoError(t, err)
	require.Equal(t, 1, len(sync.Updates))
	assert.Equal(t, "sf", sync.Updates[0].ID)

	// Already selected
	sync, err = caltrain.SelectStation(stations, "sf")
	require.NoError(t, err)
	assert.True(t, sync.Empty())

	_, err = caltrain.SelectStation(stations, "nope")
	assert.True(t, errors.Is(err, caltrain.ErrNoStation))
}

func TestSetFavorite(t *testing.T) {
	stations := testutil.Stations()

	sync, err := caltrain.SetFavorite(stations, "pa", true)
	require.NoError(t, err)
	require.Equal(t, 1, len(sync.Updates))
	assert.True(t, sync.Updates[0].Favorite)
	assert.Equal(t, "pa", sync.Updates[0].ID)

	sync, err = caltrain.SetFavorite(stations, "pa", false)
	require.NoError(t, err)
	assert.True(t, sync.Empty())

	_, err = caltrain.SetFavorite(stations, "nope", true)
	assert.True(t, errors.Is(err, caltrain.ErrNoStation))
}
