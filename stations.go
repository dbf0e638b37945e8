package caltrain

import (
	"fmt"
	"sort"

	"tidbyt.dev/caltrain/model"
)

// Reconciles a refreshed directory with the stored one. Stations in
// both are updates, keeping their Favorite and Selected flags. New
// IDs are inserts, and stored IDs missing from incoming are
// deletions. Output is ordered by station ID.
func PlanStationSync(existing map[string]model.Station, incoming []model.Station) model.StationSync {
	sync := model.StationSync{}

	seen := map[string]bool{}
	for _, st := range incoming {
		seen[st.ID] = true
		if old, found := existing[st.ID]; found {
			st.Favorite = old.Favorite
			st.Selected = old.Selected
			sync.Updates = append(sync.Updates, st)
		} else {
			sync.Inserts = append(sync.Inserts, st)
		}
	}

	for id := range existing {
		if !seen[id] {
			sync.Deletions = append(sync.Deletions, id)
		}
	}

	sort.Slice(sync.Updates, func(i, j int) bool { return sync.Updates[i].ID < sync.Updates[j].ID })
	sort.Slice(sync.Inserts, func(i, j int) bool { return sync.Inserts[i].ID < sync.Inserts[j].ID })
	sort.Strings(sync.Deletions)

	return sync
}

// Updates needed for id to become the only selected station. An
// empty id clears the selection.
func SelectStation(stations []model.Station, id string) (model.StationSync, error) {
	sync := model.StationSync{}
	found := id == ""

	for _, st := range stations {
		want := st.ID == id
		if want {
			found = true
		}
		if st.Selected != want {
			st.Selected = want
			sync.Updates = append(sync.Updates, st)
		}
	}

	if !found {
		return model.StationSync{}, fmt.Errorf("%w: '%s'", ErrNoStation, id)
	}
	return sync, nil
}

func SetFavorite(stations []model.Station, id string, favorite bool) (model.StationSync, error) {
	for _, st := range stations {
		if st.ID != id {
			continue
		}
		if st.Favorite == favorite {
			return model.StationSync{}, nil
		}
		st.Favorite = favorite
		return model.StationSync{Updates: []model.Station{st}}, nil
	}
	return model.StationSync{}, fmt.Errorf("%w: '%s'", ErrNoStation, id)
}

func stationsByID(stations []model.Station) map[string]model.Station {
	byID := make(map[string]model.Station, len(stations))
	for _, st := range stations {
		byID[st.ID] = st
	}
	return byID
}
