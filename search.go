package caltrain

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"tidbyt.dev/caltrain/model"
)

// Lowercased station names, as a fuzzy.Source.
type stationNames struct {
	lower []string
}

func newStationNames(stations []model.Station) *stationNames {
	n := &stationNames{lower: make([]string, len(stations))}
	for i, st := range stations {
		n.lower[i] = strings.ToLower(st.Name)
	}
	return n
}

func (n *stationNames) String(i int) string { return n.lower[i] }

func (n *stationNames) Len() int { return len(n.lower) }

type SearchResult struct {
	Station model.Station `json:"station"`

	// Positions in the station name that matched the query.
	MatchedIndexes []int `json:"matchedIndexes"`
}

// Stations whose name fuzzy matches query, best match first. An
// empty query returns every station in directory order.
func (d *Directory) Search(query string) []SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		results := make([]SearchResult, len(d.stations))
		for i, st := range d.stations {
			results[i] = SearchResult{Station: st, MatchedIndexes: []int{}}
		}
		return results
	}

	matches := fuzzy.FindFrom(query, d.names)
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Station:        d.stations[m.Index],
			MatchedIndexes: m.MatchedIndexes,
		})
	}
	return results
}
