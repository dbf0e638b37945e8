package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Prints the widget timeline as JSON",
	Long: `Prints the widget timeline as JSON. Without --station, the selected
station is used, or the station nearest to --lat/--lon or the last
known location.`,
	Args: cobra.NoArgs,
	RunE: timeline,
}

var (
	timelineStation   string
	timelineDirection string
	timelineLayout    string
	timelineLat       float64
	timelineLon       float64
)

func init() {
	timelineCmd.Flags().StringVarP(&timelineStation, "station", "s", "", "Station ID, short code or name, or 'nearest'")
	timelineCmd.Flags().StringVarP(&timelineDirection, "direction", "d", "", "Restrict to a direction (north or south)")
	timelineCmd.Flags().StringVar(&timelineLayout, "layout", "compact", "Widget layout (compact or expanded)")
	timelineCmd.Flags().Float64Var(&timelineLat, "lat", 0, "Current latitude")
	timelineCmd.Flags().Float64Var(&timelineLon, "lon", 0, "Current longitude")
}

type timelineOutput struct {
	caltrain.Timeline
	Error        string `json:"error,omitempty"`
	RefreshError string `json:"refreshError,omitempty"`
}

func timeline(cmd *cobra.Command, args []string) error {
	filter, err := model.ParseDirectionFilter(timelineDirection)
	if err != nil {
		return err
	}
	layout, err := caltrain.ParseLayout(timelineLayout)
	if err != nil {
		return err
	}

	e, dir, err := loadDirectory(cmd)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	stationID := timelineStation
	if stationID != "" && stationID != caltrain.NearestStationID {
		if st, found := dir.Lookup(stationID); found {
			stationID = st.ID
		}
	}

	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		e.Location = caltrain.StaticLocation{
			Coordinate: model.Coordinate{Lat: timelineLat, Lon: timelineLon},
		}
	}

	t := e.Timeline(cmd.Context(), caltrain.TimelineRequest{
		Selection:  caltrain.StationSelection{StationID: stationID},
		Directions: filter,
		Layout:     layout,
	})

	out := timelineOutput{Timeline: t}
	if t.Err != nil {
		out.Error = t.Err.Error()
	}
	if t.RefreshErr != nil {
		out.RefreshError = t.RefreshErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	err = enc.Encode(out)
	if err != nil {
		return fmt.Errorf("encoding timeline: %w", err)
	}

	return nil
}
