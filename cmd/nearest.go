package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

var nearestCmd = &cobra.Command{
	Use:   "nearest --lat <lat> --lon <lon>",
	Short: "Finds the station closest to a location",
	Args:  cobra.NoArgs,
	RunE:  nearest,
}

var (
	lat float64
	lon float64
)

func init() {
	nearestCmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	nearestCmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	nearestCmd.MarkFlagRequired("lat")
	nearestCmd.MarkFlagRequired("lon")
}

func nearest(cmd *cobra.Command, args []string) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinate out of range: %f,%f", lat, lon)
	}
	coord := model.Coordinate{Lat: lat, Lon: lon}

	e, dir, err := loadDirectory(cmd)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	st, distance, found := caltrain.NearestStation(coord, dir.Stations())
	if !found {
		return caltrain.ErrNoStation
	}

	// Remembered for timelines resolved without a location
	err = e.Locations.Save(coord, st.ID)
	if err != nil {
		logger.Warn("caching location failed", "error", err)
	}

	fmt.Printf("%s (%s) %s\n", st.Name, st.ID, caltrain.FormatDistance(distance))
	return nil
}
