package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <station>",
	Short: "Lists upcoming departures from a station",
	Long:  "Lists upcoming departures from a station, given by ID, short code or name",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var (
	limit     int
	direction string
	noRefresh bool
)

func init() {
	departuresCmd.Flags().IntVarP(&limit, "limit", "l", 5, "Limit the number of departures per direction")
	departuresCmd.Flags().StringVarP(&direction, "direction", "d", "", "Restrict to a direction (north or south)")
	departuresCmd.Flags().BoolVarP(&noRefresh, "no-refresh", "n", false, "Only use cached departures")
}

func departures(cmd *cobra.Command, args []string) error {
	filter, err := model.ParseDirectionFilter(direction)
	if err != nil {
		return err
	}

	e, err := LoadEngine(true)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	err = syncStatic(cmd.Context(), e, false)
	if err != nil {
		return fmt.Errorf("loading static data: %w", err)
	}

	dir, err := e.Directory()
	if err != nil {
		return err
	}
	station, found := dir.Lookup(args[0])
	if !found {
		return fmt.Errorf("%w: '%s'", caltrain.ErrNoStation, args[0])
	}

	if !noRefresh {
		_, err = e.Refresh(cmd.Context(), false)
		if err != nil {
			// Cached departures are still worth showing
			logger.Warn("refresh failed", "error", err)
		}
	}

	now := e.TimeNow()
	merged, err := e.UpcomingDepartures(station.ID, now)
	if err != nil {
		return err
	}
	board := caltrain.NewBoard(caltrain.FilterDirections(merged, filter), limit)

	fmt.Printf("%s (%s)\n", station.Name, station.ID)
	printDepartures(model.DirectionNorth, board.Northbound, now, e.Timezone)
	printDepartures(model.DirectionSouth, board.Southbound, now, e.Timezone)

	return nil
}

func printDepartures(d model.Direction, departures []model.MergedDeparture, now time.Time, tz *time.Location) {
	if len(departures) == 0 {
		return
	}

	fmt.Printf("\n%s\n", d)
	for _, departure := range departures {
		source := "scheduled"
		if departure.Live {
			source = departure.Status.String()
		}
		at := departure.DisplayTime()
		fmt.Printf(
			"%5s %s %3dmin %-8s %-10s %s\n",
			departure.TrainNumber,
			at.In(tz).Format("15:04"),
			int(at.Sub(now).Minutes()),
			departure.TrainType,
			source,
			departure.Destination,
		)
	}
}
