package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
)

var stationsCmd = &cobra.Command{
	Use:   "stations [query]",
	Short: "Lists stations, optionally matching a search query",
	Args:  cobra.MaximumNArgs(1),
	RunE:  stations,
}

var selectCmd = &cobra.Command{
	Use:   "select <station>",
	Short: "Selects the station shown when no station is given",
	Args:  cobra.ExactArgs(1),
	RunE:  selectStation,
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <station>",
	Short: "Marks a station as favorite",
	Args:  cobra.ExactArgs(1),
	RunE:  favorite,
}

var removeFavorite bool

func init() {
	favoriteCmd.Flags().BoolVarP(&removeFavorite, "remove", "r", false, "Unmark the station instead")
	stationsCmd.AddCommand(selectCmd)
	stationsCmd.AddCommand(favoriteCmd)
}

func loadDirectory(cmd *cobra.Command) (*caltrain.Engine, *caltrain.Directory, error) {
	e, err := LoadEngine(true)
	if err != nil {
		return nil, nil, err
	}

	err = syncStatic(cmd.Context(), e, false)
	if err != nil {
		e.Storage().Close()
		return nil, nil, fmt.Errorf("loading static data: %w", err)
	}

	dir, err := e.Directory()
	if err != nil {
		e.Storage().Close()
		return nil, nil, err
	}

	return e, dir, nil
}

func stations(cmd *cobra.Command, args []string) error {
	e, dir, err := loadDirectory(cmd)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	query := ""
	if len(args) > 0 {
		query = args[0]
	}

	for _, result := range dir.Search(query) {
		st := result.Station
		marks := ""
		if st.Selected {
			marks += " [selected]"
		}
		if st.Favorite {
			marks += " [favorite]"
		}
		fmt.Printf("%-12s %-4s zone %d  %s%s\n", st.ID, st.ShortCode, st.Zone, st.Name, marks)
	}

	return nil
}

func selectStation(cmd *cobra.Command, args []string) error {
	e, dir, err := loadDirectory(cmd)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	st, found := dir.Lookup(args[0])
	if !found {
		return fmt.Errorf("%w: '%s'", caltrain.ErrNoStation, args[0])
	}

	err = e.SelectStation(st.ID)
	if err != nil {
		return err
	}

	fmt.Printf("selected %s\n", st.Name)
	return nil
}

func favorite(cmd *cobra.Command, args []string) error {
	e, dir, err := loadDirectory(cmd)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	st, found := dir.Lookup(args[0])
	if !found {
		return fmt.Errorf("%w: '%s'", caltrain.ErrNoStation, args[0])
	}

	return e.SetFavorite(st.ID, !removeFavorite)
}
