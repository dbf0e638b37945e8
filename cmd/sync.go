package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/caltrain"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Loads the station directory and timetable",
	Args:  cobra.NoArgs,
	RunE:  syncData,
}

var forceSync bool

func init() {
	syncCmd.Flags().BoolVarP(&forceSync, "force", "f", false, "Sync even if not due")
}

func syncData(cmd *cobra.Command, args []string) error {
	e, err := LoadEngine(true)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	err = syncStatic(cmd.Context(), e, forceSync)
	if err != nil {
		return err
	}

	dir, err := e.Directory()
	if err != nil {
		return err
	}
	fmt.Printf("%d stations\n", dir.Len())

	for _, kind := range []caltrain.SyncKind{caltrain.SyncStations, caltrain.SyncTimetable} {
		last, found, err := e.Registry.LastSync(kind)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("%s: never synced\n", kind)
			continue
		}
		fmt.Printf("%s: synced %s\n", kind, last.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}
