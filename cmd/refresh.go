package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refreshes cached departures from the realtime feed",
	Args:  cobra.NoArgs,
	RunE:  refresh,
}

var forceRefresh bool

func init() {
	refreshCmd.Flags().BoolVarP(&forceRefresh, "force", "f", false, "Refresh even if the last refresh was recent")
}

func refresh(cmd *cobra.Command, args []string) error {
	e, err := LoadEngine(true)
	if err != nil {
		return err
	}
	defer e.Storage().Close()

	err = syncStatic(cmd.Context(), e, false)
	if err != nil {
		return fmt.Errorf("loading static data: %w", err)
	}

	outcome, err := e.Refresh(cmd.Context(), forceRefresh)
	if err != nil {
		return err
	}

	fmt.Println(outcome)
	return nil
}
