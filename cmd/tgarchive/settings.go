package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSettingsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "show or change the settings file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				view := map[string]any{
					"path":                 a.settings.Path(),
					"selected_channels":    a.settings.SelectedChannels(),
					"messages_sort_order":  a.settings.SortOrder(),
					"fetch_messages_limit": a.settings.Limit(),
				}
				if p := a.settings.Pause(); p != nil {
					view["fetch_messages_pause_seconds"] = p.Seconds()
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			},
		},
		&cobra.Command{
			Use:       "sort ORDER",
			Short:     "set the default message order (telegram, id_asc, id_desc)",
			Args:      cobra.ExactArgs(1),
			ValidArgs: sortOrders,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.settings.SetSortOrder(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "messages_sort_order = %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
