package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/weitek/telegram-channel-meaning/internal/store"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

func newChannelsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "manage the selected channels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "show the selected channels with their archived message counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				counts, err := st.ChannelCounts(cmd.Context())
				if err != nil {
					return err
				}
				byID := lo.KeyBy(counts, func(c store.ChannelCount) int64 { return c.ChannelID })
				out := cmd.OutOrStdout()
				selected := a.settings.SelectedChannels()
				if len(selected) == 0 {
					fmt.Fprintln(out, "No channels selected")
					return nil
				}
				for _, id := range selected {
					fmt.Fprintf(out, "%-20d %8d messages\n", id, byID[id].MessageCount)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "add ID...",
			Short:   "add channels to the selection",
			Example: "  tgarchive channels add -- -1001234567890",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					added, err := a.settings.AddChannel(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", id, lo.Ternary(added, "added", "already selected"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "remove ID...",
			Short:   "remove channels from the selection",
			Example: "  tgarchive channels remove -- -1001234567890",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					removed, err := a.settings.RemoveChannel(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", id, lo.Ternary(removed, "removed", "not selected"))
				}
				return nil
			},
		},
		newDialogsCommand(a),
	)
	return cmd
}

func newDialogsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dialogs",
		Short: "list dialogs from the Telegram gateway (* = selected)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.openRemote(cmd.Context())
			if err != nil {
				return err
			}
			dialogs, err := client.Dialogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			selected := a.settings.SelectedChannels()
			out := cmd.OutOrStdout()
			for _, d := range dialogs {
				kind := "user"
				switch {
				case d.IsChannel:
					kind = "channel"
				case d.IsGroup:
					kind = "group"
				}
				mark := lo.Ternary(lo.Contains(selected, d.ID), "*", " ")
				fmt.Fprintf(out, "%s %-20d %-8s %s\n", mark, d.ID, kind, d.Name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum dialogs (0 = all)")
	return cmd
}

// parseIDs 接受空格或逗号分隔的频道 ID。
func parseIDs(args []string) ([]int64, error) {
	raw := strings.Join(args, ",")
	ids, err := util.ParseIDList(raw)
	if err != nil || len(ids) == 0 || lo.Contains(ids, 0) {
		return nil, apperrors.Invalid("tgarchive.channels", "bad channel ids %q", raw)
	}
	return ids, nil
}
