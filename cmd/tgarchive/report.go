package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weitek/telegram-channel-meaning/internal/export"
)

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "archive totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			loc := a.cfg.Location()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:   %s\n", st.Backend())
			fmt.Fprintf(out, "Messages:  %d\n", s.TotalMessages)
			fmt.Fprintf(out, "Senders:   %d\n", s.TotalSenders)
			fmt.Fprintf(out, "Channels:  %d\n", s.TotalChannels)
			if s.FirstMessageDate != nil && s.LastMessageDate != nil {
				fmt.Fprintf(out, "Period:    %s - %s\n",
					s.FirstMessageDate.In(loc).Format(time.DateTime), s.LastMessageDate.In(loc).Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSendersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "senders",
		Short: "archived senders with message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			senders, err := st.ListSenders(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(senders) == 0 {
				fmt.Fprintln(out, "No senders")
				return nil
			}
			for _, s := range senders {
				name := deref(s.FirstName)
				if last := deref(s.LastName); last != "" {
					name += " " + last
				}
				if u := deref(s.Username); u != "" {
					name += " (@" + u + ")"
				}
				fmt.Fprintf(out, "%-15d %6d  %s\n", s.TelegramID, s.MessageCount, name)
			}
			return nil
		},
	}
}

func newReactionsCommand(a *app) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "reactions",
		Short: "messages whose reactions changed within the window (json-reactions)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			changes, hours, err := svc.Reactions(cmd.Context(), hours)
			if err != nil {
				return err
			}
			return export.Reactions(cmd.OutOrStdout(), hours, changes)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "window in hours")
	return cmd
}

func newAuthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "show the gateway login status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.openRemote(cmd.Context())
			if err != nil {
				return err
			}
			st, err := client.AuthStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st.User == nil {
				fmt.Fprintln(out, "authorized")
				return nil
			}
			fmt.Fprintf(out, "authorized as %s %s (@%s, id %d)\n", st.User.FirstName, st.User.LastName, st.User.Username, st.User.ID)
			return nil
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
