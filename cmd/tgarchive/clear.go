package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

func newClearCommand(a *app) *cobra.Command {
	var (
		channel int64
		period  []int64
	)
	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "delete archived messages by channel and/or period",
		Example: "  tgarchive clear --period 999999999,604800   # everything older than 7 days",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildClearRequest(channel, period, time.Now())
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), describeClear(req, a.cfg.Location()))
			n, err := svc.Clear(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %d messages\n", n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&channel, "channel", 0, "only this channel")
	cmd.Flags().Int64SliceVar(&period, "period", nil, "START,END in seconds back from now")
	return cmd
}

func buildClearRequest(channel int64, period []int64, now time.Time) (archive.ClearRequest, error) {
	req := archive.ClearRequest{ChannelID: channel, Source: "cli"}
	if len(period) == 0 {
		return req, nil
	}
	if len(period) != 2 {
		return req, apperrors.Invalid("tgarchive.clear", "--period takes START,END")
	}
	var err error
	req.From, req.To, err = archive.ParsePeriodOffset(period[0], period[1], now)
	return req, err
}

func describeClear(req archive.ClearRequest, loc *time.Location) string {
	var parts []string
	if req.ChannelID != 0 {
		parts = append(parts, fmt.Sprintf("channel %d", req.ChannelID))
	}
	if !req.From.IsZero() {
		parts = append(parts, fmt.Sprintf("period %s - %s",
			req.From.In(loc).Format("2006-01-02 15:04"), req.To.In(loc).Format("2006-01-02 15:04")))
	}
	if len(parts) == 0 {
		return "Clearing ALL messages"
	}
	return "Clearing messages: " + strings.Join(parts, ", ")
}
