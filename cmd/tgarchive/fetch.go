package main

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/export"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

type fetchFlags struct {
	channel        int64
	periodOffset   []int64
	periodDates    []string
	trackReactions bool
	chainsToRoot   bool
	deleteAfter    bool
	output         string
	sort           string
	limit          int
}

// fetchPlan 校验后的一次拉取。
type fetchPlan struct {
	req    archive.FetchRequest
	format export.Format
	order  threading.SortOrder
}

var sortOrders = []string{string(threading.SortTelegram), string(threading.SortIDAsc), string(threading.SortIDDesc)}

func newFetchCommand(a *app) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "fetch messages from the selected channels, archive them and print the result",
		Example: `  tgarchive fetch --period-offset 86400,0
  tgarchive fetch --channel -1001234567890 --period-dates 2024-05-01,2024-05-07 -o json --chains-to-root
  tgarchive fetch --track-reactions -o json-reactions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, a, f)
		},
	}
	fl := cmd.Flags()
	fl.Int64Var(&f.channel, "channel", 0, "fetch this channel instead of the selected ones")
	fl.Int64SliceVar(&f.periodOffset, "period-offset", nil, "START,END in seconds back from now (END 0 = now)")
	fl.StringSliceVar(&f.periodDates, "period-dates", nil, "FROM,TO as YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS in TIMEZONE")
	fl.BoolVar(&f.trackReactions, "track-reactions", false, "store a reactions snapshot for every fetched message")
	fl.BoolVar(&f.chainsToRoot, "chains-to-root", false, "complete reply chains up to their roots (json output only)")
	fl.BoolVar(&f.deleteAfter, "delete-after", false, "delete the rows written by this run once the output is printed")
	fl.StringVarP(&f.output, "output", "o", string(export.FormatText), "output format: text|json|json-no-chains|json-reactions")
	fl.StringVar(&f.sort, "messages-sort", "", "telegram|id_asc|id_desc (default from settings)")
	fl.IntVar(&f.limit, "limit", 0, "messages per batch (default from settings)")
	cmd.MarkFlagsMutuallyExclusive("period-offset", "period-dates")
	return cmd
}

// buildFetchPlan 合并命令行与设置文件。补链只在 json 输出下生效。
func buildFetchPlan(f fetchFlags, settings *config.SettingsFile, loc *time.Location, now time.Time) (fetchPlan, error) {
	const op = "tgarchive.fetch"
	var plan fetchPlan

	format, err := export.ParseFormat(f.output)
	if err != nil {
		return plan, err
	}
	plan.format = format

	if f.sort != "" && !lo.Contains(sortOrders, f.sort) {
		return plan, apperrors.Invalid(op, "unknown sort order %q (want one of %v)", f.sort, sortOrders)
	}
	plan.order = threading.ParseSortOrder(lo.CoalesceOrEmpty(f.sort, settings.SortOrder()))

	req := archive.FetchRequest{
		Limit:          f.limit,
		Pause:          settings.Pause(),
		TrackReactions: f.trackReactions,
		ChainsToRoot:   f.chainsToRoot && format == export.FormatJSON,
		Source:         "cli",
	}
	if f.channel != 0 {
		req.Channels = []int64{f.channel}
	} else {
		req.Channels = settings.SelectedChannels()
	}
	if len(req.Channels) == 0 {
		return plan, apperrors.Invalid(op, "no channels selected; pass --channel ID or run `tgarchive channels add ID`")
	}
	if req.Limit <= 0 {
		req.Limit = settings.Limit()
	}

	switch {
	case len(f.periodOffset) > 0:
		if len(f.periodOffset) != 2 {
			return plan, apperrors.Invalid(op, "--period-offset takes START,END")
		}
		req.From, req.To, err = archive.ParsePeriodOffset(f.periodOffset[0], f.periodOffset[1], now)
	case len(f.periodDates) > 0:
		if len(f.periodDates) != 2 {
			return plan, apperrors.Invalid(op, "--period-dates takes FROM,TO")
		}
		req.From, req.To, err = archive.ParsePeriodDates(f.periodDates[0], f.periodDates[1], loc)
	}
	if err != nil {
		return plan, err
	}
	plan.req = req
	return plan, nil
}

func runFetch(cmd *cobra.Command, a *app, f fetchFlags) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()
	loc := a.cfg.Location()

	plan, err := buildFetchPlan(f, a.settings, loc, time.Now())
	if err != nil {
		return err
	}
	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}

	fmt.Fprintln(stderr, "Fetching messages...")
	if !plan.req.From.IsZero() {
		fmt.Fprintf(stderr, "  Period: %s - %s\n", plan.req.From.In(loc).Format(time.DateTime), plan.req.To.In(loc).Format(time.DateTime))
	}
	fmt.Fprintf(stderr, "  Channels: %v\n", plan.req.Channels)

	res, err := svc.Fetch(ctx, plan.req)
	if err != nil {
		return err
	}
	for _, id := range plan.req.Channels {
		fmt.Fprintf(stderr, "  %s: %d messages\n", res.ChannelTitles[id], res.ChannelCounts[id])
	}
	fmt.Fprintf(stderr, "Total: %d messages\n", len(res.Messages))
	if len(res.Messages) == 0 {
		return nil
	}

	out := cmd.OutOrStdout()
	if plan.format == export.FormatJSONReactions {
		changes, hours, rerr := svc.Reactions(ctx, archive.DefaultReactionHours)
		if rerr != nil {
			return rerr
		}
		err = export.Reactions(out, hours, changes)
	} else {
		err = export.Messages(out, plan.format, res.Messages, export.Options{
			Order:    plan.order,
			Titles:   res.ChannelTitles,
			Location: loc,
		})
	}
	if err != nil {
		return err
	}

	if f.deleteAfter {
		n, err := svc.DeleteSaved(ctx, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Deleted from archive: %d messages\n", n)
	}
	return nil
}
