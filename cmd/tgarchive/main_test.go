package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/export"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// useTempEnv 让命令使用临时 SQLite 库与设置文件。
func useTempEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_BACKEND", config.BackendSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "messages.db"))
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "config.json"))
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("TG_GATEWAY_URL", "ws://127.0.0.1:1/rpc")
	t.Setenv("TG_GATEWAY_CMD", "")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func loadSettings(t *testing.T, path string) *config.SettingsFile {
	t.Helper()
	s, err := config.LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBuildFetchPlan(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	msk := time.FixedZone("MSK", 3*3600)

	settings := loadSettings(t, filepath.Join(t.TempDir(), "config.json"))
	if err := settings.SetSelectedChannels([]int64{-1001, -1002}); err != nil {
		t.Fatal(err)
	}
	empty := loadSettings(t, filepath.Join(t.TempDir(), "config.json"))

	tests := []struct {
		name     string
		flags    fetchFlags
		settings *config.SettingsFile
		check    func(t *testing.T, p fetchPlan)
		wantErr  bool
	}{
		{
			name:     "selected channels and defaults",
			flags:    fetchFlags{output: "text"},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				if !slices.Equal(p.req.Channels, []int64{-1001, -1002}) {
					t.Errorf("channels = %v", p.req.Channels)
				}
				if p.req.Limit != config.DefaultFetchLimit || p.req.Source != "cli" {
					t.Errorf("req = %+v", p.req)
				}
				if p.format != export.FormatText || p.order != threading.SortTelegram {
					t.Errorf("format=%s order=%s", p.format, p.order)
				}
				if !p.req.From.IsZero() || !p.req.To.IsZero() {
					t.Errorf("open period expected, got %v..%v", p.req.From, p.req.To)
				}
			},
		},
		{
			name:     "explicit channel overrides selection",
			flags:    fetchFlags{channel: 42, output: "json", limit: 7, sort: "id_desc"},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				if !slices.Equal(p.req.Channels, []int64{42}) || p.req.Limit != 7 || p.order != threading.SortIDDesc {
					t.Errorf("plan = %+v", p)
				}
			},
		},
		{
			name:     "chains to root only with json",
			flags:    fetchFlags{output: "json", chainsToRoot: true},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				if !p.req.ChainsToRoot {
					t.Error("ChainsToRoot should be on for json")
				}
			},
		},
		{
			name:     "chains to root ignored for text",
			flags:    fetchFlags{output: "text", chainsToRoot: true},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				if p.req.ChainsToRoot {
					t.Error("ChainsToRoot should be off for text")
				}
			},
		},
		{
			name:     "period offset",
			flags:    fetchFlags{output: "text", periodOffset: []int64{86400, 3600}},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				if !p.req.From.Equal(now.Add(-24*time.Hour)) || !p.req.To.Equal(now.Add(-time.Hour)) {
					t.Errorf("period = %v..%v", p.req.From, p.req.To)
				}
			},
		},
		{
			name:     "period dates in timezone",
			flags:    fetchFlags{output: "text", periodDates: []string{"2024-05-01", "2024-05-01"}},
			settings: settings,
			check: func(t *testing.T, p fetchPlan) {
				wantFrom := time.Date(2024, 4, 30, 21, 0, 0, 0, time.UTC)
				if !p.req.From.Equal(wantFrom) {
					t.Errorf("from = %v, want %v", p.req.From, wantFrom)
				}
				if p.req.To.Sub(p.req.From) < 23*time.Hour {
					t.Errorf("to = %v", p.req.To)
				}
			},
		},
		{name: "no channels", flags: fetchFlags{output: "text"}, settings: empty, wantErr: true},
		{name: "bad format", flags: fetchFlags{output: "xml"}, settings: settings, wantErr: true},
		{name: "bad sort", flags: fetchFlags{output: "text", sort: "random"}, settings: settings, wantErr: true},
		{name: "offset arity", flags: fetchFlags{output: "text", periodOffset: []int64{10}}, settings: settings, wantErr: true},
		{name: "dates arity", flags: fetchFlags{output: "text", periodDates: []string{"2024-05-01"}}, settings: settings, wantErr: true},
		{name: "inverted offset", flags: fetchFlags{output: "text", periodOffset: []int64{10, 20}}, settings: settings, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := buildFetchPlan(tt.flags, tt.settings, msk, now)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidInput) {
					t.Fatalf("err = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, plan)
		})
	}
}

func TestBuildClearRequest(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	req, err := buildClearRequest(-1001, nil, now)
	if err != nil || req.ChannelID != -1001 || !req.From.IsZero() {
		t.Fatalf("req=%+v err=%v", req, err)
	}
	req, err = buildClearRequest(0, []int64{999999999, 604800}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !req.To.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Errorf("to = %v", req.To)
	}
	if _, err := buildClearRequest(0, []int64{1, 2, 3}, now); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid", err)
	}

	if got := describeClear(archive.ClearRequest{}, time.UTC); got != "Clearing ALL messages" {
		t.Errorf("describe = %q", got)
	}
}

func TestChannelsCommands(t *testing.T) {
	dir := useTempEnv(t)

	out, _, err := runCLI(t, "channels", "add", "--", "-1001", "-1002")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-1001: added") {
		t.Errorf("add output = %q", out)
	}
	out, _, err = runCLI(t, "channels", "add", "--", "-1001")
	if err != nil || !strings.Contains(out, "already selected") {
		t.Errorf("re-add: out=%q err=%v", out, err)
	}
	if _, _, err := runCLI(t, "channels", "remove", "--", "-1002"); err != nil {
		t.Fatal(err)
	}

	s := loadSettings(t, filepath.Join(dir, "config.json"))
	if !slices.Equal(s.SelectedChannels(), []int64{-1001}) {
		t.Errorf("selected = %v", s.SelectedChannels())
	}

	out, _, err = runCLI(t, "channels", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-1001") || !strings.Contains(out, "0 messages") {
		t.Errorf("list output = %q", out)
	}

	if _, _, err := runCLI(t, "channels", "add", "abc"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bad id err = %v", err)
	}
}

func TestSettingsCommands(t *testing.T) {
	useTempEnv(t)
	if _, _, err := runCLI(t, "settings", "sort", "id_asc"); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, "settings", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"messages_sort_order": "id_asc"`) {
		t.Errorf("show output = %q", out)
	}
	if _, _, err := runCLI(t, "settings", "sort", "random"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bad sort err = %v", err)
	}
}

func TestStoreCommandsOnEmptyArchive(t *testing.T) {
	useTempEnv(t)

	out, _, err := runCLI(t, "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Backend:   sqlite") || !strings.Contains(out, "Messages:  0") {
		t.Errorf("stats output = %q", out)
	}

	out, _, err = runCLI(t, "senders")
	if err != nil || strings.TrimSpace(out) != "No senders" {
		t.Errorf("senders: out=%q err=%v", out, err)
	}

	out, _, err = runCLI(t, "reactions", "--hours", "6")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"period_hours": 6`) {
		t.Errorf("reactions output = %q", out)
	}

	out, stderr, err := runCLI(t, "clear", "--channel", "-1001")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "Deleted: 0 messages" || !strings.Contains(stderr, "channel -1001") {
		t.Errorf("clear: out=%q stderr=%q", out, stderr)
	}
}

func TestFetch_FailsBeforeGatewayWithoutChannels(t *testing.T) {
	useTempEnv(t)
	_, _, err := runCLI(t, "fetch")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestFetch_UnreachableGateway(t *testing.T) {
	useTempEnv(t)
	t.Setenv("TG_GATEWAY_MAX_RETRIES", "0")
	t.Setenv("TG_GATEWAY_TIMEOUT_SEC", "1")
	_, _, err := runCLI(t, "fetch", "--channel", "-1001")
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if !errors.Is(err, apperrors.ErrRemoteFailure) {
		t.Errorf("err = %v, want remote failure", err)
	}
}

func TestFetch_ExclusivePeriodFlags(t *testing.T) {
	useTempEnv(t)
	_, _, err := runCLI(t, "fetch", "--channel", "1", "--period-offset", "10,0", "--period-dates", "2024-01-01,2024-01-02")
	if err == nil || !strings.Contains(err.Error(), "period") {
		t.Errorf("err = %v, want mutually exclusive flags error", err)
	}
}
