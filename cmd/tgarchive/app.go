package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/telegram"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

// app 命令共享的资源, 按需打开, 由 close 统一释放。
type app struct {
	settingsPath string

	cfg      *config.Config
	settings *config.SettingsFile
	store    store.Archive
	client   *telegram.Client
	sidecar  *telegram.Sidecar
}

// setup 加载配置与设置文件, 日志写入 stderr。
func (a *app) setup(stderr io.Writer) error {
	a.cfg = config.Load()
	logger.InitTo(a.cfg.AppEnv, stderr)
	logger.SetLevel(logger.ParseLevel(a.cfg.LogLevel))
	logger.SetLocation(a.cfg.Location())

	settings, err := config.LoadSettings(util.FirstNonEmpty(a.settingsPath, a.cfg.SettingsFile))
	if err != nil {
		return err
	}
	a.settings = settings
	return nil
}

// openStore 打开归档库; PG 后端同时挂载 archive_logs 日志。
func (a *app) openStore(ctx context.Context) (store.Archive, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.Open(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	if pool := store.PoolOf(st); pool != nil {
		logger.AttachDBHandler(pool)
	}
	a.store = st
	return st, nil
}

// openRemote 启动网关 sidecar (若配置) 并确认已登录。
func (a *app) openRemote(ctx context.Context) (*telegram.Client, error) {
	const op = "tgarchive.openRemote"
	if a.client != nil {
		return a.client, nil
	}
	sc, err := telegram.StartSidecar(ctx, a.cfg.TGGatewayCmd, a.cfg.TGGatewayURL)
	if err != nil {
		return nil, err
	}
	a.sidecar = sc

	client := telegram.New(telegram.OptionsFromConfig(a.cfg))
	a.client = client
	st, err := client.AuthStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Authorized {
		return nil, apperrors.New(op, "telegram gateway is not authorized; log in through the gateway first")
	}
	return client, nil
}

// service 组装归档服务。withRemote=false 时不连接网关。
func (a *app) service(ctx context.Context, withRemote bool) (*archive.Service, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var remote archive.Remote
	if withRemote {
		client, err := a.openRemote(ctx)
		if err != nil {
			return nil, err
		}
		remote = client
	}
	return archive.NewService(st, remote, archive.Options{
		Expand: threading.ExpanderOptions{
			Parallelism:        a.cfg.ExpandParallelism,
			MaxLookupsPerScope: a.cfg.ExpandMaxLookups,
		},
	}), nil
}

func (a *app) close() {
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.sidecar != nil {
		if err := a.sidecar.Stop(); err != nil {
			logger.Warn("tgarchive: stop gateway sidecar", logger.FieldError, err)
		}
	}
	if a.store != nil {
		logger.ShutdownDBHandler()
		_ = a.store.Close()
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tgarchive",
		Short:         "archive Telegram channel messages and rebuild reply chains",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&a.settingsPath, "config", "", "settings file (config.json or config.yaml); default CONFIG_FILE")

	root.AddCommand(
		newFetchCommand(a),
		newClearCommand(a),
		newChannelsCommand(a),
		newSettingsCommand(a),
		newStatsCommand(a),
		newSendersCommand(a),
		newReactionsCommand(a),
		newAuthCommand(a),
	)
	return root
}
