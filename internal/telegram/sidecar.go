// sidecar.go — 可选: 由本进程拉起 MTProto 网关 (TG_GATEWAY_CMD)。
package telegram

import (
	"bytes"
	"context"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

const (
	sidecarStartupTimeout = 30 * time.Second
	sidecarStdoutLimit    = 64 * 1024
	sidecarStopGrace      = 5 * time.Second
)

// Sidecar 网关子进程。stderr 逐行转为结构化日志, stdout 保留前 64KB 供排错。
type Sidecar struct {
	cmd    *exec.Cmd
	stderr *logger.StderrCollector
	stdout bytes.Buffer
	done   chan struct{}
	err    error
	once   sync.Once
}

// StartSidecar 启动 command 并等待 gatewayURL 的端口可连接。
// command 为空时返回 (nil, nil)。
func StartSidecar(ctx context.Context, command, gatewayURL string) (*Sidecar, error) {
	const op = "telegram.StartSidecar"
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, nil
	}
	addr, err := dialAddr(gatewayURL)
	if err != nil {
		return nil, apperrors.Invalid(op, "bad gateway url %q: %v", gatewayURL, err)
	}

	s := &Sidecar{done: make(chan struct{})}
	// 子进程生命周期由 Stop 显式管理, 不随 ctx 结束
	s.cmd = exec.Command(args[0], args[1:]...)
	s.cmd.Env = os.Environ()
	s.cmd.Stdout = util.NewLimitedWriter(&s.stdout, sidecarStdoutLimit)
	s.stderr = logger.NewStderrCollector("tg-gateway")
	s.cmd.Stderr = s.stderr

	if err := s.cmd.Start(); err != nil {
		return nil, apperrors.Wrap(err, op, "spawn gateway")
	}
	logger.Info("telegram: gateway sidecar started",
		logger.FieldCommand, args[0], logger.FieldPID, s.cmd.Process.Pid)
	util.SafeGo("telegram.sidecar", s.wait)

	deadline := time.Now().Add(sidecarStartupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = s.Stop()
			return nil, apperrors.Wrap(ctx.Err(), op, "startup cancelled")
		case <-s.done:
			return nil, apperrors.Wrapf(s.err, op, "gateway exited during startup: %s",
				util.TruncateRunes(s.stdout.String(), 500, "..."))
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			logger.Info("telegram: gateway listening", logger.FieldAddr, addr)
			return s, nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	_ = s.Stop()
	return nil, apperrors.Newf(op, "gateway startup timeout on %s", addr)
}

func (s *Sidecar) wait() {
	err := s.cmd.Wait()
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
	_ = s.stderr.Close()
	if err != nil {
		logger.Warn("telegram: gateway sidecar exited", logger.FieldError, err)
	}
}

// Stop 先发 SIGINT, 宽限期后强杀。
func (s *Sidecar) Stop() error {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	_ = s.cmd.Process.Signal(os.Interrupt)
	select {
	case <-s.done:
		return nil
	case <-time.After(sidecarStopGrace):
		return s.cmd.Process.Kill()
	}
}

// Done 子进程退出时关闭。
func (s *Sidecar) Done() <-chan struct{} { return s.done }

// dialAddr ws://host:port/path → host:port (缺省端口按 scheme 补齐)。
func dialAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", apperrors.New("telegram.dialAddr", "missing host")
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "wss" || u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
