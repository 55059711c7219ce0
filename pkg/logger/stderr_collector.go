package logger

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// StderrCollector 将子进程 (Telegram 网关) 的 stderr 逐行转为 slog 日志。
//
// 实现 io.Writer，可直接赋给 exec.Cmd.Stderr。
type StderrCollector struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	source string
	done   chan struct{}
}

// NewStderrCollector 创建 StderrCollector。source 标记日志来源。
func NewStderrCollector(source string) *StderrCollector {
	pr, pw := io.Pipe()
	c := &StderrCollector{
		pr:     pr,
		pw:     pw,
		source: source,
		done:   make(chan struct{}),
	}
	go c.scan()
	return c
}

// Write 实现 io.Writer。
func (c *StderrCollector) Write(p []byte) (int, error) {
	return c.pw.Write(p)
}

// Close 关闭 writer 端，等待 scanner 完成。
func (c *StderrCollector) Close() error {
	_ = c.pw.Close()
	<-c.done
	return nil
}

func (c *StderrCollector) scan() {
	defer close(c.done)
	defer func() { _ = c.pr.Close() }()

	scanner := bufio.NewScanner(c.pr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		getLogger().Log(context.Background(), lineLevel(line), line,
			FieldSource, c.source,
			FieldComponent, "stderr",
		)
	}

	if err := scanner.Err(); err != nil {
		getLogger().Log(context.Background(), slog.LevelError, "stderr collector scan failed",
			FieldSource, c.source,
			FieldComponent, "stderr",
			FieldError, err.Error(),
		)
	}
}

// lineLevel 按关键词推断日志级别 (大小写不敏感)。
func lineLevel(line string) slog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "panic"),
		strings.Contains(lower, "fatal"), strings.Contains(lower, "traceback"):
		return slog.LevelError
	case strings.Contains(lower, "warn"), strings.Contains(lower, "flood"):
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
