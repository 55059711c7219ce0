// safego.go — 后台任务启动器: panic 只记日志, 不拖垮进程。
package util

import (
	"runtime/debug"

	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// SafeGo 在新 goroutine 中运行 fn, name 用于日志定位 (如 "patrol"、"fetch:<run_id>")。
func SafeGo(name string, fn func()) {
	go Recover(name, fn)
}

// Recover 在当前 goroutine 同步运行 fn, 吞掉 panic 并返回是否发生过。
func Recover(name string, fn func()) (panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		logger.Error("background task panicked",
			logger.FieldComponent, name,
			logger.FieldError, r,
			"stack", string(debug.Stack()),
		)
	}()
	fn()
	return false
}
