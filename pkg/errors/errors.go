// Package errors 提供统一错误类型与哨兵错误。
//
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrStoreFailure 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误, 可携带错误类别 (Kind)
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrStoreFailure 本地存储 (缓存) 读写失败, 中止当前频道的补链
	ErrStoreFailure = errors.New("store failure")

	// ErrRemoteFailure 远端 (Telegram 网关) 调用失败, 补链时按缺口处理
	ErrRemoteFailure = errors.New("remote failure")

	// ErrGapUnresolved 祖先消息在缓存和远端都不存在
	ErrGapUnresolved = errors.New("gap unresolved")
)

// 错误码。
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotFound      = "NOT_FOUND"
	CodeStoreFailure  = "STORE_FAILURE"
	CodeRemoteFailure = "REMOTE_FAILURE"
	CodeInternal      = "INTERNAL"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "store.Upsert"
	Code    string // 错误码，如 "STORE_FAILURE"
	Message string // 人类可读消息
	Kind    error  // 错误类别 (哨兵), 供 errors.Is 匹配
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 匹配错误类别。
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// StoreFailure 包装存储层错误。err 为 nil 时返回 nil。
func StoreFailure(err error, op, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Code: CodeStoreFailure, Message: message, Kind: ErrStoreFailure, Err: err}
}

// RemoteFailure 包装远端调用错误。err 为 nil 时返回 nil。
func RemoteFailure(err error, op, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Code: CodeRemoteFailure, Message: message, Kind: ErrRemoteFailure, Err: err}
}

// Invalid 创建输入校验错误。
func Invalid(op, format string, args ...any) error {
	return &AppError{Op: op, Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...), Kind: ErrInvalidInput}
}

// NotFound 创建资源不存在错误。
func NotFound(op, format string, args ...any) error {
	return &AppError{Op: op, Code: CodeNotFound, Message: fmt.Sprintf(format, args...), Kind: ErrNotFound}
}

// CodeOf 返回错误链上第一个 AppError 的错误码, 无则为 CodeInternal。
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrStoreFailure):
		return CodeStoreFailure
	case errors.Is(err, ErrRemoteFailure):
		return CodeRemoteFailure
	}
	return CodeInternal
}
