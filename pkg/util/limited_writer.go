package util

import "io"

// LimitedWriter 限制写入字节数, 超出后静默丢弃。
//
// 超限部分不报错, 始终返回 len(p), 避免 exec.Cmd 等调用方误认为管道断裂。
type LimitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

// NewLimitedWriter 创建 LimitedWriter。
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write 写入 p, 超限后静默丢弃。
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.written
	if remain <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > remain {
		chunk = chunk[:remain]
	}
	n, err := lw.w.Write(chunk)
	lw.written += n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Overflow 返回写入是否已达到限制。
func (lw *LimitedWriter) Overflow() bool { return lw.written >= lw.limit }

// Written 返回实际已写入的字节数。
func (lw *LimitedWriter) Written() int { return lw.written }
