// Package util 提供通用工具函数。
//
//   - EscapeLike   SQL LIKE 转义
//   - ClampInt     分页/批量上限归一
//   - LoadFromEnv  struct tag 驱动的配置加载
//   - ParseIDList  逗号分隔的 ID 列表
package util

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// EscapeLike 转义 SQL LIKE 模式中的特殊字符 (%, _, \)。
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ClampInt 将值限制在 [lo, hi] 范围内。
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadFromEnv 按 struct tag 填充配置字段:
//
//	env:"VAR_NAME"  default:"value"  min:"N"
//
// 字段类型限 string / int / int64 / float64 / bool。
// 值无法解析时记 warning 并回落到 default; 数值低于 min 时取 min。
func LoadFromEnv(ptr any) {
	rv := reflect.ValueOf(ptr)
	if ptr == nil || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		logger.Error("util.LoadFromEnv: need a non-nil pointer to struct")
		return
	}
	v := rv.Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		def := field.Tag.Get("default")
		raw, ok := os.LookupEnv(name)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			raw = def
		}
		if err := setField(v.Field(i), raw, field.Tag.Get("min")); err != nil {
			logger.Warn("config: invalid env value, using default",
				logger.FieldName, name, "value", raw, logger.FieldError, err)
			_ = setField(v.Field(i), def, field.Tag.Get("min"))
		}
	}
}

// setField 解析 raw 写入 fv。raw 为空时写零值 (再经 min 约束)。
func setField(fv reflect.Value, raw, minStr string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)

	case reflect.Int, reflect.Int64:
		var n int64
		if raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return err
			}
			n = parsed
		}
		if floor, err := strconv.ParseInt(minStr, 10, 64); err == nil && n < floor {
			n = floor
		}
		fv.SetInt(n)

	case reflect.Float64:
		var f float64
		if raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return err
			}
			f = parsed
		}
		if floor, err := strconv.ParseFloat(minStr, 64); err == nil && f < floor {
			f = floor
		}
		fv.SetFloat(f)

	case reflect.Bool:
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			fv.SetBool(true)
		case "", "0", "false", "no", "off":
			fv.SetBool(false)
		default:
			return fmt.Errorf("not a boolean: %q", raw)
		}
	}
	return nil
}

// ParseIDList 解析逗号分隔的 int64 列表, 忽略空项。首个非法项返回错误。
func ParseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
