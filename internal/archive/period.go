package archive

import (
	"strings"
	"time"

	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// ParsePeriodOffset 以 now 为基准向前偏移秒数: [now-start, now-end]。end == 0 表示到 now。
func ParsePeriodOffset(start, end int64, now time.Time) (from, to time.Time, err error) {
	const op = "archive.ParsePeriodOffset"
	if start < 0 || end < 0 {
		return time.Time{}, time.Time{}, apperrors.Invalid(op, "offsets must be non-negative (start=%d end=%d)", start, end)
	}
	if end > start {
		return time.Time{}, time.Time{}, apperrors.Invalid(op, "end offset %d is earlier than start offset %d", end, start)
	}
	now = now.UTC()
	from = now.Add(-time.Duration(start) * time.Second)
	to = now
	if end > 0 {
		to = now.Add(-time.Duration(end) * time.Second)
	}
	return from, to, nil
}

// ParsePeriodDates 解析 YYYY-MM-DD 或 YYYY-MM-DDTHH:MM:SS (按 loc 解释), 结果为 UTC。
// 只有日期时: from 取当天 00:00:00, to 取 23:59:59.999999。
func ParsePeriodDates(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	f, err := ParseDate(from, loc, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := ParseDate(to, loc, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, apperrors.Invalid("archive.ParsePeriodDates", "period end %s is before start %s", to, from)
	}
	return f, t, nil
}

// ParseDate 解析单个日期边界; endOfDay 时只有日期的值取当天最后一刻。
func ParseDate(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(dateTimeLayout, s, loc); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, apperrors.Invalid("archive.ParsePeriodDates", "cannot parse date %q (want YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)", raw)
	}
	if endOfDay {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, loc)
	}
	return t.UTC(), nil
}
