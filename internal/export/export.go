// Package export 把归档消息渲染为文本或 JSON。
package export

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// Format 输出格式。
type Format string

const (
	FormatText          Format = "text"
	FormatJSON          Format = "json"
	FormatJSONNoChains  Format = "json-no-chains"
	FormatJSONReactions Format = "json-reactions"
)

// Formats 所有支持的格式。
var Formats = []Format{FormatText, FormatJSON, FormatJSONNoChains, FormatJSONReactions}

// ParseFormat 解析格式名 (大小写不敏感), 空串为 text。
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatText, nil
	}
	if f, ok := lo.Find(Formats, func(f Format) bool { return string(f) == s }); ok {
		return f, nil
	}
	return "", apperrors.Invalid("export.ParseFormat", "unknown output format %q", s)
}

// Options 渲染参数。
type Options struct {
	Order threading.SortOrder
	// Titles 频道名, 多频道文本输出的分组标题。
	Titles map[int64]string
	// Location 文本输出的时间显示时区, nil 为 UTC。
	Location *time.Location
}

// Messages 按 format 渲染消息。json-reactions 请用 Reactions。
func Messages(w io.Writer, format Format, msgs []model.Message, opts Options) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, Text(msgs, opts))
		return err
	case FormatJSON:
		return writeJSON(w, ChainsView(msgs, opts.Order))
	case FormatJSONNoChains:
		return writeJSON(w, FlatView(msgs, opts.Order))
	default:
		return apperrors.Invalid("export.Messages", "format %q is not a message format", format)
	}
}

// Reactions 渲染 json-reactions。
func Reactions(w io.Writer, hours int, changes []store.ReactionChange) error {
	return writeJSON(w, ReactionsView(hours, changes))
}

// writeJSON 两空格缩进, 不转义 HTML 与非 ASCII 字符。
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return apperrors.Wrap(err, "export.writeJSON", "encode output")
	}
	return nil
}

// scope 单个频道的拆分结果, 已按排序模式处理。
type scope struct {
	channelID  int64
	standalone []model.Message
	chains     []model.Chain
}

func splitScope(g threading.ChannelGroup, order threading.SortOrder) scope {
	standalone, chains := threading.SeparateStandaloneAndChains(g.Messages)
	threading.SortByID(standalone, order)
	if order.ByID() {
		chains = lo.Map(chains, func(c model.Chain, _ int) model.Chain {
			return threading.SortChainReplies(c, order)
		})
	}
	return scope{channelID: g.ChannelID, standalone: standalone, chains: chains}
}
