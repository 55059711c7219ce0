package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

const (
	heavyRule       = "============================================================"
	lightRule       = "----------------------------------------"
	textDateLayout  = "2006-01-02 15:04"
	previewRunes    = 100
	unknownSender   = "Unknown"
	unknownChannel  = "Unknown"
	noMessagesLabel = "No messages"
)

// Text 文本输出。多频道时每个频道一个标题块。
func Text(msgs []model.Message, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	groups := threading.GroupAndSort(msgs, opts.Order)
	if len(groups) <= 1 {
		if len(groups) == 0 {
			return noMessagesLabel + "\n"
		}
		return scopeText(splitScope(groups[0], opts.Order), loc) + "\n"
	}

	var b strings.Builder
	for _, g := range groups {
		title, ok := opts.Titles[g.ChannelID]
		if !ok || title == "" {
			title = unknownChannel
		}
		b.WriteString(heavyRule + "\n")
		fmt.Fprintf(&b, "CHANNEL: %s (ID: %d)\n", title, g.ChannelID)
		b.WriteString(heavyRule + "\n")
		b.WriteString(scopeText(splitScope(g, opts.Order), loc))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func scopeText(s scope, loc *time.Location) string {
	var lines []string
	if len(s.standalone) > 0 {
		lines = append(lines, heavyRule, "STANDALONE MESSAGES", heavyRule)
		for _, m := range s.standalone {
			lines = append(lines, messageBlock(m, loc), lightRule)
		}
	}
	if len(s.chains) > 0 {
		lines = append(lines, "", heavyRule, fmt.Sprintf("MESSAGE CHAINS (%d)", len(s.chains)), heavyRule)
		for i, c := range s.chains {
			lines = append(lines, fmt.Sprintf("\n--- Chain #%d (%d messages) ---", i+1, len(c)))
			for j, m := range c {
				prefix := "ROOT"
				if j > 0 {
					prefix = "  └─ RE"
				}
				lines = append(lines, prefix+": "+messageLine(m, loc))
			}
			lines = append(lines, lightRule)
		}
	}

	st := threading.ComputeStatistics(s.chains)
	total := len(s.standalone) + st.TotalMessages
	lines = append(lines,
		"",
		fmt.Sprintf("Total: %d messages", total),
		fmt.Sprintf("  - Standalone: %d", len(s.standalone)),
		fmt.Sprintf("  - In chains: %d (%d chains)", st.TotalMessages, st.TotalChains),
	)
	if st.TotalChains > 0 {
		lines = append(lines, fmt.Sprintf("  - Chain length: avg %.1f, max %d; depth: avg %.1f, max %d",
			st.AvgChainLength, st.MaxChainLength, st.AvgDepth, st.MaxDepth))
	}
	return strings.Join(lines, "\n")
}

func dateText(m model.Message, loc *time.Location) string {
	if !m.HasDate() {
		return "-"
	}
	return m.Date.In(loc).Format(textDateLayout)
}

func senderText(s *model.Sender) string {
	if name := s.DisplayName(); name != "" {
		return name
	}
	return unknownSender
}

// messageBlock 独立消息的多行块。
func messageBlock(m model.Message, loc *time.Location) string {
	lines := []string{
		fmt.Sprintf("ID: %d | Channel: %d", m.TelegramID, m.ChannelID),
		"Date: " + dateText(m, loc),
		"From: " + senderText(m.Sender),
	}
	if m.ReactionsCount > 0 {
		lines = append(lines, "Reactions: "+strconv.Itoa(m.ReactionsCount))
	}
	if m.ReplyToMsgID > 0 {
		lines = append(lines, "Reply to: "+strconv.FormatInt(m.ReplyToMsgID, 10))
	}
	lines = append(lines, "Text: "+m.Content)
	return strings.Join(lines, "\n")
}

// messageLine 链内消息的单行摘要。
func messageLine(m model.Message, loc *time.Location) string {
	reactions := ""
	if m.ReactionsCount > 0 {
		reactions = fmt.Sprintf(" [%d ❤]", m.ReactionsCount)
	}
	preview := strings.ReplaceAll(util.TruncateRunes(m.Content, previewRunes, "..."), "\n", " ")
	return fmt.Sprintf("[%s] %s%s: %s", dateText(m, loc), senderText(m.Sender), reactions, preview)
}
