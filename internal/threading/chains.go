// Package threading 把扁平的消息集合整理成独立消息与回复链, 并向上补齐缺失的祖先。
//
// 消息身份是 (channel_id, telegram_id): 输入可以混合多个频道, 各频道独立建链,
// 回复关系不跨频道。频道内按 telegram_id 建立 id → 消息的索引, 父子关系只用
// 整数 ID 表示, 不构造指针树。输入切片不会被修改。
package threading

import (
	"sort"

	"github.com/weitek/telegram-channel-meaning/internal/model"
)

// dateLess 时间升序比较, 无时间视为最小。
func dateLess(a, b *model.Message) bool {
	if !a.HasDate() {
		return b.HasDate()
	}
	if !b.HasDate() {
		return false
	}
	return a.Date.Before(b.Date)
}

func sortByDateAsc(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return dateLess(&msgs[i], &msgs[j]) })
}

func sortByDateDesc(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return dateLess(&msgs[j], &msgs[i]) })
}

// splitScopes 按频道拆分并去重 (同一 MessageKey 保留首次出现), 频道按首次出现排序。
func splitScopes(msgs []model.Message) [][]model.Message {
	seen := make(map[model.MessageKey]struct{}, len(msgs))
	index := make(map[int64]int)
	var scopes [][]model.Message
	for i := range msgs {
		key := msgs[i].Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		n, ok := index[key.ChannelID]
		if !ok {
			n = len(scopes)
			index[key.ChannelID] = n
			scopes = append(scopes, nil)
		}
		scopes[n] = append(scopes[n], msgs[i])
	}
	return scopes
}

func idSet(msgs []model.Message) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		ids[m.TelegramID] = struct{}{}
	}
	return ids
}

// inSetParent 父消息在集合内时返回其 ID。
func inSetParent(m *model.Message, ids map[int64]struct{}) (int64, bool) {
	if !m.HasParent() {
		return 0, false
	}
	_, ok := ids[m.ReplyToMsgID]
	return m.ReplyToMsgID, ok
}

// FindChainRoots 返回链根: 集合内有回复, 且父消息不存在或不在集合内。
// 按时间倒序, 无时间的排在最后。
func FindChainRoots(msgs []model.Message) []model.Message {
	var roots []model.Message
	for _, scope := range splitScopes(msgs) {
		roots = append(roots, findScopeRoots(scope)...)
	}
	sortByDateDesc(roots)
	return roots
}

// findScopeRoots 单频道、已去重的输入。
func findScopeRoots(msgs []model.Message) []model.Message {
	ids := idSet(msgs)

	hasReplies := make(map[int64]bool)
	for i := range msgs {
		if p, ok := inSetParent(&msgs[i], ids); ok {
			hasReplies[p] = true
		}
	}

	var roots []model.Message
	for i := range msgs {
		m := &msgs[i]
		if !hasReplies[m.TelegramID] {
			continue
		}
		if _, ok := inSetParent(m, ids); ok {
			continue
		}
		roots = append(roots, *m)
	}
	return roots
}

// BuildChains 把有回复关系的消息组装成链, 每条消息只属于一条链。
//
// 链内顺序: 根在前, 其余后代按时间升序 (同时间保持 BFS 发现顺序)。
// 没有任何回复关系的消息不出现在结果中。多频道输入按频道首次出现顺序输出。
func BuildChains(msgs []model.Message) []model.Chain {
	var chains []model.Chain
	for _, scope := range splitScopes(msgs) {
		chains = append(chains, buildScopeChains(scope)...)
	}
	return chains
}

// buildScopeChains 单频道、已去重的输入。
func buildScopeChains(msgs []model.Message) []model.Chain {
	ids := idSet(msgs)

	byID := make(map[int64]*model.Message, len(msgs))
	children := make(map[int64][]model.Message)
	for i := range msgs {
		m := &msgs[i]
		byID[m.TelegramID] = m
		if p, ok := inSetParent(m, ids); ok {
			children[p] = append(children[p], *m)
		}
	}
	for p := range children {
		sortByDateAsc(children[p])
	}

	visited := make(map[int64]bool, len(msgs))
	collect := func(root model.Message) model.Chain {
		visited[root.TelegramID] = true
		var desc []model.Message
		queue := []int64{root.TelegramID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, ch := range children[id] {
				if visited[ch.TelegramID] {
					continue
				}
				visited[ch.TelegramID] = true
				desc = append(desc, ch)
				queue = append(queue, ch.TelegramID)
			}
		}
		sortByDateAsc(desc)
		return append(model.Chain{root}, desc...)
	}

	roots := findScopeRoots(msgs)
	sortByDateDesc(roots)

	var chains []model.Chain
	for _, root := range roots {
		if visited[root.TelegramID] {
			continue
		}
		chains = append(chains, collect(root))
	}

	// 剩下仍未访问、又处在回复关系中的消息只可能挂在环上 (A→B→A):
	// 取环上最早的一条作为根。
	for i := range msgs {
		m := &msgs[i]
		if visited[m.TelegramID] {
			continue
		}
		if _, ok := inSetParent(m, ids); !ok {
			continue
		}
		root := cycleRoot(m, byID)
		chains = append(chains, collect(*root))
	}
	return chains
}

// cycleRoot 沿父链上行找到环, 返回环上时间最早 (同时间取 ID 最小) 的消息。
// 调用方保证 start 及其祖先的父消息都在集合内。
func cycleRoot(start *model.Message, byID map[int64]*model.Message) *model.Message {
	seen := make(map[int64]bool)
	cur := start
	for !seen[cur.TelegramID] {
		seen[cur.TelegramID] = true
		cur = byID[cur.ReplyToMsgID]
	}

	best := cur
	for m := byID[cur.ReplyToMsgID]; m.TelegramID != cur.TelegramID; m = byID[m.ReplyToMsgID] {
		if dateLess(m, best) || (!dateLess(best, m) && m.TelegramID < best.TelegramID) {
			best = m
		}
	}
	return best
}

// SeparateStandaloneAndChains 拆分独立消息与回复链。
//
// 父消息在集合内的消息及其父消息属于链, 其余为独立消息 (按时间倒序)。
func SeparateStandaloneAndChains(msgs []model.Message) ([]model.Message, []model.Chain) {
	var standalone []model.Message
	var chains []model.Chain
	for _, scope := range splitScopes(msgs) {
		st, ch := separateScope(scope)
		standalone = append(standalone, st...)
		chains = append(chains, ch...)
	}
	sortByDateDesc(standalone)
	return standalone, chains
}

// separateScope 单频道、已去重的输入。standalone 未排序。
func separateScope(msgs []model.Message) ([]model.Message, []model.Chain) {
	ids := idSet(msgs)

	inChain := make(map[int64]bool)
	for i := range msgs {
		if p, ok := inSetParent(&msgs[i], ids); ok {
			inChain[msgs[i].TelegramID] = true
			inChain[p] = true
		}
	}

	var standalone, chained []model.Message
	for _, m := range msgs {
		if inChain[m.TelegramID] {
			chained = append(chained, m)
		} else {
			standalone = append(standalone, m)
		}
	}
	return standalone, buildScopeChains(chained)
}

// Flatten 展开链, 顺序为链序。
func Flatten(chains []model.Chain) []model.Message {
	var out []model.Message
	for _, c := range chains {
		out = append(out, c...)
	}
	return out
}

// ChainDepth 链内最长父子路径 (根为 0)。遇到环时停止计数。
func ChainDepth(c model.Chain) int {
	if len(c) == 0 {
		return 0
	}
	parent := make(map[int64]int64, len(c))
	for i := range c {
		parent[c[i].TelegramID] = c[i].ReplyToMsgID
	}
	rootID := c[0].TelegramID

	maxDepth := 0
	for i := range c {
		depth := 0
		seen := map[int64]bool{c[i].TelegramID: true}
		for id := c[i].TelegramID; id != rootID; {
			p, ok := parent[id]
			if !ok || seen[p] {
				break
			}
			seen[p] = true
			depth++
			id = p
		}
		maxDepth = max(maxDepth, depth)
	}
	return maxDepth
}

// Statistics 链统计。
type Statistics struct {
	TotalChains    int     `json:"total_chains"`
	TotalMessages  int     `json:"total_messages"`
	AvgChainLength float64 `json:"avg_chain_length"`
	MaxChainLength int     `json:"max_chain_length"`
	AvgDepth       float64 `json:"avg_depth"`
	MaxDepth       int     `json:"max_depth"`
}

// ComputeStatistics 统计链数量、长度与深度。
func ComputeStatistics(chains []model.Chain) Statistics {
	var st Statistics
	if len(chains) == 0 {
		return st
	}
	depthSum := 0
	for _, c := range chains {
		st.TotalMessages += len(c)
		st.MaxChainLength = max(st.MaxChainLength, len(c))
		d := ChainDepth(c)
		depthSum += d
		st.MaxDepth = max(st.MaxDepth, d)
	}
	st.TotalChains = len(chains)
	st.AvgChainLength = float64(st.TotalMessages) / float64(st.TotalChains)
	st.AvgDepth = float64(depthSum) / float64(st.TotalChains)
	return st
}

