// runs.go — 归档运行状态跟踪: 内存中的活动运行 + 总线事件。
package bus

import (
	"sort"
	"sync"
	"time"
)

// RunState 单次归档运行的状态。
type RunState struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Stage     string    `json:"stage"` // fetch / expand / export / delete
	Detail    string    `json:"detail,omitempty"`
	Channels  []int64   `json:"channels,omitempty"`
	Saved     int       `json:"saved"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunsSnapshot 运行状态快照。
type RunsSnapshot struct {
	Seq         int64      `json:"seq"`
	Running     bool       `json:"running"`
	ActiveCount int        `json:"active_count"`
	ActiveRuns  []RunState `json:"active_runs"`
	LastRun     *RunResult `json:"last_run,omitempty"`
}

// RunResult 已结束运行的摘要。
type RunResult struct {
	RunID      string    `json:"run_id"`
	Saved      int       `json:"saved"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// RunTracker 跟踪活动运行, 每次状态变化发布到 archive.run.{id}。
type RunTracker struct {
	mu      sync.RWMutex
	active  map[string]*RunState
	lastRun *RunResult
	bus     *MessageBus
	now     func() time.Time
}

// NewRunTracker 创建跟踪器。bus 可为 nil (只记录状态)。
func NewRunTracker(b *MessageBus) *RunTracker {
	return &RunTracker{active: make(map[string]*RunState), bus: b, now: time.Now}
}

// Begin 登记一次运行。
func (t *RunTracker) Begin(runID, source string, channels []int64) {
	now := t.now()
	t.mu.Lock()
	run := &RunState{
		RunID:     runID,
		Source:    source,
		Stage:     "fetch",
		Channels:  append([]int64(nil), channels...),
		StartedAt: now,
		UpdatedAt: now,
	}
	t.active[runID] = run
	snapshot := *run
	t.mu.Unlock()

	t.bus.PublishEvent(TopicRun, runID, source, MsgRunStart, snapshot)
}

// Update 更新阶段与已保存条数。空 stage / detail 保留原值, saved < 0 不变。
func (t *RunTracker) Update(runID, stage, detail string, saved int) {
	t.mu.Lock()
	run, ok := t.active[runID]
	if !ok {
		run = &RunState{RunID: runID, StartedAt: t.now()}
		t.active[runID] = run
	}
	if stage != "" {
		run.Stage = stage
	}
	if detail != "" {
		run.Detail = detail
	}
	if saved >= 0 {
		run.Saved = saved
	}
	run.UpdatedAt = t.now()
	snapshot := *run
	t.mu.Unlock()

	t.bus.PublishEvent(TopicRun, runID, snapshot.Source, MsgRunProgress, snapshot)
}

// End 结束运行; err 非 nil 时发布 run.fail。
func (t *RunTracker) End(runID string, err error) {
	now := t.now()
	t.mu.Lock()
	res := &RunResult{RunID: runID, FinishedAt: now}
	source := ""
	if run, ok := t.active[runID]; ok {
		res.Saved = run.Saved
		res.DurationMS = now.Sub(run.StartedAt).Milliseconds()
		source = run.Source
		delete(t.active, runID)
	}
	if err != nil {
		res.Error = err.Error()
	}
	t.lastRun = res
	result := *res
	t.mu.Unlock()

	msgType := MsgRunComplete
	if err != nil {
		msgType = MsgRunFail
	}
	t.bus.PublishEvent(TopicRun, runID, source, msgType, result)
}

// Snapshot 当前状态, 活动运行按开始时间排序。
func (t *RunTracker) Snapshot() RunsSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	runs := make([]RunState, 0, len(t.active))
	for _, r := range t.active {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	var last *RunResult
	if t.lastRun != nil {
		cp := *t.lastRun
		last = &cp
	}
	var seq int64
	if t.bus != nil {
		seq = t.bus.Seq()
	}
	return RunsSnapshot{
		Seq:         seq,
		Running:     len(runs) > 0,
		ActiveCount: len(runs),
		ActiveRuns:  runs,
		LastRun:     last,
	}
}
