package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// 默认值。
const (
	DefaultSortOrder  = "telegram"
	DefaultFetchLimit = 100
)

// Settings 用户设置文件的内容。
type Settings struct {
	SelectedChannels []int64 `json:"selected_channels" yaml:"selected_channels"`
	// MessagesSortOrder telegram / id_asc / id_desc
	MessagesSortOrder  string `json:"messages_sort_order,omitempty" yaml:"messages_sort_order,omitempty"`
	FetchMessagesLimit int    `json:"fetch_messages_limit,omitempty" yaml:"fetch_messages_limit,omitempty"`
	// FetchMessagesPauseSeconds 为 nil 时只取一批, >=0 时分批取完整个区间
	FetchMessagesPauseSeconds *float64 `json:"fetch_messages_pause_seconds,omitempty" yaml:"fetch_messages_pause_seconds,omitempty"`
}

// SettingsFile 用户设置文件 (config.json / config.yaml), 按扩展名选择编码。
type SettingsFile struct {
	path string
	mu   sync.Mutex
	data Settings
}

// LoadSettings 读取设置文件。文件不存在返回默认值; 解析失败记录警告并使用默认值。
func LoadSettings(path string) (*SettingsFile, error) {
	f := &SettingsFile{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, apperrors.Wrap(err, "config.LoadSettings", "read settings file")
	}
	if err := decodeSettings(path, raw, &f.data); err != nil {
		logger.Warn("config: settings parse failed, using defaults",
			logger.FieldPath, path, logger.FieldError, err)
		f.data = Settings{}
	}
	return f, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeSettings(path string, raw []byte, out *Settings) error {
	if isYAML(path) {
		return yaml.Unmarshal(raw, out)
	}
	return json.Unmarshal(raw, out)
}

func encodeSettings(path string, s Settings) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

// Path 设置文件路径。
func (f *SettingsFile) Path() string { return f.path }

// Snapshot 返回当前设置的副本。
func (f *SettingsFile) Snapshot() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.data
	s.SelectedChannels = slices.Clone(f.data.SelectedChannels)
	return s
}

// save 原子写入 (tmp + rename), 调用方持锁。
func (f *SettingsFile) save() error {
	encoded, err := encodeSettings(f.path, f.data)
	if err != nil {
		return apperrors.Wrap(err, "config.Save", "encode settings")
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(err, "config.Save", "create settings dir")
		}
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return apperrors.Wrap(err, "config.Save", "write temp file")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return apperrors.Wrap(err, "config.Save", "rename settings file")
	}
	return nil
}

// Save 写回当前设置。
func (f *SettingsFile) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save()
}

// SelectedChannels 已选择的频道。
func (f *SettingsFile) SelectedChannels() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.data.SelectedChannels)
}

// AddChannel 添加频道并保存。已存在返回 false。
func (f *SettingsFile) AddChannel(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.data.SelectedChannels, id) {
		return false, nil
	}
	f.data.SelectedChannels = append(f.data.SelectedChannels, id)
	return true, f.save()
}

// RemoveChannel 移除频道并保存。不存在返回 false。
func (f *SettingsFile) RemoveChannel(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := slices.Index(f.data.SelectedChannels, id)
	if idx < 0 {
		return false, nil
	}
	f.data.SelectedChannels = slices.Delete(f.data.SelectedChannels, idx, idx+1)
	return true, f.save()
}

// SetSelectedChannels 覆盖频道列表并保存。
func (f *SettingsFile) SetSelectedChannels(ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.SelectedChannels = slices.Clone(ids)
	return f.save()
}

// SortOrder 消息排序方式, 未设置时为 telegram。
func (f *SettingsFile) SortOrder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data.MessagesSortOrder == "" {
		return DefaultSortOrder
	}
	return f.data.MessagesSortOrder
}

// SetSortOrder 设置排序方式并保存。
func (f *SettingsFile) SetSortOrder(order string) error {
	switch order {
	case "telegram", "id_asc", "id_desc":
	default:
		return apperrors.Invalid("config.SetSortOrder", "unknown sort order %q", order)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.MessagesSortOrder = order
	return f.save()
}

// Limit 每批拉取条数, 非正值回退默认。
func (f *SettingsFile) Limit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data.FetchMessagesLimit <= 0 {
		return DefaultFetchLimit
	}
	return f.data.FetchMessagesLimit
}

// Pause 分批间隔。nil 表示单批模式。
func (f *SettingsFile) Pause() *time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.data.FetchMessagesPauseSeconds
	if p == nil || *p < 0 {
		return nil
	}
	d := time.Duration(*p * float64(time.Second))
	return &d
}
