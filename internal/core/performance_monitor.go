package core

import (
	"sort"
	"sync"
	"time"
)

// TimerStat 一个计时项的累计结果
type TimerStat struct {
	Name  string        `json:"name"`
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
}

// Avg 平均耗时
func (s TimerStat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// PerformanceMonitor 按名称累计耗时（检测器、解析、CFG 构建）
type PerformanceMonitor struct {
	mutex   sync.Mutex
	timers  map[string]*TimerStat
	enabled bool
}

// NewPerformanceMonitor 创建性能监控器；未启用时所有记录都是空操作
func NewPerformanceMonitor(enabled bool) *PerformanceMonitor {
	return &PerformanceMonitor{
		timers:  make(map[string]*TimerStat),
		enabled: enabled,
	}
}

// Enabled 是否启用
func (pm *PerformanceMonitor) Enabled() bool {
	return pm != nil && pm.enabled
}

// RecordTimer 记录一次耗时
func (pm *PerformanceMonitor) RecordTimer(name string, d time.Duration) {
	if !pm.Enabled() {
		return
	}
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	stat, ok := pm.timers[name]
	if !ok {
		stat = &TimerStat{Name: name}
		pm.timers[name] = stat
	}
	stat.Count++
	stat.Total += d
	if d > stat.Max {
		stat.Max = d
	}
}

// Time 计时辅助：defer pm.Time("parse")()
func (pm *PerformanceMonitor) Time(name string) func() {
	start := time.Now()
	return func() {
		pm.RecordTimer(name, time.Since(start))
	}
}

// Summary 按总耗时降序返回统计
func (pm *PerformanceMonitor) Summary() []TimerStat {
	if !pm.Enabled() {
		return nil
	}
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	out := make([]TimerStat, 0, len(pm.timers))
	for _, s := range pm.timers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}
