// Package report 收集诊断并按 GCC 文本、GCC JSON 或 SARIF 格式输出。
package report

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cpycheck/internal/core"
)

// ScanResult 一次运行的结果
type ScanResult struct {
	Findings      []core.Finding
	Duration      time.Duration
	FilesScanned  int
	DetectorsUsed []string
}

// Severity 诊断级别
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// QuoteStyle 函数名头部使用的引号
type QuoteStyle int

const (
	// QuotesASCII 'fn'
	QuotesASCII QuoteStyle = iota
	// QuotesUnicode GCC 在 UTF-8 区域设置下使用的 ‘fn’
	QuotesUnicode
)

// Quote 用当前引号样式包裹名字
func (q QuoteStyle) Quote(name string) string {
	if q == QuotesUnicode {
		return "‘" + name + "’"
	}
	return "'" + name + "'"
}

// ParseQuoteStyle 解析 ascii、unicode 或 auto；auto 与 GCC 相同，按区域设置是否为 UTF-8 决定
func ParseQuoteStyle(s string) (QuoteStyle, bool) {
	switch strings.ToLower(s) {
	case "", "ascii":
		return QuotesASCII, true
	case "unicode":
		return QuotesUnicode, true
	case "auto":
		for _, env := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
			if v := os.Getenv(env); v != "" {
				v = strings.ToUpper(v)
				if strings.Contains(v, "UTF-8") || strings.Contains(v, "UTF8") {
					return QuotesUnicode, true
				}
				return QuotesASCII, true
			}
		}
		return QuotesASCII, true
	}
	return QuotesASCII, false
}

// Collector 并发安全地收集诊断
type Collector struct {
	mu       sync.Mutex
	findings []core.Finding
	seen     map[core.Finding]bool
}

// NewCollector 创建收集器
func NewCollector() *Collector {
	return &Collector{seen: make(map[core.Finding]bool)}
}

// Add 追加诊断；完全相同的诊断只保留一条
func (c *Collector) Add(findings ...core.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range findings {
		if c.seen[f] {
			continue
		}
		c.seen[f] = true
		c.findings = append(c.findings, f)
	}
}

// Len 已收集的诊断数量
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.findings)
}

// Findings 返回排好序的诊断：按文件，再按函数在文件中首次出现的位置，再按位置
func (c *Collector) Findings() []core.Finding {
	c.mu.Lock()
	out := make([]core.Finding, len(c.findings))
	copy(out, c.findings)
	c.mu.Unlock()

	SortFindings(out)
	return out
}

type funcKey struct {
	file, function string
}

// SortFindings 对诊断做稳定排序，使输出与函数的分析顺序无关
func SortFindings(findings []core.Finding) {
	first := make(map[funcKey]core.Finding)
	for _, f := range findings {
		k := funcKey{f.File, f.Function}
		if cur, ok := first[k]; !ok || before(f, cur) {
			first[k] = f
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Function != b.Function {
			fa, fb := first[funcKey{a.File, a.Function}], first[funcKey{b.File, b.Function}]
			if fa.Line != fb.Line || fa.Column != fb.Column {
				return before(fa, fb)
			}
			return a.Function < b.Function
		}
		if a.Line != b.Line || a.Column != b.Column {
			return before(a, b)
		}
		return a.Message < b.Message
	})
}

func before(a, b core.Finding) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Column < b.Column
}
