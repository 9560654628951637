package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// GCCDiagnostic 与 GCC -fdiagnostics-format=json 相同结构的一条诊断
type GCCDiagnostic struct {
	Kind      string          `json:"kind"`
	Message   string          `json:"message"`
	Option    string          `json:"option,omitempty"`
	Children  []GCCDiagnostic `json:"children"`
	Locations []GCCLocation   `json:"locations"`
	// CpycheckCategory 诊断类别，GCC 本身没有这个字段
	CpycheckCategory string `json:"cpycheck-category,omitempty"`
}

// GCCLocation 诊断位置
type GCCLocation struct {
	Caret            GCCPosition          `json:"caret"`
	LogicalLocations []GCCLogicalLocation `json:"logical-locations,omitempty"`
}

// GCCPosition 源码中的一个点
type GCCPosition struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// GCCLogicalLocation 所在函数
type GCCLogicalLocation struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fully-qualified-name"`
	Kind               string `json:"kind"`
}

// JSONWriter GCC JSON 诊断写入器
type JSONWriter struct {
	writer    io.Writer
	pretty    bool
	fatal     bool
	optionTag string
}

// NewJSONWriter 创建新的 JSON 写入器
func NewJSONWriter(writer io.Writer, options ...JSONOption) *JSONWriter {
	w := &JSONWriter{
		writer:    writer,
		optionTag: DefaultOptionTag,
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// JSONOption JSON 选项
type JSONOption func(*JSONWriter)

// WithPrettyJSON 启用美化 JSON 输出
func WithPrettyJSON() JSONOption {
	return func(w *JSONWriter) {
		w.pretty = true
	}
}

// WithJSONFatal 诊断类型为 error
func WithJSONFatal(fatal bool) JSONOption {
	return func(w *JSONWriter) {
		w.fatal = fatal
	}
}

// WithJSONOptionTag 设置 option 字段
func WithJSONOptionTag(tag string) JSONOption {
	return func(w *JSONWriter) {
		w.optionTag = tag
	}
}

// Write 生成并写入报告
func (w *JSONWriter) Write(result *ScanResult) error {
	diags := w.generateReport(result)

	var data []byte
	var err error

	if w.pretty {
		data, err = json.MarshalIndent(diags, "", "  ")
	} else {
		data, err = json.Marshal(diags)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON report: %w", err)
	}

	if _, err = w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}

// WriteToFile 写入到文件
func (w *JSONWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := NewJSONWriter(file, w.options()...)
	return writer.Write(result)
}

// generateReport 每条诊断一个顶层对象
func (w *JSONWriter) generateReport(result *ScanResult) []GCCDiagnostic {
	kind := string(SeverityWarning)
	if w.fatal {
		kind = string(SeverityError)
	}

	diags := make([]GCCDiagnostic, 0, len(result.Findings))
	for _, f := range result.Findings {
		loc := GCCLocation{Caret: GCCPosition{File: f.File, Line: f.Line, Column: f.Column}}
		if f.Function != "" {
			loc.LogicalLocations = []GCCLogicalLocation{{Name: f.Function, FullyQualifiedName: f.Function, Kind: "function"}}
		}
		diags = append(diags, GCCDiagnostic{
			Kind:             kind,
			Message:          f.Message,
			Option:           w.optionTag,
			Children:         []GCCDiagnostic{},
			Locations:        []GCCLocation{loc},
			CpycheckCategory: string(f.Category),
		})
	}
	return diags
}

// options 获取选项
func (w *JSONWriter) options() []JSONOption {
	opts := []JSONOption{WithJSONFatal(w.fatal), WithJSONOptionTag(w.optionTag)}
	if w.pretty {
		opts = append(opts, WithPrettyJSON())
	}
	return opts
}
