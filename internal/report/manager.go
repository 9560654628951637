package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ToolName 报告中的工具名
const ToolName = "cpycheck"

// ToolVersion 报告中的工具版本，构建时可通过 -ldflags 覆盖
var ToolVersion = "dev"

// Format 报告格式类型
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// Writer 报告写入器接口
type Writer interface {
	Write(result *ScanResult) error
	WriteToFile(result *ScanResult, filename string) error
}

// Manager 报告管理器
type Manager struct {
	format     Format
	outputFile string
	textOpts   []TextOption
	jsonOpts   []JSONOption
	sarifOpts  []SARIFOption
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithFormat 设置报告格式
func WithFormat(format Format) ManagerOption {
	return func(m *Manager) {
		m.format = format
	}
}

// WithOutputFile 写入文件而不是标准输出或标准错误
func WithOutputFile(filename string) ManagerOption {
	return func(m *Manager) {
		m.outputFile = filename
	}
}

// WithTextOptions 文本写入器的选项
func WithTextOptions(opts ...TextOption) ManagerOption {
	return func(m *Manager) {
		m.textOpts = append(m.textOpts, opts...)
	}
}

// WithJSONOptions JSON 写入器的选项
func WithJSONOptions(opts ...JSONOption) ManagerOption {
	return func(m *Manager) {
		m.jsonOpts = append(m.jsonOpts, opts...)
	}
}

// WithSARIFOptions SARIF 写入器的选项
func WithSARIFOptions(opts ...SARIFOption) ManagerOption {
	return func(m *Manager) {
		m.sarifOpts = append(m.sarifOpts, opts...)
	}
}

// NewManager 创建新的报告管理器
func NewManager(options ...ManagerOption) *Manager {
	m := &Manager{
		format: FormatText,
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// CreateWriter 创建报告写入器
func (m *Manager) CreateWriter(format Format, writer io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(writer, m.jsonOpts...), nil
	case FormatText:
		return NewTextWriter(writer, m.textOpts...), nil
	case FormatSARIF:
		return NewSARIFWriter(writer, m.sarifOpts...), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Emit 输出报告：文本默认写到 stderr（与 GCC 一致），JSON 与 SARIF 默认写到 stdout；
// 设置了输出文件时写入文件并返回其路径
func (m *Manager) Emit(result *ScanResult, stdout, stderr io.Writer) (string, error) {
	if m.outputFile == "" {
		dst := stdout
		if m.format == FormatText {
			dst = stderr
		}
		writer, err := m.CreateWriter(m.format, dst)
		if err != nil {
			return "", err
		}
		if err := writer.Write(result); err != nil {
			return "", fmt.Errorf("failed to write %s report: %w", m.format, err)
		}
		return "", nil
	}

	if dir := filepath.Dir(m.outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	writer, err := m.CreateWriter(m.format, io.Discard)
	if err != nil {
		return "", err
	}
	if err := writer.WriteToFile(result, m.outputFile); err != nil {
		return "", fmt.Errorf("failed to write %s report: %w", m.format, err)
	}
	return m.outputFile, nil
}

// ParseFormat 解析格式字符串
func ParseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(formatStr) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "sarif":
		return FormatSARIF, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", formatStr)
	}
}

// SupportedFormats 获取支持的格式列表
func SupportedFormats() []Format {
	return []Format{FormatText, FormatJSON, FormatSARIF}
}

// FormatDescription 获取格式描述
func FormatDescription(format Format) string {
	descriptions := map[Format]string{
		FormatText:  "GCC diagnostic text on stderr",
		FormatJSON:  "GCC -fdiagnostics-format=json",
		FormatSARIF: "SARIF 2.1.0 (Static Analysis Results Interchange Format)",
	}

	if desc, ok := descriptions[format]; ok {
		return desc
	}

	return "Unknown format"
}
