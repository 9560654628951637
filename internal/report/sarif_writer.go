package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"cpycheck/internal/core"
)

// ruleDescriptions 每个诊断类别的说明
var ruleDescriptions = map[core.Category]string{
	core.UnknownFormatChar:     "The format string of a PyArg_ParseTuple-style call contains an unknown format unit",
	core.ArgumentCountMismatch: "The number of arguments does not match the format string",
	core.TypeMismatch:          "An argument's pointed-to type does not match its format code",
	core.LeakedReference:       "A new reference is still owned when the function exits",
	core.InvalidRelease:        "A reference is released that the function does not own",
	core.BorrowedReturn:        "A borrowed reference is returned without Py_INCREF()",
	core.AnalysisAbandoned:     "Reference-count analysis of the function was abandoned",
}

// SARIFWriter SARIF 格式报告写入器
type SARIFWriter struct {
	writer  io.Writer
	pretty  bool
	fatal   bool
	runGUID string
}

// NewSARIFWriter 创建新的 SARIF 写入器
func NewSARIFWriter(writer io.Writer, options ...SARIFOption) *SARIFWriter {
	w := &SARIFWriter{
		writer: writer,
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// SARIFOption SARIF 选项
type SARIFOption func(*SARIFWriter)

// WithPrettySARIF 启用美化 JSON 输出
func WithPrettySARIF() SARIFOption {
	return func(w *SARIFWriter) {
		w.pretty = true
	}
}

// WithSARIFFatal 结果级别为 error
func WithSARIFFatal(fatal bool) SARIFOption {
	return func(w *SARIFWriter) {
		w.fatal = fatal
	}
}

// WithRunGUID 使用固定的运行 GUID
func WithRunGUID(guid string) SARIFOption {
	return func(w *SARIFWriter) {
		w.runGUID = guid
	}
}

// Write 生成并写入 SARIF 报告
func (w *SARIFWriter) Write(result *ScanResult) error {
	sarifReport := w.generateSARIFReport(result)

	var data []byte
	var err error

	if w.pretty {
		data, err = json.MarshalIndent(sarifReport, "", "  ")
	} else {
		data, err = json.Marshal(sarifReport)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal SARIF report: %w", err)
	}

	if _, err = w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write SARIF report: %w", err)
	}
	return nil
}

// WriteToFile 写入到文件
func (w *SARIFWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := NewSARIFWriter(file, w.options()...)
	return writer.Write(result)
}

// generateSARIFReport 生成 SARIF 2.1.0 报告
func (w *SARIFWriter) generateSARIFReport(result *ScanResult) *SARIF {
	guid := w.runGUID
	if guid == "" {
		guid = uuid.NewString()
	}
	rules, index := w.generateRules()

	return &SARIF{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:    ToolName,
						Version: ToolVersion,
						Rules:   rules,
					},
				},
				AutomationDetails: &AutomationDetails{GUID: guid},
				Results:           w.generateResults(result, index),
			},
		},
	}
}

// generateRules 每个类别一条规则，顺序固定
func (w *SARIFWriter) generateRules() ([]Rule, map[core.Category]int) {
	rules := make([]Rule, 0, len(core.Categories))
	index := make(map[core.Category]int, len(core.Categories))
	for i, c := range core.Categories {
		index[c] = i
		rules = append(rules, Rule{
			ID:               string(c),
			Name:             string(c),
			ShortDescription: Description{Text: ruleDescriptions[c]},
		})
	}
	return rules, index
}

// generateResults 生成结果
func (w *SARIFWriter) generateResults(result *ScanResult, index map[core.Category]int) []Result {
	level := "warning"
	if w.fatal {
		level = "error"
	}

	results := make([]Result, 0, len(result.Findings))
	for _, f := range result.Findings {
		r := Result{
			RuleID:    string(f.Category),
			RuleIndex: index[f.Category],
			Level:     level,
			Message:   Message{Text: f.Message},
			Locations: []Location{
				{
					PhysicalLocation: PhysicalLocation{
						ArtifactLocation: ArtifactLocation{URI: f.File},
						Region:           Region{StartLine: f.Line, StartColumn: f.Column},
					},
				},
			},
		}
		if f.Function != "" {
			r.Locations[0].LogicalLocations = []LogicalLocation{{Name: f.Function, Kind: "function"}}
		}
		results = append(results, r)
	}
	return results
}

// options 获取选项
func (w *SARIFWriter) options() []SARIFOption {
	opts := []SARIFOption{WithSARIFFatal(w.fatal), WithRunGUID(w.runGUID)}
	if w.pretty {
		opts = append(opts, WithPrettySARIF())
	}
	return opts
}

// SARIF SARIF 报告结构
type SARIF struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []Run  `json:"runs"`
}

// Run SARIF 运行
type Run struct {
	Tool              Tool               `json:"tool"`
	AutomationDetails *AutomationDetails `json:"automationDetails,omitempty"`
	Results           []Result           `json:"results"`
}

// AutomationDetails 运行标识
type AutomationDetails struct {
	GUID string `json:"guid"`
}

// Tool SARIF 工具
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver 工具驱动
type Driver struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	InformationURI string `json:"informationUri,omitempty"`
	Rules          []Rule `json:"rules,omitempty"`
}

// Rule SARIF 规则
type Rule struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ShortDescription Description `json:"shortDescription"`
}

// Description 描述
type Description struct {
	Text string `json:"text"`
}

// Result SARIF 结果
type Result struct {
	RuleID    string     `json:"ruleId"`
	RuleIndex int        `json:"ruleIndex"`
	Level     string     `json:"level"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations,omitempty"`
}

// Message 消息
type Message struct {
	Text string `json:"text"`
}

// Location 位置
type Location struct {
	PhysicalLocation PhysicalLocation  `json:"physicalLocation"`
	LogicalLocations []LogicalLocation `json:"logicalLocations,omitempty"`
}

// PhysicalLocation 物理位置
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region"`
}

// LogicalLocation 逻辑位置
type LogicalLocation struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ArtifactLocation artifact 位置
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region 区域
type Region struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
}
