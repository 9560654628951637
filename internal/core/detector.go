package core

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Category 诊断类别
type Category string

const (
	UnknownFormatChar     Category = "UnknownFormatChar"
	ArgumentCountMismatch Category = "ArgumentCountMismatch"
	TypeMismatch          Category = "TypeMismatch"
	LeakedReference       Category = "LeakedReference"
	InvalidRelease        Category = "InvalidRelease"
	BorrowedReturn        Category = "BorrowedReturn"
	AnalysisAbandoned     Category = "AnalysisAbandoned"
)

// Categories 所有诊断类别，按规则编号顺序
var Categories = []Category{
	UnknownFormatChar,
	ArgumentCountMismatch,
	TypeMismatch,
	LeakedReference,
	InvalidRelease,
	BorrowedReturn,
	AnalysisAbandoned,
}

// Finding 检测器发现的一条诊断
type Finding struct {
	Category Category `json:"category"`
	Function string   `json:"function,omitempty"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Message  string   `json:"message"`
	Detector string   `json:"detector"`
}

// Detector 检测器接口
type Detector interface {
	// Name 返回检测器名称
	Name() string

	// Description 返回检测器描述
	Description() string

	// Run 执行检测
	Run(ctx *AnalysisContext) ([]Finding, error)
}

// FunctionDetector 可以逐个函数独立运行的检测器
type FunctionDetector interface {
	Detector

	// CheckFunction 只检测一个函数
	CheckFunction(ctx *AnalysisContext, fn *Function) ([]Finding, error)
}

// BaseDetector 基础检测器，提供通用功能
type BaseDetector struct {
	name        string
	description string
}

// NewBaseDetector 创建基础检测器
func NewBaseDetector(name, description string) *BaseDetector {
	return &BaseDetector{
		name:        name,
		description: description,
	}
}

// Name 返回检测器名称
func (d *BaseDetector) Name() string {
	return d.name
}

// Description 返回检测器描述
func (d *BaseDetector) Description() string {
	return d.description
}

// CreateFinding 在节点起点创建一条诊断
func (d *BaseDetector) CreateFinding(ctx *AnalysisContext, category Category, fn *Function, node *sitter.Node, message string) Finding {
	return d.FindingAt(ctx, category, fn, ctx.Position(node), message)
}

// FindingAt 在给定位置创建一条诊断
func (d *BaseDetector) FindingAt(ctx *AnalysisContext, category Category, fn *Function, pos Pos, message string) Finding {
	f := Finding{
		Category: category,
		File:     ctx.Unit.FilePath,
		Line:     pos.Line,
		Column:   pos.Column,
		Message:  message,
		Detector: d.name,
	}
	if fn != nil {
		f.Function = fn.Name
	}
	return f
}

// ErrorWrapper 包装检测器错误
type ErrorWrapper struct {
	DetectorName string
	Function     string
	Err          error
}

func (e *ErrorWrapper) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("detector %s: function %s: %v", e.DetectorName, e.Function, e.Err)
	}
	return fmt.Sprintf("detector %s: %v", e.DetectorName, e.Err)
}

// Unwrap 返回原始错误
func (e *ErrorWrapper) Unwrap() error {
	return e.Err
}

// WrapError 包装检测器错误
func WrapError(detector Detector, fn *Function, err error) error {
	w := &ErrorWrapper{
		DetectorName: detector.Name(),
		Err:          err,
	}
	if fn != nil {
		w.Function = fn.Name
	}
	return w
}
