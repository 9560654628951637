package detectors

import (
	"fmt"

	"github.com/golang/glog"

	"cpycheck/internal/core"
	"cpycheck/internal/refcount"
)

// RefcountDetector 在每个函数的控制流图上跟踪 PyObject* 引用的所有权
type RefcountDetector struct {
	*core.BaseDetector
	facts *refcount.Facts
	opts  refcount.Options
}

// NewRefcountDetector 创建引用计数检测器；facts 为 nil 时使用内置事实表
func NewRefcountDetector(facts *refcount.Facts, opts refcount.Options) *RefcountDetector {
	if facts == nil {
		facts = refcount.DefaultFacts()
	}
	return &RefcountDetector{
		BaseDetector: core.NewBaseDetector(
			"refcount",
			"Tracks ownership of PyObject* references along every control-flow path",
		),
		facts: facts,
		opts:  opts,
	}
}

// Run 执行检测
func (d *RefcountDetector) Run(ctx *core.AnalysisContext) ([]core.Finding, error) {
	var findings []core.Finding
	for _, fn := range ctx.Functions {
		fs, err := d.CheckFunction(ctx, fn)
		if err != nil {
			return findings, err
		}
		findings = append(findings, fs...)
	}
	return findings, nil
}

// CheckFunction 分析一个函数；内部错误只放弃该函数，以 AnalysisAbandoned 诊断报告
func (d *RefcountDetector) CheckFunction(ctx *core.AnalysisContext, fn *core.Function) ([]core.Finding, error) {
	issues, err := d.analyze(ctx, fn)
	if err != nil {
		wrapped := core.WrapError(d, fn, err)
		glog.Errorf("%s: %v", ctx.Unit.FilePath, wrapped)
		return []core.Finding{d.CreateFinding(ctx, core.AnalysisAbandoned, fn, fn.Node,
			fmt.Sprintf("reference-count analysis of '%s' abandoned: %v", fn.Name, err))}, nil
	}

	findings := make([]core.Finding, 0, len(issues))
	for _, issue := range issues {
		findings = append(findings, d.FindingAt(ctx, issue.Kind.Category(), fn, issue.Pos, issue.Message))
	}
	return findings, nil
}

func (d *RefcountDetector) analyze(ctx *core.AnalysisContext, fn *core.Function) ([]refcount.Issue, error) {
	cfg, err := core.BuildFunctionCFG(ctx.Unit, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to build CFG: %w", err)
	}
	g := refcount.Lower(ctx, fn, cfg, d.facts)
	glog.V(2).Infof("%s: %s: %d blocks, %d edges", ctx.Unit.FilePath, fn.Name, len(cfg.Blocks), len(cfg.Edges))
	issues, err := refcount.Analyze(g, d.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze ownership: %w", err)
	}
	return issues, nil
}
