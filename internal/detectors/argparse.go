package detectors

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/core"
	"cpycheck/internal/pyarg"
)

// ArgParseDetector 检查 PyArg_ParseTuple 系列调用的格式串与实参
type ArgParseDetector struct {
	*core.BaseDetector
}

// NewArgParseDetector 创建参数解析检测器
func NewArgParseDetector() *ArgParseDetector {
	return &ArgParseDetector{
		BaseDetector: core.NewBaseDetector(
			"argparse",
			"Checks format strings and argument types of PyArg_ParseTuple-style calls",
		),
	}
}

// Run 执行检测
func (d *ArgParseDetector) Run(ctx *core.AnalysisContext) ([]core.Finding, error) {
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

// CheckFunction 检查一个函数体内的所有参数解析调用
func (d *ArgParseDetector) CheckFunction(ctx *core.AnalysisContext, fn *core.Function) ([]core.Finding, error) {
	if fn.Body == nil {
		return nil, nil
	}
	matches, err := ctx.FindFunctionCalls(fn)
	if err != nil {
		return nil, core.WrapError(d, fn, fmt.Errorf("failed to query calls: %w", err))
	}

	var findings []core.Finding
	for _, match := range matches {
		nameNode := match.Captures["name"]
		argsNode := match.Captures["args"]
		if nameNode == nil || argsNode == nil {
			continue
		}
		api, ok := pyarg.LookupAPI(ctx.GetSourceText(nameNode))
		if !ok {
			continue
		}
		findings = append(findings, d.checkCall(ctx, fn, api, argsNode)...)
	}
	return findings, nil
}

// checkCall 编译格式串并绑定实参；诊断位置在实参列表的左括号
func (d *ArgParseDetector) checkCall(ctx *core.AnalysisContext, fn *core.Function, api pyarg.API, argsNode *sitter.Node) []core.Finding {
	args := argumentNodes(argsNode)
	if len(args) < api.FormatArg {
		return nil
	}
	format, raw, ok := core.StringLiteral(ctx.Unit, args[api.FormatArg-1])
	if !ok {
		glog.V(2).Infof("%s: %s: format of %s is not a literal, skipped", ctx.Unit.FilePath, fn.Name, api.Name)
		return nil
	}

	spec, err := pyarg.Compile(format, pyarg.WithSsizeT(api.SizeT || ctx.Options.SsizeTClean))
	if err != nil {
		var unknown *pyarg.UnknownFormatCharError
		if errors.As(err, &unknown) {
			unknown.Format = raw
		}
		return []core.Finding{d.CreateFinding(ctx, core.UnknownFormatChar, fn, argsNode, err.Error())}
	}

	site := pyarg.CallSite{
		API:        api.Name,
		Format:     spec,
		FormatText: raw,
		FirstArg:   api.FirstVararg,
	}
	for _, arg := range args[min(api.FirstVararg-1, len(args)):] {
		site.Args = append(site.Args, pyarg.Argument{
			Text: ctx.GetSourceText(arg),
			Type: core.TypeOf(ctx.Unit, arg, fn.Scope, ctx.Structs),
		})
	}

	var findings []core.Finding
	for _, m := range pyarg.NewBinder(ctx.Options.Model).Bind(site) {
		category := core.TypeMismatch
		if m.Kind != pyarg.TypeMismatch {
			category = core.ArgumentCountMismatch
		}
		findings = append(findings, d.CreateFinding(ctx, category, fn, argsNode, m.Message()))
	}
	return findings
}

// argumentNodes 实参表达式，跳过注释
func argumentNodes(list *sitter.Node) []*sitter.Node {
	var args []*sitter.Node
	for i := 0; i < int(list.NamedChildCount()); i++ {
		if arg := list.NamedChild(i); arg.Type() != "comment" {
			args = append(args, arg)
		}
	}
	return args
}
