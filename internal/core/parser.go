package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// parserPool 管理 tree-sitter Parser 实例池，每个 goroutine 获取独立的 Parser
var parserPool = sync.Pool{
	New: func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(c.GetLanguage())
		return parser
	},
}

// getParser 从池中获取 Parser
func getParser() *sitter.Parser {
	return parserPool.Get().(*sitter.Parser)
}

// putParser 将 Parser 归还到池
func putParser(parser *sitter.Parser) {
	parser.Reset()
	parserPool.Put(parser)
}

// queryCache 全局 Query 缓存，key 为查询模式
var queryCache sync.Map

var queryMu sync.Mutex

// GetQueryFromCache 从缓存获取或创建 Query
func GetQueryFromCache(queryPattern string) (*sitter.Query, error) {
	if cached, ok := queryCache.Load(queryPattern); ok {
		return cached.(*sitter.Query), nil
	}

	queryMu.Lock()
	defer queryMu.Unlock()

	// 双重检查：等待锁期间可能已被其他 goroutine 创建
	if cached, ok := queryCache.Load(queryPattern); ok {
		return cached.(*sitter.Query), nil
	}

	query, err := sitter.NewQuery([]byte(queryPattern), c.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	queryCache.Store(queryPattern, query)
	return query, nil
}

// ParsedUnit 表示一个已解析的 C 源文件
type ParsedUnit struct {
	FilePath string
	Root     *sitter.Node
	Source   []byte
	Tree     *sitter.Tree
}

// IsSourceFile 判断文件是否是可分析的 C 源文件
func IsSourceFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".c", ".h":
		return true
	default:
		return false
	}
}

// ParseFile 读取并解析单个文件
func ParseFile(ctx context.Context, filePath string) (*ParsedUnit, error) {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return ParseSource(ctx, filePath, source)
}

// ParseSource 解析内存中的源代码，filePath 仅用于诊断输出
func ParseSource(ctx context.Context, filePath string, source []byte) (*ParsedUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filePath, err)
	}

	parser := getParser()
	defer putParser(parser)

	// 池中的 Parser 只接收不可取消的 context：ParseCtx 的取消标志会在解析结束后
	// 仍被置位，归还后下一次解析会失败
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filePath, err)
	}
	if err := ctx.Err(); err != nil {
		tree.Close()
		return nil, fmt.Errorf("failed to parse file %s: %w", filePath, err)
	}

	return &ParsedUnit{
		FilePath: filePath,
		Root:     tree.RootNode(),
		Source:   source,
		Tree:     tree,
	}, nil
}

// Text 获取节点的源代码文本
func (u *ParsedUnit) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}

	start := node.StartByte()
	end := node.EndByte()

	// 边界检查，防止越界
	if end > uint32(len(u.Source)) {
		end = uint32(len(u.Source))
	}
	if start >= end {
		return ""
	}
	return string(u.Source[start:end])
}

// QueryMatch 表示查询匹配的结果
type QueryMatch struct {
	Node     *sitter.Node
	Captures map[string]*sitter.Node
	Pattern  string
}

// AnalysisContext 提供分析一个文件所需的上下文
type AnalysisContext struct {
	Unit      *ParsedUnit
	Options   Options
	Functions []*Function
	Globals   *Scope
	Structs   *StructTable
}

// NewAnalysisContext 创建新的分析上下文，并收集函数定义、全局变量和结构体
func NewAnalysisContext(unit *ParsedUnit, opts Options) *AnalysisContext {
	ctx := &AnalysisContext{
		Unit:    unit,
		Options: opts.withDefaults(),
	}
	ctx.Structs = CollectStructs(unit)
	ctx.Globals = CollectGlobals(unit, ctx.Structs)
	ctx.Functions = FindFunctions(unit, ctx.Structs)
	for _, fn := range ctx.Functions {
		fn.Scope = CollectLocals(unit, fn, ctx.Globals, ctx.Structs)
	}
	return ctx
}

// Query 执行查询并返回详细的匹配结果
func (ctx *AnalysisContext) Query(queryPattern string) ([]QueryMatch, error) {
	return ctx.QueryIn(ctx.Unit.Root, queryPattern)
}

// QueryIn 在指定子树内执行查询
func (ctx *AnalysisContext) QueryIn(root *sitter.Node, queryPattern string) ([]QueryMatch, error) {
	query, err := GetQueryFromCache(queryPattern)
	if err != nil {
		return nil, err
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	cursor.Exec(query, root)

	var matches []QueryMatch
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		if len(match.Captures) == 0 {
			continue
		}

		qm := QueryMatch{
			Node:     match.Captures[0].Node,
			Captures: make(map[string]*sitter.Node),
			Pattern:  queryPattern,
		}
		for _, capture := range match.Captures {
			qm.Captures[query.CaptureNameForId(capture.Index)] = capture.Node
		}
		matches = append(matches, qm)
	}

	return matches, nil
}

// GetSourceText 获取节点的源代码文本
func (ctx *AnalysisContext) GetSourceText(node *sitter.Node) string {
	return ctx.Unit.Text(node)
}

// FindFunctionCalls 查找函数体内按名称调用的函数
func (ctx *AnalysisContext) FindFunctionCalls(fn *Function) ([]QueryMatch, error) {
	query := `
		(call_expression
			function: (identifier) @name
			arguments: (argument_list) @args
		) @call
	`
	return ctx.QueryIn(fn.Body, query)
}
