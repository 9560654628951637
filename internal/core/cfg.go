package core

import (
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrMalformedCFG 函数体无法构建控制流图
var ErrMalformedCFG = errors.New("malformed control flow graph")

// BlockID 基本块在 CFG.Blocks 中的下标
type BlockID int

// BlockType 表示基本块的类型
type BlockType int

const (
	BlockEntry BlockType = iota
	BlockStatement
	BlockCondition
	BlockBranch
	BlockLoop
	BlockLabel
)

// EdgeKind 边的类别
type EdgeKind int

const (
	EdgeNormal EdgeKind = iota
	EdgeTrue
	EdgeFalse
)

// String 返回边类别名称
func (k EdgeKind) String() string {
	switch k {
	case EdgeTrue:
		return "true"
	case EdgeFalse:
		return "false"
	default:
		return "normal"
	}
}

// Block 基本块：顺序执行的语句，末尾可能带有分支条件或 return
type Block struct {
	ID         BlockID
	Type       BlockType
	Statements []*sitter.Node
	// Condition 块末尾求值的分支条件（if/while/for/do 的条件或 switch 的控制表达式）
	Condition *sitter.Node
	// Return 结束本块的 return 语句或 Py_RETURN_* 宏
	Return *sitter.Node
	Succs  []BlockID
	Preds  []BlockID
}

// Edge 控制流边
type Edge struct {
	From BlockID
	To   BlockID
	Kind EdgeKind
}

// CFG 一个函数的控制流图；所有基本块都从 Entry 可达
type CFG struct {
	Function string
	Blocks   []*Block
	Edges    []Edge
	Entry    BlockID
	// Exits 没有后继的块：以 return 结束或执行到函数体末尾
	Exits []BlockID
	// End 函数体的右花括号，作为落出函数体时的诊断位置
	End *sitter.Node
}

// Block 按 ID 获取基本块
func (g *CFG) Block(id BlockID) *Block {
	return g.Blocks[id]
}

// OutEdges 返回从给定块出发的边
func (g *CFG) OutEdges(id BlockID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// returnMacros 展开为 return 语句的 CPython 宏
var returnMacros = map[string]bool{
	"Py_RETURN_NONE":           true,
	"Py_RETURN_TRUE":           true,
	"Py_RETURN_FALSE":          true,
	"Py_RETURN_NOTIMPLEMENTED": true,
}

// IsReturnMacro 语句是否是 Py_RETURN_* 宏
func IsReturnMacro(unit *ParsedUnit, stmt *sitter.Node) (string, bool) {
	if stmt == nil || stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return "", false
	}
	expr := stmt.NamedChild(0)
	if expr.Type() != "identifier" {
		return "", false
	}
	name := unit.Text(expr)
	return name, returnMacros[name]
}

// cfgBuilder 用于构建CFG的辅助结构
type cfgBuilder struct {
	unit   *ParsedUnit
	cfg    *CFG
	labels map[string]BlockID
	// breakTargets/continueTargets 当前可用的 break、continue 目标栈
	breakTargets    []BlockID
	continueTargets []BlockID
}

// BuildFunctionCFG 为单个函数构建控制流图
func BuildFunctionCFG(unit *ParsedUnit, fn *Function) (*CFG, error) {
	if fn == nil || fn.Body == nil || fn.Body.Type() != "compound_statement" {
		return nil, fmt.Errorf("failed to build CFG: %w", ErrMalformedCFG)
	}
	b := &cfgBuilder{
		unit:   unit,
		cfg:    &CFG{Function: fn.Name},
		labels: make(map[string]BlockID),
	}
	entry := b.createNode(BlockEntry)
	b.cfg.Entry = entry
	b.buildNodeCFG(fn.Body, entry)

	if last := fn.Body.Child(int(fn.Body.ChildCount()) - 1); last != nil && last.Type() == "}" {
		b.cfg.End = last
	} else {
		b.cfg.End = fn.Body
	}

	b.prune()
	return b.cfg, nil
}

// createNode 创建新的基本块
func (b *cfgBuilder) createNode(blockType BlockType) BlockID {
	id := BlockID(len(b.cfg.Blocks))
	b.cfg.Blocks = append(b.cfg.Blocks, &Block{ID: id, Type: blockType})
	return id
}

// addEdge 添加CFG边
func (b *cfgBuilder) addEdge(from, to BlockID, kind EdgeKind) {
	b.cfg.Edges = append(b.cfg.Edges, Edge{From: from, To: to, Kind: kind})
}

// terminated 块是否已经以 return 或跳转结束
func (b *cfgBuilder) terminated(id BlockID) bool {
	blk := b.cfg.Blocks[id]
	if blk.Return != nil {
		return true
	}
	for _, e := range b.cfg.Edges {
		if e.From == id {
			return true
		}
	}
	return false
}

// jump 从 from 跳转到 to，之后的语句进入一个新的（不可达的）块
func (b *cfgBuilder) jump(from, to BlockID) BlockID {
	b.addEdge(from, to, EdgeNormal)
	return b.createNode(BlockStatement)
}

// fallInto 顺序进入一个新块
func (b *cfgBuilder) fallInto(from BlockID, blockType BlockType) BlockID {
	next := b.createNode(blockType)
	b.addEdge(from, next, EdgeNormal)
	return next
}

// buildNodeCFG 把语句追加到 current 块，返回之后语句所在的块
func (b *cfgBuilder) buildNodeCFG(node *sitter.Node, current BlockID) BlockID {
	if node == nil {
		return current
	}
	switch node.Type() {
	case "compound_statement":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			current = b.buildNodeCFG(node.NamedChild(i), current)
		}
		return current

	case "if_statement":
		return b.buildIfStatement(node, current)

	case "while_statement":
		return b.buildWhileStatement(node, current)

	case "do_statement":
		return b.buildDoStatement(node, current)

	case "for_statement":
		return b.buildForStatement(node, current)

	case "switch_statement":
		return b.buildSwitchStatement(node, current)

	case "labeled_statement":
		label := b.label(b.unit.Text(node.ChildByFieldName("label")))
		b.addEdge(current, label, EdgeNormal)
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() != "statement_identifier" {
				label = b.buildNodeCFG(child, label)
			}
		}
		return label

	case "goto_statement":
		b.appendStatement(current, node)
		return b.jump(current, b.label(b.unit.Text(node.ChildByFieldName("label"))))

	case "break_statement":
		if len(b.breakTargets) == 0 {
			return current
		}
		return b.jump(current, b.breakTargets[len(b.breakTargets)-1])

	case "continue_statement":
		if len(b.continueTargets) == 0 {
			return current
		}
		return b.jump(current, b.continueTargets[len(b.continueTargets)-1])

	case "return_statement":
		return b.buildReturn(node, current)

	case "expression_statement":
		if _, ok := IsReturnMacro(b.unit, node); ok {
			return b.buildReturn(node, current)
		}
		b.appendStatement(current, node)
		return current

	case "comment", "preproc_call", "preproc_def", "preproc_function_def", "type_definition":
		return current

	case "preproc_if", "preproc_ifdef":
		// 预处理条件块只展开第一个分支
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if !child.IsNamed() {
				continue
			}
			switch node.FieldNameForChild(i) {
			case "condition", "name", "alternative":
				continue
			}
			current = b.buildNodeCFG(child, current)
		}
		return current

	default:
		b.appendStatement(current, node)
		return current
	}
}

func (b *cfgBuilder) appendStatement(id BlockID, stmt *sitter.Node) {
	blk := b.cfg.Blocks[id]
	blk.Statements = append(blk.Statements, stmt)
}

// buildReturn return 结束当前块，之后的语句不可达
func (b *cfgBuilder) buildReturn(node *sitter.Node, current BlockID) BlockID {
	b.cfg.Blocks[current].Return = node
	return b.createNode(BlockStatement)
}

// label 返回标签对应的块，首次引用时创建
func (b *cfgBuilder) label(name string) BlockID {
	if id, ok := b.labels[name]; ok {
		return id
	}
	id := b.createNode(BlockLabel)
	b.labels[name] = id
	return id
}

// branch 在 current 末尾放置条件，返回条件所在的块
func (b *cfgBuilder) branch(current BlockID, cond *sitter.Node, blockType BlockType) BlockID {
	blk := b.cfg.Blocks[current]
	if blk.Condition != nil || b.terminated(current) {
		current = b.fallInto(current, blockType)
		blk = b.cfg.Blocks[current]
	}
	blk.Condition = unwrapCondition(cond)
	if blk.Type == BlockStatement {
		blk.Type = BlockCondition
	}
	return current
}

// unwrapCondition 去掉条件外层的括号节点
func unwrapCondition(cond *sitter.Node) *sitter.Node {
	if cond != nil && cond.Type() == "parenthesized_expression" && cond.NamedChildCount() == 1 {
		return cond.NamedChild(0)
	}
	return cond
}

// buildIfStatement 构建if语句的CFG
func (b *cfgBuilder) buildIfStatement(node *sitter.Node, current BlockID) BlockID {
	cond := b.branch(current, node.ChildByFieldName("condition"), BlockCondition)
	merge := b.createNode(BlockStatement)

	thenEntry := b.createNode(BlockBranch)
	b.addEdge(cond, thenEntry, EdgeTrue)
	thenExit := b.buildNodeCFG(node.ChildByFieldName("consequence"), thenEntry)
	b.addEdge(thenExit, merge, EdgeNormal)

	alternative := node.ChildByFieldName("alternative")
	if alternative != nil && alternative.Type() == "else_clause" && alternative.NamedChildCount() > 0 {
		alternative = alternative.NamedChild(0)
	}
	if alternative != nil {
		elseEntry := b.createNode(BlockBranch)
		b.addEdge(cond, elseEntry, EdgeFalse)
		elseExit := b.buildNodeCFG(alternative, elseEntry)
		b.addEdge(elseExit, merge, EdgeNormal)
	} else {
		b.addEdge(cond, merge, EdgeFalse)
	}
	return merge
}

// buildWhileStatement 构建while循环：条件块 -> 循环体 -> 条件块
func (b *cfgBuilder) buildWhileStatement(node *sitter.Node, current BlockID) BlockID {
	header := b.fallInto(current, BlockLoop)
	b.cfg.Blocks[header].Condition = unwrapCondition(node.ChildByFieldName("condition"))
	after := b.createNode(BlockStatement)

	body := b.createNode(BlockBranch)
	b.addEdge(header, body, EdgeTrue)
	b.addEdge(header, after, EdgeFalse)

	b.pushLoop(after, header)
	bodyExit := b.buildNodeCFG(node.ChildByFieldName("body"), body)
	b.popLoop()
	b.addEdge(bodyExit, header, EdgeNormal)
	return after
}

// buildDoStatement 构建do-while循环：循环体先执行一次
func (b *cfgBuilder) buildDoStatement(node *sitter.Node, current BlockID) BlockID {
	body := b.fallInto(current, BlockLoop)
	cond := b.createNode(BlockCondition)
	b.cfg.Blocks[cond].Condition = unwrapCondition(node.ChildByFieldName("condition"))
	after := b.createNode(BlockStatement)

	b.pushLoop(after, cond)
	bodyExit := b.buildNodeCFG(node.ChildByFieldName("body"), body)
	b.popLoop()
	b.addEdge(bodyExit, cond, EdgeNormal)
	b.addEdge(cond, body, EdgeTrue)
	b.addEdge(cond, after, EdgeFalse)
	return after
}

// buildForStatement 构建for循环：初始化 -> 条件 -> 循环体 -> 更新 -> 条件
func (b *cfgBuilder) buildForStatement(node *sitter.Node, current BlockID) BlockID {
	if init := node.ChildByFieldName("initializer"); init != nil {
		b.appendStatement(current, init)
	}
	header := b.fallInto(current, BlockLoop)
	after := b.createNode(BlockStatement)
	body := b.createNode(BlockBranch)

	if cond := node.ChildByFieldName("condition"); cond != nil {
		b.cfg.Blocks[header].Condition = unwrapCondition(cond)
		b.addEdge(header, body, EdgeTrue)
		b.addEdge(header, after, EdgeFalse)
	} else {
		b.addEdge(header, body, EdgeNormal)
	}

	update := b.createNode(BlockStatement)
	if upd := node.ChildByFieldName("update"); upd != nil {
		b.appendStatement(update, upd)
	}
	b.addEdge(update, header, EdgeNormal)

	b.pushLoop(after, update)
	bodyExit := b.buildNodeCFG(node.ChildByFieldName("body"), body)
	b.popLoop()
	b.addEdge(bodyExit, update, EdgeNormal)
	return after
}

// buildSwitchStatement 构建switch语句的CFG：控制表达式到每个case一条边，case之间顺序贯穿
func (b *cfgBuilder) buildSwitchStatement(node *sitter.Node, current BlockID) BlockID {
	head := b.branch(current, node.ChildByFieldName("condition"), BlockCondition)
	after := b.createNode(BlockStatement)

	b.breakTargets = append(b.breakTargets, after)
	defer func() { b.breakTargets = b.breakTargets[:len(b.breakTargets)-1] }()

	hasDefault := false
	prev := BlockID(-1)
	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			child := body.NamedChild(i)
			if child.Type() != "case_statement" {
				if prev >= 0 {
					prev = b.buildNodeCFG(child, prev)
				}
				continue
			}
			caseEntry := b.createNode(BlockBranch)
			b.addEdge(head, caseEntry, EdgeNormal)
			if prev >= 0 {
				b.addEdge(prev, caseEntry, EdgeNormal)
			}
			value := child.ChildByFieldName("value")
			if value == nil {
				hasDefault = true
			}
			prev = caseEntry
			for j := 0; j < int(child.NamedChildCount()); j++ {
				stmt := child.NamedChild(j)
				if value != nil && stmt.StartByte() == value.StartByte() && stmt.EndByte() == value.EndByte() {
					continue
				}
				prev = b.buildNodeCFG(stmt, prev)
			}
		}
	}
	if prev >= 0 {
		b.addEdge(prev, after, EdgeNormal)
	}
	if !hasDefault {
		b.addEdge(head, after, EdgeNormal)
	}
	return after
}

func (b *cfgBuilder) pushLoop(breakTarget, continueTarget BlockID) {
	b.breakTargets = append(b.breakTargets, breakTarget)
	b.continueTargets = append(b.continueTargets, continueTarget)
}

func (b *cfgBuilder) popLoop() {
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]
}

// prune 删除从入口不可达的块并压缩编号；以 return 结束的块不保留后继边
func (b *cfgBuilder) prune() {
	g := b.cfg

	var edges []Edge
	for _, e := range g.Edges {
		if g.Blocks[e.From].Return != nil {
			continue
		}
		edges = append(edges, e)
	}

	succs := make(map[BlockID][]BlockID)
	for _, e := range edges {
		succs[e.From] = append(succs[e.From], e.To)
	}

	reachable := make([]bool, len(g.Blocks))
	worklist := []BlockID{g.Entry}
	reachable[g.Entry] = true
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		for _, s := range succs[current] {
			if !reachable[s] {
				reachable[s] = true
				worklist = append(worklist, s)
			}
		}
	}

	remap := make([]BlockID, len(g.Blocks))
	var blocks []*Block
	for i, blk := range g.Blocks {
		if !reachable[i] {
			remap[i] = -1
			continue
		}
		remap[i] = BlockID(len(blocks))
		blk.ID = remap[i]
		blocks = append(blocks, blk)
	}

	g.Blocks = blocks
	g.Edges = g.Edges[:0]
	for _, e := range edges {
		if remap[e.From] < 0 || remap[e.To] < 0 {
			continue
		}
		e.From, e.To = remap[e.From], remap[e.To]
		g.Edges = append(g.Edges, e)
		g.Blocks[e.From].Succs = append(g.Blocks[e.From].Succs, e.To)
		g.Blocks[e.To].Preds = append(g.Blocks[e.To].Preds, e.From)
	}
	g.Entry = remap[g.Entry]

	g.Exits = nil
	for _, blk := range g.Blocks {
		if len(blk.Succs) == 0 {
			g.Exits = append(g.Exits, blk.ID)
		}
	}
}
