package refcount

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/core"
	"cpycheck/internal/ctype"
	"cpycheck/internal/pyarg"
)

// valueKind 表达式结果的所有权类别
type valueKind int

const (
	valNone valueKind = iota
	valNew
	valBorrowed
	valVar
)

// value 表达式结果
type value struct {
	kind valueKind
	// name 来源函数、单例名或变量名
	name string
	call bool
}

// lowerer 把一个函数的 CFG 降低为所有权事件
type lowerer struct {
	ctx    *core.AnalysisContext
	fn     *core.Function
	facts  *Facts
	events []Event
}

// Lower 把函数的控制流图降低为带所有权事件的图；块编号与 cfg 一致
func Lower(ctx *core.AnalysisContext, fn *core.Function, cfg *core.CFG, facts *Facts) *Graph {
	if facts == nil {
		facts = DefaultFacts()
	}
	l := &lowerer{ctx: ctx, fn: fn, facts: facts}
	g := &Graph{
		Function: fn.Name,
		Entry:    int(cfg.Entry),
		Blocks:   make([]Block, len(cfg.Blocks)),
	}
	exitPos := ctx.Position(cfg.End)

	for i, blk := range cfg.Blocks {
		l.events = nil
		if blk.ID == cfg.Entry {
			l.seedParams()
		}
		for _, stmt := range blk.Statements {
			l.statement(stmt)
		}
		if blk.Condition != nil {
			l.expr(blk.Condition)
		}
		if blk.Return != nil {
			l.returnStatement(blk.Return)
		}

		out := Block{Events: l.events, ExitPos: exitPos}
		onTrue, onFalse := l.nullTests(blk.Condition)
		for _, e := range cfg.OutEdges(blk.ID) {
			s := Succ{To: int(e.To), Kind: e.Kind}
			switch e.Kind {
			case core.EdgeTrue:
				s.Null = onTrue
			case core.EdgeFalse:
				s.Null = onFalse
			}
			out.Succs = append(out.Succs, s)
		}
		g.Blocks[i] = out
	}
	return g
}

func (l *lowerer) emit(ev Event) {
	l.events = append(l.events, ev)
}

func (l *lowerer) pos(node *sitter.Node) core.Pos {
	return l.ctx.Position(node)
}

func (l *lowerer) text(node *sitter.Node) string {
	return l.ctx.GetSourceText(node)
}

// tracked 只跟踪类型为对象指针（或类型未知）的参数与局部变量
func (l *lowerer) tracked(name string) bool {
	if !l.fn.Scope.Local(name) {
		return false
	}
	sym := l.fn.Scope.Lookup(name)
	if sym == nil {
		return true
	}
	return !sym.Array && objectPointer(sym.Type)
}

// objectPointer PyObject *、PyListObject * 以及扩展自定义的 FooObject *
func objectPointer(t ctype.Type) bool {
	if t.IsUnknown() {
		return true
	}
	if t.Pointers != 1 {
		return false
	}
	return strings.HasSuffix(t.Base, "Object") || strings.HasSuffix(t.ResolvedBase(), "Object") ||
		t.ResolvedBase() == "struct _object"
}

// seedParams 方法形态的函数（返回 PyObject*，参数都是对象指针）的参数是借用引用
func (l *lowerer) seedParams() {
	if l.fn.ReturnType.String() != "PyObject *" || len(l.fn.Params) == 0 || len(l.fn.Params) > 3 {
		return
	}
	for _, p := range l.fn.Params {
		if p.Type.Pointers != 1 || !strings.HasSuffix(p.Type.Base, "Object") {
			return
		}
	}
	for _, p := range l.fn.Params {
		l.emit(Event{Op: OpBorrow, Var: p.Name, Source: "parameter '" + p.Name + "'", Pos: l.pos(p.Node)})
	}
}

// statement 降低一条非控制流语句
func (l *lowerer) statement(stmt *sitter.Node) {
	switch stmt.Type() {
	case "declaration":
		for i := 0; i < int(stmt.ChildCount()); i++ {
			if stmt.FieldNameForChild(i) != "declarator" {
				continue
			}
			l.declarator(stmt.Child(i))
		}
	case "expression_statement":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			l.expr(stmt.NamedChild(i))
		}
	default:
		l.expr(stmt)
	}
}

func (l *lowerer) declarator(d *sitter.Node) {
	name := core.ExtractIdentifier(l.ctx.Unit, d)
	if d.Type() != "init_declarator" {
		if name != "" && l.tracked(name) {
			l.emit(Event{Op: OpForget, Var: name, Pos: l.pos(d)})
		}
		return
	}
	rv := l.expr(d.ChildByFieldName("value"))
	if name != "" && l.tracked(name) {
		l.bind(name, rv, d)
	}
}

// bind 变量被赋值
func (l *lowerer) bind(name string, rv value, at *sitter.Node) {
	pos := l.pos(at)
	switch rv.kind {
	case valNew:
		l.emit(Event{Op: OpAcquire, Var: name, Source: rv.name, Call: rv.call, Pos: pos})
	case valBorrowed:
		l.emit(Event{Op: OpBorrow, Var: name, Source: rv.name, Call: rv.call, Pos: pos})
	case valVar:
		if rv.name == name {
			return
		}
		// 别名之后两个变量都不再精确跟踪
		l.emit(Event{Op: OpEscape, Var: rv.name, Pos: pos})
		l.emit(Event{Op: OpForget, Var: name, Pos: pos})
	default:
		l.emit(Event{Op: OpForget, Var: name, Pos: pos})
	}
}

// returnStatement 降低 return 语句或 Py_RETURN_* 宏
func (l *lowerer) returnStatement(stmt *sitter.Node) {
	ev := Event{Op: OpReturn, Pos: l.pos(stmt)}
	if stmt.Type() == "return_statement" && stmt.NamedChildCount() > 0 {
		rv := l.expr(stmt.NamedChild(0))
		switch rv.kind {
		case valVar:
			ev.Return = ReturnVar
			ev.Var = rv.name
		case valBorrowed:
			ev.Return = ReturnBorrowedValue
			ev.Source = rv.name
			ev.Call = rv.call
			if !rv.call {
				ev.Var = rv.name
			}
		}
	}
	l.emit(ev)
}

// unwrap 去掉括号与类型转换
func unwrap(node *sitter.Node) *sitter.Node {
	for node != nil {
		switch node.Type() {
		case "parenthesized_expression":
			if node.NamedChildCount() == 0 {
				return node
			}
			node = node.NamedChild(0)
		case "cast_expression":
			node = node.ChildByFieldName("value")
		default:
			return node
		}
	}
	return nil
}

// varOf 表达式是否直接是一个被跟踪的变量
func (l *lowerer) varOf(node *sitter.Node) string {
	node = unwrap(node)
	if node == nil || node.Type() != "identifier" {
		return ""
	}
	name := l.text(node)
	if !l.tracked(name) {
		return ""
	}
	return name
}

// addressOf 表达式是否是 &v（v 为被跟踪的变量）
func (l *lowerer) addressOf(node *sitter.Node) string {
	node = unwrap(node)
	if node == nil || node.Type() != "pointer_expression" {
		return ""
	}
	if op := node.ChildByFieldName("operator"); op == nil || l.text(op) != "&" {
		return ""
	}
	return l.varOf(node.ChildByFieldName("argument"))
}

// expr 按求值顺序降低表达式，返回表达式结果的所有权类别
func (l *lowerer) expr(node *sitter.Node) value {
	if node == nil {
		return value{}
	}
	switch node.Type() {
	case "call_expression":
		return l.call(node)

	case "identifier":
		name := l.text(node)
		if l.facts.IsSingleton(name) {
			return value{kind: valBorrowed, name: name}
		}
		if l.tracked(name) {
			return value{kind: valVar, name: name}
		}
		return value{}

	case "parenthesized_expression", "cast_expression":
		inner := node.ChildByFieldName("value")
		if node.Type() == "parenthesized_expression" && node.NamedChildCount() > 0 {
			inner = node.NamedChild(0)
		}
		return l.expr(inner)

	case "assignment_expression":
		return l.assign(node)

	case "pointer_expression":
		if v := l.addressOf(node); v != "" {
			l.emit(Event{Op: OpEscape, Var: v, Pos: l.pos(node)})
			return value{}
		}
		l.expr(node.ChildByFieldName("argument"))
		return value{}

	case "comma_expression":
		l.expr(node.ChildByFieldName("left"))
		return l.expr(node.ChildByFieldName("right"))

	case "conditional_expression":
		l.expr(node.ChildByFieldName("condition"))
		// 分支中的事件无法按路径区分，涉及的变量都不再跟踪
		for _, field := range []string{"consequence", "alternative"} {
			l.escapeAll(node.ChildByFieldName(field))
		}
		return value{}

	default:
		for i := 0; i < int(node.NamedChildCount()); i++ {
			l.expr(node.NamedChild(i))
		}
		return value{}
	}
}

// escapeAll 子树中出现的所有被跟踪变量都逃逸
func (l *lowerer) escapeAll(node *sitter.Node) {
	if node == nil {
		return
	}
	if node.Type() == "identifier" {
		if name := l.text(node); l.tracked(name) {
			l.emit(Event{Op: OpEscape, Var: name, Pos: l.pos(node)})
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		l.escapeAll(node.NamedChild(i))
	}
}

func (l *lowerer) assign(node *sitter.Node) value {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if op := node.ChildByFieldName("operator"); op != nil && l.text(op) != "=" {
		l.expr(right)
		return value{}
	}

	rv := l.expr(right)
	if name := l.varOf(left); name != "" {
		l.bind(name, rv, node)
		return value{kind: valVar, name: name}
	}
	// 存入字段、全局变量或数组元素
	if rv.kind == valVar {
		l.emit(Event{Op: OpEscape, Var: rv.name, Pos: l.pos(node)})
	}
	l.expr(left)
	return value{}
}

func callArguments(call *sitter.Node) []*sitter.Node {
	list := call.ChildByFieldName("arguments")
	if list == nil {
		return nil
	}
	var args []*sitter.Node
	for i := 0; i < int(list.NamedChildCount()); i++ {
		if arg := list.NamedChild(i); arg.Type() != "comment" {
			args = append(args, arg)
		}
	}
	return args
}

// call 降低函数调用
func (l *lowerer) call(node *sitter.Node) value {
	args := callArguments(node)
	fnNode := node.ChildByFieldName("function")
	name := ""
	if fnNode != nil && fnNode.Type() == "identifier" {
		name = l.text(fnNode)
	}
	pos := l.pos(node)
	f := l.facts

	switch {
	case name == "":
		// 间接调用
		l.expr(fnNode)
		for _, arg := range args {
			l.argument(arg, true)
		}
		return value{}

	case f.incref[name], f.release[name], f.clear[name]:
		if len(args) == 0 {
			return value{}
		}
		v := l.varOf(args[0])
		if v == "" {
			// Py_INCREF(Py_None) 之后返回 Py_None 是合法的所有权转移
			if single := unwrap(args[0]); f.incref[name] && single != nil && single.Type() == "identifier" && f.IsSingleton(l.text(single)) {
				l.emit(Event{Op: OpAcquire, Var: l.text(single), Source: name, Call: true, Singleton: true, Pos: pos})
				return value{}
			}
			l.expr(args[0])
			return value{}
		}
		op := OpDecref
		switch {
		case f.incref[name]:
			op = OpIncref
		case f.clear[name]:
			op = OpClear
		}
		l.emit(Event{Op: op, Var: v, Source: name, Call: true, Pos: pos})
		return value{}

	case f.setref[name]:
		if len(args) != 2 {
			break
		}
		rv := l.expr(args[1])
		if v := l.varOf(args[0]); v != "" {
			l.emit(Event{Op: OpDecref, Var: v, Source: name, Call: true, Pos: pos})
			l.bind(v, rv, node)
		} else if rv.kind == valVar {
			l.emit(Event{Op: OpEscape, Var: rv.name, Pos: pos})
		}
		return value{}
	}

	if idx, ok := f.steals[name]; ok {
		l.stealingCall(args, idx, name, OpSteal, pos)
	} else if idx, ok := f.conditionalSteals[name]; ok {
		l.stealingCall(args, idx, name, OpStealOnSuccess, pos)
	} else if api, ok := pyarg.LookupAPI(name); ok {
		l.parseArgsCall(api, args, pos)
	} else {
		escape := !f.IsAPI(name) || l.buildValueSteals(name, args)
		for _, arg := range args {
			l.argument(arg, escape)
		}
	}

	switch {
	case f.IsNewReference(name):
		return value{kind: valNew, name: name, call: true}
	case f.IsBorrowedReference(name):
		return value{kind: valBorrowed, name: name, call: true}
	}
	return value{}
}

// argument 降低一个实参；escape 为 true 时被跟踪的变量实参逃逸
func (l *lowerer) argument(arg *sitter.Node, escape bool) {
	if v := l.addressOf(arg); v != "" {
		l.emit(Event{Op: OpEscape, Var: v, Pos: l.pos(arg)})
		return
	}
	if rv := l.expr(arg); rv.kind == valVar && escape {
		l.emit(Event{Op: OpEscape, Var: rv.name, Pos: l.pos(arg)})
	}
}

func (l *lowerer) stealingCall(args []*sitter.Node, idx int, name string, op Op, pos core.Pos) {
	for i, arg := range args {
		if i == idx {
			if v := l.varOf(arg); v != "" {
				l.emit(Event{Op: op, Var: v, Source: name, Call: true, Pos: pos})
				continue
			}
		}
		l.argument(arg, false)
	}
}

// buildValueSteals Py_BuildValue 系列的格式串含 "N" 时会窃取实参的引用
func (l *lowerer) buildValueSteals(name string, args []*sitter.Node) bool {
	idx, ok := l.facts.buildValue[name]
	if !ok {
		return false
	}
	if idx >= len(args) {
		return false
	}
	format, _, ok := core.StringLiteral(l.ctx.Unit, args[idx])
	return !ok || strings.Contains(format, "N")
}

// parseArgsCall PyArg_ParseTuple 系列：对象格式码输出借用引用，其他输出参数逃逸
func (l *lowerer) parseArgsCall(api pyarg.API, args []*sitter.Node, pos core.Pos) {
	borrowedAt := make(map[int]bool)
	if api.FormatArg <= len(args) {
		if format, _, ok := core.StringLiteral(l.ctx.Unit, args[api.FormatArg-1]); ok {
			if spec, err := pyarg.Compile(format); err == nil {
				slot := api.FirstVararg - 1
				for _, code := range spec.Codes {
					for j := range code.Types {
						if objectOutput(code.Unit, j) {
							borrowedAt[slot] = true
						}
						slot++
					}
				}
			}
		}
	}
	for i, arg := range args {
		if v := l.addressOf(arg); v != "" && borrowedAt[i] {
			l.emit(Event{Op: OpBorrow, Var: v, Source: api.Name, Call: true, Pos: pos})
			continue
		}
		l.argument(arg, false)
	}
}

// objectOutput 格式码的第 slot 个槽位是否输出借用的对象引用
func objectOutput(unit string, slot int) bool {
	switch unit {
	case "O", "S", "U", "Y":
		return slot == 0
	case "O!":
		return slot == 1
	}
	return false
}

// isNull 表达式是否是空指针常量
func (l *lowerer) isNull(node *sitter.Node) bool {
	node = unwrap(node)
	if node == nil {
		return false
	}
	switch node.Type() {
	case "null":
		return true
	case "identifier":
		return l.text(node) == "NULL"
	case "number_literal":
		return l.text(node) == "0"
	}
	return false
}

// testedVar 条件中被测试的变量：v、(v = ...)
func (l *lowerer) testedVar(node *sitter.Node) string {
	node = unwrap(node)
	if node == nil {
		return ""
	}
	if node.Type() == "assignment_expression" {
		return l.varOf(node.ChildByFieldName("left"))
	}
	return l.varOf(node)
}

// nullTests 计算条件为真、为假时分别为 NULL 的变量
func (l *lowerer) nullTests(cond *sitter.Node) (onTrue, onFalse []string) {
	cond = unwrap(cond)
	if cond == nil {
		return nil, nil
	}
	switch cond.Type() {
	case "identifier", "assignment_expression":
		if v := l.testedVar(cond); v != "" {
			return nil, []string{v}
		}
	case "unary_expression":
		if op := cond.ChildByFieldName("operator"); op != nil && l.text(op) == "!" {
			t, f := l.nullTests(cond.ChildByFieldName("argument"))
			return f, t
		}
	case "binary_expression":
		left, right := cond.ChildByFieldName("left"), cond.ChildByFieldName("right")
		op := cond.ChildByFieldName("operator")
		if op == nil {
			return nil, nil
		}
		switch l.text(op) {
		case "==", "!=":
			v := ""
			if l.isNull(right) {
				v = l.testedVar(left)
			} else if l.isNull(left) {
				v = l.testedVar(right)
			}
			if v == "" {
				return nil, nil
			}
			if l.text(op) == "==" {
				return []string{v}, nil
			}
			return nil, []string{v}
		case "&&":
			lt, _ := l.nullTests(left)
			rt, _ := l.nullTests(right)
			return append(lt, rt...), nil
		case "||":
			_, lf := l.nullTests(left)
			_, rf := l.nullTests(right)
			return nil, append(lf, rf...)
		}
	}
	return nil, nil
}
