package refcount

import (
	"errors"
	"fmt"
	"sort"

	"cpycheck/internal/core"
)

// ErrNoConvergence 不动点迭代超过上限
var ErrNoConvergence = errors.New("ownership analysis did not converge")

// defaultMaxIterations 不动点迭代次数上限
const defaultMaxIterations = 10000

// IssueKind 所有权问题类别
type IssueKind int

const (
	IssueLeak IssueKind = iota
	IssueInvalidRelease
	IssueBorrowedReturn
)

// Category 对应的诊断类别
func (k IssueKind) Category() core.Category {
	switch k {
	case IssueInvalidRelease:
		return core.InvalidRelease
	case IssueBorrowedReturn:
		return core.BorrowedReturn
	default:
		return core.LeakedReference
	}
}

// Issue 一条所有权问题
type Issue struct {
	Kind    IssueKind
	Var     string
	Pos     core.Pos
	Message string
}

// Options 跟踪选项
type Options struct {
	// BorrowedReturn 报告未增加引用计数就返回借用引用
	BorrowedReturn bool
	MaxIterations  int
}

// tracker 一次分析的状态
type tracker struct {
	g      *Graph
	opts   Options
	issues []Issue
	seen   map[issueKey]bool
}

type issueKey struct {
	kind IssueKind
	v    string
	pos  core.Pos
}

// Analyze 在降低后的图上做前向数据流分析：先迭代到不动点，再单独遍历一次报告问题
func Analyze(g *Graph, opts Options) ([]Issue, error) {
	if err := validate(g); err != nil {
		return nil, err
	}
	if len(g.Blocks) == 0 {
		return nil, nil
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}

	t := &tracker{g: g, opts: opts, seen: make(map[issueKey]bool)}
	in := make([]env, len(g.Blocks))
	in[g.Entry] = env{}

	queued := make([]bool, len(g.Blocks))
	worklist := []int{g.Entry}
	queued[g.Entry] = true
	iterations := 0

	for len(worklist) > 0 {
		iterations++
		if iterations > opts.MaxIterations {
			return nil, fmt.Errorf("function %s: %w after %d iterations", g.Function, ErrNoConvergence, opts.MaxIterations)
		}
		b := worklist[0]
		worklist = worklist[1:]
		queued[b] = false

		out := t.transfer(b, in[b].clone(), false)
		for _, s := range g.Blocks[b].Succs {
			next := refine(out, s.Null)
			if in[s.To] != nil {
				next = meet(in[s.To], next)
				if next.equal(in[s.To]) {
					continue
				}
			}
			in[s.To] = next
			if !queued[s.To] {
				queued[s.To] = true
				worklist = append(worklist, s.To)
			}
		}
	}

	for b := range g.Blocks {
		if in[b] != nil {
			t.transfer(b, in[b].clone(), true)
		}
	}

	sort.SliceStable(t.issues, func(i, j int) bool {
		a, b := t.issues[i], t.issues[j]
		if a.Pos.Line != b.Pos.Line {
			return a.Pos.Line < b.Pos.Line
		}
		if a.Pos.Column != b.Pos.Column {
			return a.Pos.Column < b.Pos.Column
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Var < b.Var
	})
	return t.issues, nil
}

// validate 检查图结构
func validate(g *Graph) error {
	if g == nil {
		return fmt.Errorf("nil graph: %w", core.ErrMalformedCFG)
	}
	if len(g.Blocks) == 0 {
		return nil
	}
	if g.Entry < 0 || g.Entry >= len(g.Blocks) {
		return fmt.Errorf("function %s: entry %d out of range: %w", g.Function, g.Entry, core.ErrMalformedCFG)
	}
	for i, b := range g.Blocks {
		for _, s := range b.Succs {
			if s.To < 0 || s.To >= len(g.Blocks) {
				return fmt.Errorf("function %s: block %d has successor %d out of range: %w", g.Function, i, s.To, core.ErrMalformedCFG)
			}
		}
	}
	return nil
}

// refine 沿边应用 NULL 条件：为 NULL 的变量不持有引用
func refine(e env, null []string) env {
	if len(null) == 0 {
		return e
	}
	out := e.clone()
	for _, v := range null {
		delete(out, v)
	}
	return out
}

func (t *tracker) report(kind IssueKind, v string, pos core.Pos, msg string) {
	key := issueKey{kind: kind, v: v, pos: pos}
	if t.seen[key] {
		return
	}
	t.seen[key] = true
	t.issues = append(t.issues, Issue{Kind: kind, Var: v, Pos: pos, Message: msg})
}

func leakMessage(v string, val Value) string {
	return fmt.Sprintf("ownership of reference in '%s' (new reference from %s at line %d) leaked on this path", v, val.Origin, val.Line)
}

// overwrite 覆盖仍然持有的引用即泄漏
func (t *tracker) overwrite(e env, ev Event, reporting bool) {
	if cur := e.get(ev.Var); reporting && cur.State == Owned && !cur.Singleton {
		t.report(IssueLeak, ev.Var, ev.Pos, leakMessage(ev.Var, cur))
	}
}

// transfer 依次应用块内事件；reporting 为 true 时记录问题并在出口块检查泄漏
func (t *tracker) transfer(b int, e env, reporting bool) env {
	block := t.g.Blocks[b]
	var ret *Event

	for i := range block.Events {
		ev := block.Events[i]
		switch ev.Op {
		case OpAcquire:
			t.overwrite(e, ev, reporting)
			e.set(ev.Var, Value{State: Owned, Origin: ev.origin(), Line: ev.Pos.Line, Singleton: ev.Singleton})
		case OpBorrow:
			t.overwrite(e, ev, reporting)
			e.set(ev.Var, Value{State: Borrowed, Origin: ev.origin(), Line: ev.Pos.Line})
		case OpForget:
			t.overwrite(e, ev, reporting)
			e.set(ev.Var, Value{})
		case OpIncref:
			switch cur := e.get(ev.Var); cur.State {
			case Borrowed:
				e.set(ev.Var, Value{State: Owned, Origin: ev.origin(), Line: ev.Pos.Line})
			case Owned, Released:
				// 引用计数不再精确
				e.set(ev.Var, Value{})
			}
		case OpDecref, OpClear, OpSteal, OpStealOnSuccess:
			t.release(e, ev, reporting)
		case OpEscape:
			e.set(ev.Var, Value{})
		case OpReturn:
			ret = &block.Events[i]
		}
	}

	if reporting && len(block.Succs) == 0 {
		t.checkExit(block, e, ret)
	}
	return e
}

// release 处理释放与窃取：释放借用或已释放的引用立即报告
func (t *tracker) release(e env, ev Event, reporting bool) {
	cur := e.get(ev.Var)
	switch cur.State {
	case Unknown:
		return
	case Borrowed:
		if reporting {
			t.report(IssueInvalidRelease, ev.Var, ev.Pos,
				fmt.Sprintf("invalid release: %s() on '%s' which is borrowed from %s", ev.Source, ev.Var, cur.Origin))
		}
	case Released:
		if reporting {
			t.report(IssueInvalidRelease, ev.Var, ev.Pos,
				fmt.Sprintf("invalid release: %s() on '%s' which is already released", ev.Source, ev.Var))
		}
	}

	switch ev.Op {
	case OpDecref, OpSteal:
		e.set(ev.Var, Value{State: Released, Origin: ev.origin(), Line: ev.Pos.Line})
	default:
		e.set(ev.Var, Value{})
	}
}

// checkExit 出口块：仍持有且未返回的引用是泄漏；返回借用引用按选项报告
func (t *tracker) checkExit(block Block, e env, ret *Event) {
	pos := block.ExitPos
	returned := ""
	if ret != nil {
		pos = ret.Pos
		switch ret.Return {
		case ReturnVar:
			returned = ret.Var
			if e.get(ret.Var).State == Borrowed && t.opts.BorrowedReturn {
				t.report(IssueBorrowedReturn, ret.Var, pos, "return of PyObject* without Py_INCREF()")
			}
		case ReturnBorrowedValue:
			if ret.Var != "" && e.get(ret.Var).State == Owned {
				returned = ret.Var
			} else if t.opts.BorrowedReturn {
				t.report(IssueBorrowedReturn, ret.Source, pos, "return of PyObject* without Py_INCREF()")
			}
		}
	}

	names := make([]string, 0, len(e))
	for v := range e {
		names = append(names, v)
	}
	sort.Strings(names)
	for _, v := range names {
		if val := e[v]; val.State == Owned && !val.Singleton && v != returned {
			t.report(IssueLeak, v, pos, leakMessage(v, val))
		}
	}
}
