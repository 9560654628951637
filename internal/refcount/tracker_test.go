package refcount

import (
	"errors"
	"testing"

	"cpycheck/internal/core"
)

func at(line int) core.Pos {
	return core.Pos{Line: line, Column: 5}
}

func TestAnalyzeGraph(t *testing.T) {
	for _, testCase := range []struct {
		name  string
		graph *Graph
		want  []IssueKind
	}{
		{
			name: "acquire then release",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)},
				{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(2)},
				{Op: OpReturn, Pos: at(3)},
			}}}},
		},
		{
			name: "acquire and return",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)},
				{Op: OpReturn, Var: "x", Return: ReturnVar, Pos: at(2)},
			}}}},
		},
		{
			name: "leak at exit",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)},
				{Op: OpReturn, Pos: at(2)},
			}}}},
			want: []IssueKind{IssueLeak},
		},
		{
			name: "double release",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)},
				{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(2)},
				{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(3)},
			}}}},
			want: []IssueKind{IssueInvalidRelease},
		},
		{
			name: "release borrowed",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpBorrow, Var: "x", Source: "Py_None", Pos: at(1)},
				{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(2)},
			}}}},
			want: []IssueKind{IssueInvalidRelease},
		},
		{
			name: "incref borrowed then release",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpBorrow, Var: "x", Source: "Py_None", Pos: at(1)},
				{Op: OpIncref, Var: "x", Source: "Py_INCREF", Call: true, Pos: at(2)},
				{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(3)},
			}}}},
		},
		{
			name: "escape stops tracking",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)},
				{Op: OpEscape, Var: "x", Pos: at(2)},
			}}}},
		},
		{
			name: "disagreeing join is unknown",
			graph: &Graph{Blocks: []Block{
				{Events: []Event{{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)}},
					Succs: []Succ{{To: 1, Kind: core.EdgeTrue}, {To: 2, Kind: core.EdgeFalse}}},
				{Events: []Event{{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(2)}},
					Succs: []Succ{{To: 2}}},
				{Events: []Event{{Op: OpReturn, Pos: at(3)}}},
			}},
		},
		{
			name: "null refinement",
			graph: &Graph{Blocks: []Block{
				{Events: []Event{{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)}},
					Succs: []Succ{{To: 1, Kind: core.EdgeTrue, Null: []string{"x"}}, {To: 2, Kind: core.EdgeFalse}}},
				{Events: []Event{{Op: OpReturn, Pos: at(2)}}},
				{Events: []Event{{Op: OpReturn, Var: "x", Return: ReturnVar, Pos: at(3)}}},
			}},
		},
		{
			name: "leak reported once per exit",
			graph: &Graph{Blocks: []Block{
				{Events: []Event{{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: at(1)}},
					Succs: []Succ{{To: 1}, {To: 2}}},
				{Succs: []Succ{{To: 3}}},
				{Succs: []Succ{{To: 3}}},
				{Events: []Event{{Op: OpReturn, Pos: at(4)}}},
			}},
			want: []IssueKind{IssueLeak},
		},
		{
			name: "loop converges",
			graph: &Graph{Blocks: []Block{
				{Succs: []Succ{{To: 1}}},
				{Events: []Event{{Op: OpAcquire, Var: "x", Source: "PyIter_Next", Call: true, Pos: at(2)}},
					Succs: []Succ{{To: 2, Kind: core.EdgeTrue}, {To: 3, Kind: core.EdgeFalse, Null: []string{"x"}}}},
				{Events: []Event{{Op: OpDecref, Var: "x", Source: "Py_DECREF", Call: true, Pos: at(3)}},
					Succs: []Succ{{To: 1}}},
				{Events: []Event{{Op: OpReturn, Pos: at(4)}}},
			}},
		},
		{
			name: "borrowed return",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpReturn, Var: "Py_None", Source: "Py_None", Return: ReturnBorrowedValue, Pos: at(1)},
			}}}},
			want: []IssueKind{IssueBorrowedReturn},
		},
		{
			name: "incref singleton then return",
			graph: &Graph{Blocks: []Block{{Events: []Event{
				{Op: OpAcquire, Var: "Py_None", Source: "Py_INCREF", Call: true, Singleton: true, Pos: at(1)},
				{Op: OpReturn, Var: "Py_None", Source: "Py_None", Return: ReturnBorrowedValue, Pos: at(2)},
			}}}},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			issues, err := Analyze(testCase.graph, Options{BorrowedReturn: true})
			if err != nil {
				t.Fatal(err)
			}
			if len(issues) != len(testCase.want) {
				t.Fatalf("got %d issues %+v, want %v", len(issues), issues, testCase.want)
			}
			for i, kind := range testCase.want {
				if issues[i].Kind != kind {
					t.Errorf("issue %d kind = %v, want %v", i, issues[i].Kind, kind)
				}
			}
		})
	}
}

func TestAnalyzeMessages(t *testing.T) {
	g := &Graph{Blocks: []Block{{Events: []Event{
		{Op: OpAcquire, Var: "x", Source: "PyList_New", Call: true, Pos: core.Pos{Line: 4, Column: 15}},
		{Op: OpBorrow, Var: "y", Source: "PyTuple_GetItem", Call: true, Pos: core.Pos{Line: 5, Column: 15}},
		{Op: OpDecref, Var: "y", Source: "Py_DECREF", Call: true, Pos: core.Pos{Line: 6, Column: 5}},
		{Op: OpReturn, Pos: core.Pos{Line: 7, Column: 5}},
	}}}}
	issues, err := Analyze(g, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"invalid release: Py_DECREF() on 'y' which is borrowed from PyTuple_GetItem()",
		"ownership of reference in 'x' (new reference from PyList_New() at line 4) leaked on this path",
	}
	if len(issues) != len(want) {
		t.Fatalf("got %+v", issues)
	}
	for i, w := range want {
		if issues[i].Message != w {
			t.Errorf("issue %d:\n got %s\nwant %s", i, issues[i].Message, w)
		}
	}
	if issues[1].Pos.Line != 7 || issues[1].Kind.Category() != core.LeakedReference {
		t.Errorf("leak issue = %+v", issues[1])
	}
}

func TestAnalyzeNoConvergence(t *testing.T) {
	g := &Graph{Function: "spin", Blocks: []Block{
		{Succs: []Succ{{To: 1}}},
		{Succs: []Succ{{To: 0}}},
	}}
	_, err := Analyze(g, Options{MaxIterations: 1})
	if !errors.Is(err, ErrNoConvergence) {
		t.Errorf("got %v, want ErrNoConvergence", err)
	}
}

func TestAnalyzeMalformed(t *testing.T) {
	g := &Graph{Blocks: []Block{{Succs: []Succ{{To: 7}}}}}
	if _, err := Analyze(g, Options{}); !errors.Is(err, core.ErrMalformedCFG) {
		t.Errorf("got %v, want ErrMalformedCFG", err)
	}
}

func TestMeet(t *testing.T) {
	a := env{"x": {State: Owned, Origin: "f()", Line: 3}, "y": {State: Borrowed}}
	b := env{"x": {State: Owned, Origin: "g()", Line: 2}, "y": {State: Owned}}
	got := meet(a, b)
	if len(got) != 1 || got["x"].Origin != "g()" {
		t.Errorf("meet = %+v", got)
	}
	if got := meet(a, env{}); len(got) != 0 {
		t.Errorf("meet with empty = %+v", got)
	}
}
