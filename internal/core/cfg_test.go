package core

import (
	"errors"
	"testing"
)

func TestBuildFunctionCFG(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		src    string
		blocks int
		edges  int
		exits  int
	}{
		{
			name:   "straight line",
			src:    "int f(void) { int x = 1; x++; return x; }",
			blocks: 1, edges: 0, exits: 1,
		},
		{
			name:   "if without else",
			src:    "int f(int a) { if (a) return 1; return 0; }",
			blocks: 3, edges: 2, exits: 2,
		},
		{
			name:   "unreachable after return",
			src:    "int f(void) { return 1; g(); }",
			blocks: 1, edges: 0, exits: 1,
		},
		{
			name:   "fall off end",
			src:    "void f(void) { g(); }",
			blocks: 1, edges: 0, exits: 1,
		},
		{
			name:   "goto error label",
			src:    "PyObject *f(void) { PyObject *x = PyList_New(0); if (!x) goto error; return x; error: return NULL; }",
			blocks: 4, edges: 3, exits: 2,
		},
		{
			name:   "switch with fall through",
			src:    "int f(int a) { int x = 0; switch (a) { case 1: x = 1; case 2: x = 2; break; default: x = 3; } return x; }",
			blocks: 5, edges: 6, exits: 1,
		},
		{
			name:   "return macro",
			src:    "PyObject *f(int a) { if (a) Py_RETURN_TRUE; Py_RETURN_NONE; }",
			blocks: 3, edges: 2, exits: 2,
		},
		{
			name:   "infinite loop",
			src:    "void f(void) { for (;;) { g(); } }",
			blocks: 4, edges: 4, exits: 0,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			ctx := parseUnit(t, testCase.src)
			cfg, err := BuildFunctionCFG(ctx.Unit, findFunction(t, ctx, "f"))
			if err != nil {
				t.Fatal(err)
			}
			if len(cfg.Blocks) != testCase.blocks {
				t.Errorf("blocks = %d, want %d", len(cfg.Blocks), testCase.blocks)
			}
			if len(cfg.Edges) != testCase.edges {
				t.Errorf("edges = %d, want %d", len(cfg.Edges), testCase.edges)
			}
			if len(cfg.Exits) != testCase.exits {
				t.Errorf("exits = %d, want %d", len(cfg.Exits), testCase.exits)
			}
			checkInvariants(t, cfg)
		})
	}
}

// checkInvariants 每个块都从入口可达，前驱后继与边表一致
func checkInvariants(t *testing.T, cfg *CFG) {
	t.Helper()
	seen := make(map[BlockID]bool)
	worklist := []BlockID{cfg.Entry}
	seen[cfg.Entry] = true
	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]
		for _, s := range cfg.Block(id).Succs {
			if !seen[s] {
				seen[s] = true
				worklist = append(worklist, s)
			}
		}
	}
	if len(seen) != len(cfg.Blocks) {
		t.Errorf("%d of %d blocks reachable", len(seen), len(cfg.Blocks))
	}
	succs, preds := 0, 0
	for i, blk := range cfg.Blocks {
		if blk.ID != BlockID(i) {
			t.Errorf("block %d has ID %d", i, blk.ID)
		}
		if blk.Return != nil && len(blk.Succs) != 0 {
			t.Errorf("return block %d has successors", i)
		}
		succs += len(blk.Succs)
		preds += len(blk.Preds)
	}
	if succs != len(cfg.Edges) || preds != len(cfg.Edges) {
		t.Errorf("succs=%d preds=%d edges=%d", succs, preds, len(cfg.Edges))
	}
}

func TestCFGBranchEdges(t *testing.T) {
	ctx := parseUnit(t, "int f(int a) { int r; if (a > 0) { r = 1; } else { r = 2; } return r; }")
	cfg, err := BuildFunctionCFG(ctx.Unit, findFunction(t, ctx, "f"))
	if err != nil {
		t.Fatal(err)
	}
	entry := cfg.Block(cfg.Entry)
	if entry.Condition == nil || ctx.GetSourceText(entry.Condition) != "a > 0" {
		t.Fatalf("entry condition = %q", ctx.GetSourceText(entry.Condition))
	}
	kinds := make(map[EdgeKind]int)
	for _, e := range cfg.OutEdges(cfg.Entry) {
		kinds[e.Kind]++
	}
	if kinds[EdgeTrue] != 1 || kinds[EdgeFalse] != 1 {
		t.Errorf("entry out edges = %v", kinds)
	}
	if len(cfg.Exits) != 1 {
		t.Fatalf("exits = %v", cfg.Exits)
	}
	if len(cfg.Block(cfg.Exits[0]).Preds) != 2 {
		t.Errorf("merge block should have two predecessors")
	}
}

func TestCFGLoopBackEdge(t *testing.T) {
	ctx := parseUnit(t, `
int f(int n) {
	int i = 0;
	while (i < n) {
		if (i == 5)
			break;
		i++;
	}
	return i;
}`)
	cfg, err := BuildFunctionCFG(ctx.Unit, findFunction(t, ctx, "f"))
	if err != nil {
		t.Fatal(err)
	}
	back := false
	for _, e := range cfg.Edges {
		if e.To <= e.From {
			back = true
		}
	}
	if !back {
		t.Error("expected a back edge")
	}
	if len(cfg.Exits) != 1 {
		t.Errorf("exits = %v", cfg.Exits)
	}
	checkInvariants(t, cfg)
}

func TestCFGEndBrace(t *testing.T) {
	ctx := parseUnit(t, "void f(void)\n{\n    g();\n}\n")
	cfg, err := BuildFunctionCFG(ctx.Unit, findFunction(t, ctx, "f"))
	if err != nil {
		t.Fatal(err)
	}
	if pos := ctx.Position(cfg.End); pos.Line != 4 || pos.Column != 1 {
		t.Errorf("end position = %+v", pos)
	}
}

func TestCFGMalformed(t *testing.T) {
	if _, err := BuildFunctionCFG(nil, &Function{Name: "f"}); !errors.Is(err, ErrMalformedCFG) {
		t.Errorf("got %v, want ErrMalformedCFG", err)
	}
}
