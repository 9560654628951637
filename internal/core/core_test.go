package core

import (
	"context"
	"errors"
	"testing"
)

// parseUnit 解析内存中的 C 源码并建立分析上下文
func parseUnit(t *testing.T, src string) *AnalysisContext {
	t.Helper()
	unit, err := ParseSource(context.Background(), "test.c", []byte(src))
	if err != nil {
		t.Fatalf("ParseSource failed: %v", err)
	}
	return NewAnalysisContext(unit, Options{})
}

// findFunction 按名称查找函数定义
func findFunction(t *testing.T, ctx *AnalysisContext, name string) *Function {
	t.Helper()
	for _, fn := range ctx.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %s not found", name)
	return nil
}

func TestParseSourceCancellation(t *testing.T) {
	src := []byte("int f(void) { return 0; }\n")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ParseSource(cancelled, "test.c", src); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context: got %v, want context.Canceled", err)
	}

	// 解析结束后才取消 context，池中的 Parser 仍必须可用
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		if _, err := ParseSource(ctx, "test.c", src); err != nil {
			cancel()
			t.Fatalf("run %d: %v", i, err)
		}
		cancel()
		unit, err := ParseSource(context.Background(), "test.c", src)
		if err != nil {
			t.Fatalf("run %d after cancel: %v", i, err)
		}
		if unit.Root.HasError() {
			t.Fatalf("run %d: unexpected syntax error", i)
		}
	}
}
