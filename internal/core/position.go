package core

import (
	"unicode/utf8"

	"fortio.org/safecast"
	"github.com/mattn/go-runewidth"
	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/ctype"
)

// ColumnUnit 列号的计算方式
type ColumnUnit int

const (
	// ColumnByte 按字节计算列号（GCC 默认）
	ColumnByte ColumnUnit = iota
	// ColumnDisplay 按显示宽度计算列号，制表符对齐到 8 列
	ColumnDisplay
)

// tabStop GCC 的默认制表位
const tabStop = 8

// Options 分析选项
type Options struct {
	Model       ctype.DataModel
	SsizeTClean bool
	ColumnUnit  ColumnUnit
}

func (o Options) withDefaults() Options {
	if o.Model.Name == "" {
		o.Model = ctype.LP64
	}
	return o
}

// Pos 源码位置，行列均从 1 开始
type Pos struct {
	Line   int
	Column int
}

// Position 计算节点起点的行列
func (u *ParsedUnit) Position(node *sitter.Node, unit ColumnUnit) Pos {
	pt := node.StartPoint()
	line, err := safecast.Conv[int](pt.Row)
	if err != nil {
		return Pos{}
	}
	col, err := safecast.Conv[int](pt.Column)
	if err != nil {
		return Pos{}
	}
	if unit == ColumnDisplay {
		start, err := safecast.Conv[int](node.StartByte())
		if err == nil && start >= col && start <= len(u.Source) {
			col = displayWidth(u.Source[start-col : start])
		}
	}
	return Pos{Line: line + 1, Column: col + 1}
}

// Position 计算节点在当前文件中的位置
func (ctx *AnalysisContext) Position(node *sitter.Node) Pos {
	return ctx.Unit.Position(node, ctx.Options.ColumnUnit)
}

// displayWidth 计算一行前缀的显示宽度
func displayWidth(prefix []byte) int {
	width := 0
	for len(prefix) > 0 {
		r, size := utf8.DecodeRune(prefix)
		prefix = prefix[size:]
		if r == '\t' {
			width += tabStop - width%tabStop
			continue
		}
		width += runewidth.RuneWidth(r)
	}
	return width
}
