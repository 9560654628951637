package pyarg

import (
	"fmt"
	"strings"

	"cpycheck/internal/ctype"
)

// Argument 调用点的一个实参
type Argument struct {
	Text string
	Type ctype.Type
}

// CallSite 一次参数解析调用
type CallSite struct {
	API    string
	Format FormatSpec
	// FormatText 源码中格式串的原文（保留转义），为空时使用 Format.Raw
	FormatText string
	// Args 格式串之后的目标实参
	Args []Argument
	// FirstArg 第一个目标实参在整个调用中的位置（从 1 开始）
	FirstArg int
}

func (s CallSite) formatText() string {
	if s.FormatText != "" {
		return s.FormatText
	}
	return s.Format.Raw
}

// ArgumentBinding 实参与格式槽位的对应关系
type ArgumentBinding struct {
	Index    int
	Code     string
	Expected ctype.Type
	Arg      Argument
}

// MismatchKind 绑定失败的类别
type MismatchKind int

const (
	NotEnoughArguments MismatchKind = iota
	TooManyArguments
	TypeMismatch
)

// Mismatch 一次绑定失败
type Mismatch struct {
	Kind   MismatchKind
	API    string
	Format string

	// 数量不匹配时使用
	Expected int
	Got      int
	Slots    []ctype.Type

	// 类型不匹配时使用
	Binding      ArgumentBinding
	ActualBits   int
	ExpectedBits int
}

// Message 按 GCC 诊断的原文格式化
func (m Mismatch) Message() string {
	switch m.Kind {
	case NotEnoughArguments, TooManyArguments:
		prefix := "Not enough"
		if m.Kind == TooManyArguments {
			prefix = "Too many"
		}
		types := make([]string, len(m.Slots))
		for i, t := range m.Slots {
			types[i] = t.String()
		}
		return fmt.Sprintf("%s arguments in call to %s with format string \"%s\" : expected %d extra arguments (%s), but got %d",
			prefix, m.API, m.Format, m.Expected, strings.Join(types, ", "), m.Got)
	default:
		b := m.Binding
		var sb strings.Builder
		fmt.Fprintf(&sb, "Mismatching type in call to %s with format string \"%s\": argument %d (\"%s\") had type \"%s\" ",
			m.API, m.Format, b.Index, b.Arg.Text, b.Arg.Type)
		if m.ActualBits > 0 && m.ExpectedBits > 0 {
			fmt.Fprintf(&sb, "(pointing to %d bits) ", m.ActualBits)
		}
		fmt.Fprintf(&sb, "but was expecting \"%s\" ", b.Expected)
		if m.ActualBits > 0 && m.ExpectedBits > 0 {
			fmt.Fprintf(&sb, "(pointing to %d bits) ", m.ExpectedBits)
		}
		fmt.Fprintf(&sb, "for format code \"%s\"", b.Code)
		return sb.String()
	}
}

// Binder 在给定数据模型下检查调用点
type Binder struct {
	Model ctype.DataModel
}

// NewBinder 创建绑定器
func NewBinder(model ctype.DataModel) *Binder {
	return &Binder{Model: model}
}

// Bind 使用 LP64 数据模型检查调用点
func Bind(site CallSite) []Mismatch {
	return NewBinder(ctype.LP64).Bind(site)
}

// Bind 检查实参数量与每个实参的类型；数量不符时报告一次，已有实参仍逐个检查类型
func (b *Binder) Bind(site CallSite) []Mismatch {
	slots := site.Format.Slots()
	required := site.Format.Required()
	base := Mismatch{API: site.API, Format: site.formatText(), Slots: slots, Got: len(site.Args)}

	var out []Mismatch
	switch {
	case len(site.Args) < required:
		m := base
		m.Kind = NotEnoughArguments
		m.Expected = required
		out = append(out, m)
	case len(site.Args) > len(slots):
		m := base
		m.Kind = TooManyArguments
		m.Expected = len(slots)
		out = append(out, m)
	}

	for _, binding := range b.bindings(site) {
		if b.Model.Compatible(binding.Arg.Type, binding.Expected) {
			continue
		}
		m := Mismatch{
			Kind:    TypeMismatch,
			API:     site.API,
			Format:  site.formatText(),
			Binding: binding,
		}
		m.ActualBits = b.Model.PointeeBits(binding.Arg.Type)
		m.ExpectedBits = b.Model.PointeeBits(binding.Expected)
		out = append(out, m)
	}
	return out
}

// bindings 把实参按顺序对应到槽位，只绑定前 min(实参数, 槽位数) 个位置
func (b *Binder) bindings(site CallSite) []ArgumentBinding {
	var out []ArgumentBinding
	pos := 0
	for _, code := range site.Format.Codes {
		for _, expected := range code.Types {
			if pos >= len(site.Args) {
				return out
			}
			out = append(out, ArgumentBinding{
				Index:    site.FirstArg + pos,
				Code:     code.Unit,
				Expected: expected,
				Arg:      site.Args[pos],
			})
			pos++
		}
	}
	return out
}
