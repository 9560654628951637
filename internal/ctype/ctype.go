// Package ctype 描述 C 类型的拼写与宽度，按照 GCC 的规范写法输出类型名。
package ctype

import (
	"strings"
)

// Kind 基础类型的宽度类别
type Kind int

const (
	KindUnknown Kind = iota
	KindVoid
	KindInteger
	KindFloat
	KindStruct
	KindPointer
)

// String 返回类别名称
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindStruct:
		return "struct"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// Width 宽度类：两个类型当且仅当宽度类相同时才视为兼容
type Width struct {
	Kind   Kind
	Bits   int
	Signed bool
	// Name 仅对 KindStruct 有意义，结构体按名称比较
	Name string
}

// Known 宽度是否已知
func (w Width) Known() bool {
	return w.Kind != KindUnknown
}

// Type 描述一个 C 类型：基础类型拼写加指针层数
type Type struct {
	// Base 基础类型的 GCC 规范拼写，例如 "long unsigned int"；为空表示类型未知
	Base string
	// Resolved typedef 展开后的规范拼写，用于宽度查询；为空时使用 Base
	Resolved string
	Pointers int
	Const    bool
	// Any 表示任意类型都可以匹配（例如 O& 的转换函数实参）
	Any bool
}

// Unknown 未知类型
var Unknown = Type{}

// Named 创建给定拼写的非指针类型
func Named(base string) Type {
	return Type{Base: base}
}

// PointerTo 创建指向 t 的指针
func PointerTo(t Type) Type {
	if t.Base == "" {
		return t
	}
	t.Pointers++
	return t
}

// Deref 去掉一层指针；对非指针返回未知类型
func (t Type) Deref() Type {
	if t.Base == "" || t.Pointers == 0 {
		return Unknown
	}
	t.Pointers--
	return t
}

// IsUnknown 类型是否未知
func (t Type) IsUnknown() bool {
	return t.Base == "" && !t.Any
}

// WithConst 返回带 const 限定的副本
func (t Type) WithConst() Type {
	t.Const = true
	return t
}

// String 按 GCC 诊断的写法输出类型，例如 "char * *"
func (t Type) String() string {
	if t.Base == "" {
		return "<unknown>"
	}
	var sb strings.Builder
	if t.Const {
		sb.WriteString("const ")
	}
	sb.WriteString(t.Base)
	for i := 0; i < t.Pointers; i++ {
		sb.WriteString(" *")
	}
	return sb.String()
}

// ResolvedBase 返回用于宽度查询的基础类型拼写（typedef 已展开）
func (t Type) ResolvedBase() string {
	if t.Resolved != "" {
		return t.Resolved
	}
	return t.Base
}

// Canonical 将类型说明符单词序列规范化为 GCC 拼写
// 例如 ["unsigned","long"] -> "long unsigned int"，["short"] -> "short int"
func Canonical(words []string) string {
	var (
		unsigned, signed bool
		shorts, longs    int
		base             string
	)
	for _, w := range words {
		switch w {
		case "unsigned":
			unsigned = true
		case "signed":
			signed = true
		case "short":
			shorts++
		case "long":
			longs++
		case "int", "char", "float", "double", "void", "_Bool", "bool":
			base = w
		case "const", "volatile", "restrict", "register", "static", "extern", "inline":
		default:
			if base == "" {
				base = w
			}
		}
	}

	switch {
	case base == "char":
		if unsigned {
			return "unsigned char"
		}
		if signed {
			return "signed char"
		}
		return "char"
	case base == "void", base == "float":
		return base
	case base == "_Bool", base == "bool":
		return "_Bool"
	case base == "double":
		if longs > 0 {
			return "long double"
		}
		return "double"
	case shorts > 0:
		if unsigned {
			return "short unsigned int"
		}
		return "short int"
	case longs >= 2:
		if unsigned {
			return "long long unsigned int"
		}
		return "long long int"
	case longs == 1:
		if unsigned {
			return "long unsigned int"
		}
		return "long int"
	case base == "int" || base == "" && (unsigned || signed):
		if unsigned {
			return "unsigned int"
		}
		return "int"
	}
	return base
}
