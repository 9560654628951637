package ctype

import (
	"fmt"
	"strings"
)

// DataModel 目标平台的数据模型，决定各整数类型的位宽
type DataModel struct {
	Name       string
	Short      int
	Int        int
	Long       int
	LongLong   int
	Pointer    int
	LongDouble int
}

// 支持的数据模型
var (
	LP64  = DataModel{Name: "LP64", Short: 16, Int: 32, Long: 64, LongLong: 64, Pointer: 64, LongDouble: 128}
	LLP64 = DataModel{Name: "LLP64", Short: 16, Int: 32, Long: 32, LongLong: 64, Pointer: 64, LongDouble: 64}
	ILP32 = DataModel{Name: "ILP32", Short: 16, Int: 32, Long: 32, LongLong: 64, Pointer: 32, LongDouble: 96}
)

// ModelByName 按名称查找数据模型（大小写不敏感）
func ModelByName(name string) (DataModel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "LP64":
		return LP64, nil
	case "LLP64":
		return LLP64, nil
	case "ILP32":
		return ILP32, nil
	default:
		return DataModel{}, fmt.Errorf("unknown data model %q (want LP64, LLP64 or ILP32)", name)
	}
}

// typedefs Python 头文件与 C 标准库中常见的 typedef，值为规范拼写或宽度描述
var typedefs = map[string]string{
	"Py_ssize_t":   "@ssize",
	"Py_hash_t":    "@ssize",
	"ssize_t":      "@ssize",
	"intptr_t":     "@ssize",
	"ptrdiff_t":    "@ssize",
	"size_t":       "@usize",
	"uintptr_t":    "@usize",
	"int8_t":       "signed char",
	"uint8_t":      "unsigned char",
	"int16_t":      "short int",
	"uint16_t":     "short unsigned int",
	"int32_t":      "int",
	"uint32_t":     "unsigned int",
	"int64_t":      "@i64",
	"uint64_t":     "@u64",
	"PY_LONG_LONG": "long long int",
	"wchar_t":      "int",
	"Py_UCS4":      "unsigned int",
	"Py_UCS2":      "short unsigned int",
	"Py_UCS1":      "unsigned char",
}

// structs Python C API 中按名称比较的不透明结构体类型
var structs = map[string]bool{
	"PyObject":        true,
	"PyTypeObject":    true,
	"PyVarObject":     true,
	"Py_buffer":       true,
	"Py_complex":      true,
	"PyListObject":    true,
	"PyTupleObject":   true,
	"PyDictObject":    true,
	"PyLongObject":    true,
	"PyBytesObject":   true,
	"PyUnicodeObject": true,
	"FILE":            true,
}

// IsPythonTypedef 名称是否是已知的 typedef
func IsPythonTypedef(name string) bool {
	_, ok := typedefs[name]
	return ok || structs[name]
}

// WidthOf 计算基础类型（不含指针层）的宽度类
func (m DataModel) WidthOf(t Type) Width {
	base := t.ResolvedBase()
	if base == "" {
		return Width{}
	}
	if alias, ok := typedefs[base]; ok {
		switch alias {
		case "@ssize":
			return Width{Kind: KindInteger, Bits: m.Pointer, Signed: true}
		case "@usize":
			return Width{Kind: KindInteger, Bits: m.Pointer}
		case "@i64":
			return Width{Kind: KindInteger, Bits: 64, Signed: true}
		case "@u64":
			return Width{Kind: KindInteger, Bits: 64}
		}
		base = alias
	}
	if structs[base] || strings.HasPrefix(base, "struct ") || strings.HasPrefix(base, "union ") {
		return Width{Kind: KindStruct, Name: base}
	}
	if strings.HasPrefix(base, "enum ") {
		return Width{Kind: KindInteger, Bits: m.Int}
	}

	switch base {
	case "void":
		return Width{Kind: KindVoid}
	case "char", "signed char":
		// GCC 在 x86 上 char 为有符号
		return Width{Kind: KindInteger, Bits: 8, Signed: true}
	case "unsigned char", "_Bool":
		return Width{Kind: KindInteger, Bits: 8}
	case "short int":
		return Width{Kind: KindInteger, Bits: m.Short, Signed: true}
	case "short unsigned int":
		return Width{Kind: KindInteger, Bits: m.Short}
	case "int":
		return Width{Kind: KindInteger, Bits: m.Int, Signed: true}
	case "unsigned int":
		return Width{Kind: KindInteger, Bits: m.Int}
	case "long int":
		return Width{Kind: KindInteger, Bits: m.Long, Signed: true}
	case "long unsigned int":
		return Width{Kind: KindInteger, Bits: m.Long}
	case "long long int":
		return Width{Kind: KindInteger, Bits: m.LongLong, Signed: true}
	case "long long unsigned int":
		return Width{Kind: KindInteger, Bits: m.LongLong}
	case "float":
		return Width{Kind: KindFloat, Bits: 32, Signed: true}
	case "double":
		return Width{Kind: KindFloat, Bits: 64, Signed: true}
	case "long double":
		return Width{Kind: KindFloat, Bits: m.LongDouble, Signed: true}
	}
	return Width{}
}

// PointeeBits 返回指针所指对象的位宽；所指对象不是算术类型时返回 0
func (m DataModel) PointeeBits(t Type) int {
	if t.Pointers != 1 {
		return 0
	}
	w := m.WidthOf(t)
	if w.Kind != KindInteger && w.Kind != KindFloat {
		return 0
	}
	return w.Bits
}

// Compatible 判断实际类型能否满足期望类型：指针层数必须一致，基础类型宽度类必须相同，
// const 限定忽略。未知类型总是兼容。
func (m DataModel) Compatible(actual, expected Type) bool {
	if expected.Any || actual.Any || actual.Base == "" || expected.Base == "" {
		return true
	}
	aw := m.WidthOf(actual)
	ew := m.WidthOf(expected)
	if !aw.Known() && actual.ResolvedBase() != "void" {
		// 无法解析的 typedef 可能隐藏指针层，不做判断
		return true
	}
	if actual.Pointers != expected.Pointers {
		return false
	}
	if aw.Kind == KindVoid || ew.Kind == KindVoid {
		return aw.Kind == ew.Kind
	}
	if aw.Kind == KindStruct || ew.Kind == KindStruct {
		return aw.Kind == ew.Kind && aw.Name == ew.Name
	}
	return aw == ew
}
