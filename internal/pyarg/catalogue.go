package pyarg

import (
	"cpycheck/internal/ctype"
)

// Entry 格式码在类型目录中的条目
type Entry struct {
	Code string
	// Types 每个目标实参期望的类型（已包含目标地址的那一层指针）
	Types []ctype.Type
	// Length 是否追加一个长度槽（int * 或 Py_ssize_t *）
	Length bool
	// Converter O& 的转换函数槽位接受任意实参
	Converter bool
}

func ptr(base string, n int) ctype.Type {
	return ctype.Type{Base: base, Pointers: n}
}

func constPtr(base string, n int) ctype.Type {
	return ctype.Type{Base: base, Pointers: n, Const: true}
}

var (
	converterSlot = ctype.Type{Base: "int (*)(PyObject *, void *)", Any: true}
	anySlot       = ctype.Type{Base: "void", Pointers: 1, Any: true}
)

// catalogue 格式码到期望类型的封闭表
var catalogue = map[string]Entry{
	"b": {Types: []ctype.Type{ptr("unsigned char", 1)}},
	"B": {Types: []ctype.Type{ptr("unsigned char", 1)}},
	"h": {Types: []ctype.Type{ptr("short int", 1)}},
	"H": {Types: []ctype.Type{ptr("short unsigned int", 1)}},
	"i": {Types: []ctype.Type{ptr("int", 1)}},
	"I": {Types: []ctype.Type{ptr("unsigned int", 1)}},
	"l": {Types: []ctype.Type{ptr("long int", 1)}},
	"k": {Types: []ctype.Type{ptr("long unsigned int", 1)}},
	"L": {Types: []ctype.Type{ptr("long long int", 1)}},
	"K": {Types: []ctype.Type{ptr("long long unsigned int", 1)}},
	"n": {Types: []ctype.Type{ptr("Py_ssize_t", 1)}},
	"c": {Types: []ctype.Type{ptr("char", 1)}},
	"C": {Types: []ctype.Type{ptr("int", 1)}},
	"p": {Types: []ctype.Type{ptr("int", 1)}},
	"f": {Types: []ctype.Type{ptr("float", 1)}},
	"d": {Types: []ctype.Type{ptr("double", 1)}},
	"D": {Types: []ctype.Type{ptr("Py_complex", 1)}},

	"O":  {Types: []ctype.Type{ptr("PyObject", 2)}},
	"S":  {Types: []ctype.Type{ptr("PyObject", 2)}},
	"U":  {Types: []ctype.Type{ptr("PyObject", 2)}},
	"Y":  {Types: []ctype.Type{ptr("PyObject", 2)}},
	"O!": {Types: []ctype.Type{ptr("PyTypeObject", 1), ptr("PyObject", 2)}},
	"O&": {Types: []ctype.Type{converterSlot, anySlot}, Converter: true},

	"s":  {Types: []ctype.Type{constPtr("char", 2)}},
	"z":  {Types: []ctype.Type{constPtr("char", 2)}},
	"y":  {Types: []ctype.Type{constPtr("char", 2)}},
	"s#": {Types: []ctype.Type{constPtr("char", 2)}, Length: true},
	"z#": {Types: []ctype.Type{constPtr("char", 2)}, Length: true},
	"y#": {Types: []ctype.Type{constPtr("char", 2)}, Length: true},
	"t#": {Types: []ctype.Type{constPtr("char", 2)}, Length: true},
	"w#": {Types: []ctype.Type{ptr("char", 2)}, Length: true},
	"w":  {Types: []ctype.Type{ptr("char", 2)}},
	"s*": {Types: []ctype.Type{ptr("Py_buffer", 1)}},
	"z*": {Types: []ctype.Type{ptr("Py_buffer", 1)}},
	"y*": {Types: []ctype.Type{ptr("Py_buffer", 1)}},
	"w*": {Types: []ctype.Type{ptr("Py_buffer", 1)}},
	"u":  {Types: []ctype.Type{ptr("Py_UNICODE", 2)}},
	"Z":  {Types: []ctype.Type{ptr("Py_UNICODE", 2)}},
	"u#": {Types: []ctype.Type{ptr("Py_UNICODE", 2)}, Length: true},
	"Z#": {Types: []ctype.Type{ptr("Py_UNICODE", 2)}, Length: true},

	"es":  {Types: []ctype.Type{constPtr("char", 1), ptr("char", 2)}},
	"et":  {Types: []ctype.Type{constPtr("char", 1), ptr("char", 2)}},
	"es#": {Types: []ctype.Type{constPtr("char", 1), ptr("char", 2)}, Length: true},
	"et#": {Types: []ctype.Type{constPtr("char", 1), ptr("char", 2)}, Length: true},
}

// maxCodeLen 目录中最长格式码的长度，用于最长匹配
const maxCodeLen = 3

// Lookup 查询格式码的目录条目
func Lookup(code string) (Entry, bool) {
	e, ok := catalogue[code]
	if !ok {
		return Entry{}, false
	}
	e.Code = code
	return e, true
}

// lengthSlot 返回长度槽的期望类型
func lengthSlot(ssizeT bool) ctype.Type {
	if ssizeT {
		return ptr("Py_ssize_t", 1)
	}
	return ptr("int", 1)
}

// API 描述一个按格式串解析参数的 CPython 函数
type API struct {
	Name string
	// FormatArg 格式串实参的位置（从 1 开始）
	FormatArg int
	// FirstVararg 第一个目标实参的位置（从 1 开始）
	FirstVararg int
	// SizeT 长度槽使用 Py_ssize_t
	SizeT bool
}

var apis = map[string]API{
	"PyArg_ParseTuple":                   {FormatArg: 2, FirstVararg: 3},
	"PyArg_ParseTupleAndKeywords":        {FormatArg: 3, FirstVararg: 5},
	"PyArg_Parse":                        {FormatArg: 2, FirstVararg: 3},
	"_PyArg_ParseTuple_SizeT":            {FormatArg: 2, FirstVararg: 3, SizeT: true},
	"_PyArg_ParseTupleAndKeywords_SizeT": {FormatArg: 3, FirstVararg: 5, SizeT: true},
	"_PyArg_Parse_SizeT":                 {FormatArg: 2, FirstVararg: 3, SizeT: true},
}

// LookupAPI 按函数名查询参数解析 API
func LookupAPI(name string) (API, bool) {
	a, ok := apis[name]
	if !ok {
		return API{}, false
	}
	a.Name = name
	return a, true
}
