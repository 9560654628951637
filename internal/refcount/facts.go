// Package refcount 跟踪 PyObject* 引用的所有权，报告泄漏与非法释放。
package refcount

import (
	"fmt"
	"strconv"
	"strings"
)

// Facts 引用计数相关函数的静态事实表
type Facts struct {
	newRef    map[string]bool
	borrowed  map[string]bool
	singleton map[string]bool
	// steals 函数名 -> 被窃取引用的实参下标（从 0 开始）
	steals map[string]int
	// conditionalSteals 只在成功时窃取引用的函数
	conditionalSteals map[string]int
	incref            map[string]bool
	release           map[string]bool
	clear             map[string]bool
	setref            map[string]bool
	// buildValue 按格式串构造对象的函数，格式中的 "N" 窃取对应实参
	buildValue map[string]int
}

var defaultNewRef = []string{
	"Py_BuildValue", "Py_NewRef", "Py_XNewRef",
	"PyObject_Call", "PyObject_CallObject", "PyObject_CallFunction", "PyObject_CallMethod",
	"PyObject_CallFunctionObjArgs", "PyObject_CallMethodObjArgs", "PyObject_CallNoArgs",
	"PyObject_CallOneArg", "PyObject_Vectorcall", "PyObject_VectorcallMethod",
	"PyObject_GetAttr", "PyObject_GetAttrString", "PyObject_GetItem", "PyObject_GetIter",
	"PyObject_Repr", "PyObject_Str", "PyObject_Bytes", "PyObject_Dir", "PyObject_Type",
	"PyObject_RichCompare", "PyObject_Format", "PyObject_SelfIter",
	"PyIter_Next", "PySequence_GetItem", "PySequence_GetSlice", "PySequence_List",
	"PySequence_Tuple", "PySequence_Fast", "PySequence_Concat",
	"PyMapping_GetItemString", "PyMapping_Keys", "PyMapping_Values", "PyMapping_Items",
	"PyNumber_Add", "PyNumber_Subtract", "PyNumber_Multiply", "PyNumber_TrueDivide",
	"PyNumber_FloorDivide", "PyNumber_Remainder", "PyNumber_Long", "PyNumber_Float",
	"PyNumber_Index", "PyNumber_Negative", "PyNumber_Absolute",
	"PyDict_Copy", "PyDict_Keys", "PyDict_Values", "PyDict_Items",
	"PyList_GetSlice", "PyList_AsTuple", "PyTuple_GetSlice", "PyTuple_Pack",
	"PyUnicode_Concat", "PyUnicode_Join", "PyUnicode_Split", "PyUnicode_AsUTF8String",
	"PyUnicode_AsEncodedString", "PyUnicode_Format", "PyUnicode_InternFromString",
	"PyImport_Import", "PyImport_ImportModule", "PyImport_AddModuleRef",
	"PyModule_Create", "PyModule_Create2", "PyModule_New", "PyModule_FromDefAndSpec",
	"PyErr_NewException", "PyErr_NewExceptionWithDoc", "PyErr_Format",
	"PyType_GenericNew", "PyType_GenericAlloc", "PyType_FromSpec", "PyType_FromSpecWithBases",
	"PyCapsule_New", "PyMemoryView_FromObject", "PySeqIter_New", "PyCallIter_New",
	"PyEval_CallObject", "PyEval_CallFunction", "PyEval_CallMethod",
	"PyObject_New", "PyObject_NewVar", "PyObject_GC_New", "PyObject_GC_NewVar",
}

// newRefSuffixes 构造新对象的函数族后缀；另外 *_From* 也返回新引用
var newRefSuffixes = []string{"_New", "_NewVar", "_NewObject"}

// rawMemoryPrefixes 返回裸内存或状态码的函数族，不适用上面的命名规则
var rawMemoryPrefixes = []string{
	"PyMem_", "PyObject_Malloc", "PyObject_Calloc", "PyObject_Realloc", "PyObject_Free",
	"PyBuffer_", "PyOS_", "PyThread_",
}

var defaultBorrowed = []string{
	"PyTuple_GetItem", "PyTuple_GET_ITEM", "PyList_GetItem", "PyList_GET_ITEM",
	"PyDict_GetItem", "PyDict_GetItemString", "PyDict_GetItemWithError",
	"PyModule_GetDict", "PySys_GetObject", "PyEval_GetBuiltins", "PyEval_GetGlobals",
	"PyEval_GetLocals", "PyErr_Occurred", "PyImport_AddModule", "PyImport_GetModuleDict",
	"PyCell_GET", "PyCell_Get", "PyWeakref_GetObject", "PyWeakref_GET_OBJECT",
	"PyFunction_GetCode", "PyFunction_GetGlobals", "PyMethod_Function", "PyMethod_Self",
	"PySequence_Fast_GET_ITEM", "PyStructSequence_GetItem", "PyStructSequence_GET_ITEM",
}

var defaultSingletons = []string{
	"Py_None", "Py_True", "Py_False", "Py_NotImplemented", "Py_Ellipsis",
}

// NewFacts 创建默认事实表，extra 中的函数追加到对应表中
func NewFacts(extra ExtraFacts) (*Facts, error) {
	f := &Facts{
		newRef:    make(map[string]bool),
		borrowed:  make(map[string]bool),
		singleton: make(map[string]bool),
		steals: map[string]int{
			"PyList_SetItem": 2, "PyList_SET_ITEM": 2, "PyTuple_SetItem": 2, "PyTuple_SET_ITEM": 2,
			"PyStructSequence_SetItem": 2, "PyStructSequence_SET_ITEM": 2,
			"PyException_SetCause": 1, "PyException_SetContext": 1,
			"PyModule_Add": 2, "PyCell_SET": 1,
		},
		conditionalSteals: map[string]int{"PyModule_AddObject": 2},
		incref:            map[string]bool{"Py_INCREF": true, "Py_XINCREF": true},
		release:           map[string]bool{"Py_DECREF": true, "Py_XDECREF": true},
		clear:             map[string]bool{"Py_CLEAR": true},
		setref:            map[string]bool{"Py_SETREF": true, "Py_XSETREF": true},
		buildValue:        map[string]int{"Py_BuildValue": 0, "PyObject_CallFunction": 1, "PyObject_CallMethod": 2},
	}
	for _, name := range defaultNewRef {
		f.newRef[name] = true
	}
	for _, name := range defaultBorrowed {
		f.borrowed[name] = true
	}
	for _, name := range defaultSingletons {
		f.singleton[name] = true
	}

	for _, name := range extra.NewReference {
		f.newRef[name] = true
	}
	for _, name := range extra.BorrowedReference {
		f.borrowed[name] = true
	}
	for _, spec := range extra.Steals {
		name, index, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid steals entry %q (want name:index)", spec)
		}
		i, err := strconv.Atoi(index)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid steals entry %q: bad argument index", spec)
		}
		f.steals[name] = i
	}
	return f, nil
}

// DefaultFacts 返回内置事实表
func DefaultFacts() *Facts {
	f, _ := NewFacts(ExtraFacts{})
	return f
}

// ExtraFacts 用户配置追加的事实
type ExtraFacts struct {
	NewReference      []string
	BorrowedReference []string
	// Steals 形如 "PyFoo_SetItem:2" 的条目，数字为被窃取实参的下标
	Steals []string
}

// IsNewReference 函数是否返回新引用
func (f *Facts) IsNewReference(name string) bool {
	if f.newRef[name] {
		return true
	}
	if !strings.HasPrefix(name, "Py") || f.borrowed[name] {
		return false
	}
	for _, prefix := range rawMemoryPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	// PyLong_FromLong、PyList_New 这类构造函数
	_, rest, ok := strings.Cut(name, "_")
	if !ok {
		return false
	}
	if strings.HasPrefix(rest, "From") {
		return true
	}
	for _, suffix := range newRefSuffixes {
		if "_"+rest == suffix {
			return true
		}
	}
	return false
}

// IsBorrowedReference 函数是否返回借用引用
func (f *Facts) IsBorrowedReference(name string) bool {
	return f.borrowed[name]
}

// IsSingleton 标识符是否是全局单例对象
func (f *Facts) IsSingleton(name string) bool {
	return f.singleton[name]
}

// IsAPI 函数是否属于 CPython C API；未知的非 API 函数可能窃取或保存引用
func (f *Facts) IsAPI(name string) bool {
	return strings.HasPrefix(name, "Py") || strings.HasPrefix(name, "_Py")
}
