package refcount

import (
	"cpycheck/internal/core"
)

// Op 所有权事件类型
type Op int

const (
	// OpAcquire 变量获得新引用
	OpAcquire Op = iota
	// OpBorrow 变量获得借用引用
	OpBorrow
	// OpIncref 显式增加引用计数
	OpIncref
	// OpDecref 显式释放引用
	OpDecref
	// OpClear 释放并置空（Py_CLEAR）
	OpClear
	// OpSteal 引用被调用的函数窃取
	OpSteal
	// OpStealOnSuccess 引用只在调用成功时被窃取
	OpStealOnSuccess
	// OpEscape 引用逃逸出本函数的跟踪范围（取地址、存入字段或全局变量、别名）
	OpEscape
	// OpForget 变量被赋予不跟踪的值
	OpForget
	// OpReturn 函数返回
	OpReturn
)

// ReturnKind 返回值的所有权类别
type ReturnKind int

const (
	// ReturnOther 返回 NULL、整数或新引用
	ReturnOther ReturnKind = iota
	// ReturnVar 返回被跟踪的变量
	ReturnVar
	// ReturnBorrowedValue 直接返回借用引用（单例或借用函数的结果）
	ReturnBorrowedValue
)

// Event 基本块中的一个有序事件
type Event struct {
	Op  Op
	Var string
	// Source 来源函数、单例名或释放操作名
	Source string
	// Call Source 是函数名，显示时带 "()"
	Call bool
	// Singleton Var 是全局单例（Py_None 等），不报告泄漏
	Singleton bool
	Pos       core.Pos
	Return    ReturnKind
}

func (ev Event) origin() string {
	if ev.Call {
		return ev.Source + "()"
	}
	return ev.Source
}

// Succ 后继边；沿该边 Null 中的变量为 NULL，不再持有引用
type Succ struct {
	To   int
	Kind core.EdgeKind
	Null []string
}

// Block 降低后的基本块
type Block struct {
	Events []Event
	Succs  []Succ
	// ExitPos 没有 return 事件的出口块（执行到函数体末尾）的诊断位置
	ExitPos core.Pos
}

// Graph 降低后的函数
type Graph struct {
	Function string
	Blocks   []Block
	Entry    int
}
