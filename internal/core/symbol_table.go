package core

import (
	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/ctype"
)

// SymbolKind 符号类别
type SymbolKind int

const (
	SymbolGlobal SymbolKind = iota
	SymbolParam
	SymbolLocal
	SymbolField
)

// Symbol 符号信息
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Type  ctype.Type
	Array bool
	Line  int
	// ambiguous 同一作用域内以不同类型多次声明（例如不同代码块中的同名变量）
	ambiguous bool
}

// Scope 变量作用域；函数作用域是扁平的，外层为全局作用域
type Scope struct {
	symbols map[string]*Symbol
	parent  *Scope
}

// NewScope 创建作用域
func NewScope(parent *Scope) *Scope {
	return &Scope{symbols: make(map[string]*Symbol), parent: parent}
}

// Add 添加符号；同名但类型不同的重复声明使该名称变为不确定
func (s *Scope) Add(sym *Symbol) {
	if prev, ok := s.symbols[sym.Name]; ok {
		if prev.Type != sym.Type || prev.Array != sym.Array {
			prev.ambiguous = true
		}
		return
	}
	s.symbols[sym.Name] = sym
}

// Lookup 由内向外查找符号；不确定的符号返回 nil
func (s *Scope) Lookup(name string) *Symbol {
	for scope := s; scope != nil; scope = scope.parent {
		if sym, ok := scope.symbols[name]; ok {
			if sym.ambiguous {
				return nil
			}
			return sym
		}
	}
	return nil
}

// Local 名称是否是本作用域（不含外层）中的符号
func (s *Scope) Local(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.symbols[name]
	return ok
}

// StructTable 结构体字段与 typedef 表
type StructTable struct {
	// typedefs 别名到展开后基础类型拼写的映射
	typedefs map[string]string
	fields   map[string]*Scope
}

// NewStructTable 创建空表
func NewStructTable() *StructTable {
	return &StructTable{
		typedefs: make(map[string]string),
		fields:   make(map[string]*Scope),
	}
}

// Field 查询结构体字段
func (st *StructTable) Field(structName, field string) *Symbol {
	scope, ok := st.fields[structName]
	if !ok {
		return nil
	}
	return scope.Lookup(field)
}

// Typedef 返回别名展开后的基础类型拼写
func (st *StructTable) Typedef(name string) (string, bool) {
	target, ok := st.typedefs[name]
	return target, ok
}

// CollectStructs 收集文件中的结构体定义与 typedef
func CollectStructs(unit *ParsedUnit) *StructTable {
	st := NewStructTable()
	walkTopLevel(unit.Root, func(node *sitter.Node) {
		switch node.Type() {
		case "type_definition":
			st.addTypedef(unit, node)
		case "declaration", "struct_specifier":
			if spec := structSpecifier(node); spec != nil {
				st.addStruct(unit, spec, "")
			}
		}
	})
	return st
}

func structSpecifier(node *sitter.Node) *sitter.Node {
	if node.Type() == "struct_specifier" {
		return node
	}
	if t := node.ChildByFieldName("type"); t != nil && t.Type() == "struct_specifier" {
		return t
	}
	return nil
}

func (st *StructTable) addTypedef(unit *ParsedUnit, node *sitter.Node) {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.FieldNameForChild(i) != "declarator" {
			continue
		}
		decl := node.Child(i)
		if decl.Type() != "type_identifier" {
			// typedef 为指针或函数类型时不展开
			continue
		}
		alias := unit.Text(decl)
		target := specifierType(unit, typeNode, st)
		if typeNode.Type() == "struct_specifier" {
			name := "struct " + alias
			if n := typeNode.ChildByFieldName("name"); n != nil {
				name = "struct " + unit.Text(n)
			}
			st.addStruct(unit, typeNode, name)
			target = ctype.Named(name)
		}
		if !target.IsUnknown() {
			st.typedefs[alias] = target.ResolvedBase()
		}
	}
}

func (st *StructTable) addStruct(unit *ParsedUnit, spec *sitter.Node, name string) {
	body := spec.ChildByFieldName("body")
	if body == nil {
		return
	}
	if name == "" {
		n := spec.ChildByFieldName("name")
		if n == nil {
			return
		}
		name = "struct " + unit.Text(n)
	}
	scope := NewScope(nil)
	for i := 0; i < int(body.NamedChildCount()); i++ {
		field := body.NamedChild(i)
		if field.Type() != "field_declaration" {
			continue
		}
		addDeclarators(unit, field, scope, SymbolField, st)
	}
	st.fields[name] = scope
}

// addDeclarators 把声明节点中的每个声明符加入作用域
func addDeclarators(unit *ParsedUnit, decl *sitter.Node, scope *Scope, kind SymbolKind, structs *StructTable) {
	base := TypeFromSpecifier(unit, decl, structs)
	for i := 0; i < int(decl.ChildCount()); i++ {
		if decl.FieldNameForChild(i) != "declarator" {
			continue
		}
		child := decl.Child(i)
		name, t, isArray := DeclaratorType(unit, child, base)
		if name == "" {
			continue
		}
		scope.Add(&Symbol{
			Name:  name,
			Kind:  kind,
			Type:  t,
			Array: isArray,
			Line:  int(child.StartPoint().Row) + 1,
		})
	}
}

// CollectGlobals 收集文件作用域的变量声明
func CollectGlobals(unit *ParsedUnit, structs *StructTable) *Scope {
	scope := NewScope(nil)
	walkTopLevel(unit.Root, func(node *sitter.Node) {
		if node.Type() == "declaration" {
			addDeclarators(unit, node, scope, SymbolGlobal, structs)
		}
	})
	return scope
}

// CollectLocals 收集函数参数与函数体内的所有局部声明
func CollectLocals(unit *ParsedUnit, fn *Function, globals *Scope, structs *StructTable) *Scope {
	scope := NewScope(globals)
	for _, p := range fn.Params {
		scope.Add(&Symbol{
			Name: p.Name,
			Kind: SymbolParam,
			Type: p.Type,
			Line: int(p.Node.StartPoint().Row) + 1,
		})
	}
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "declaration" {
			addDeclarators(unit, node, scope, SymbolLocal, structs)
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(fn.Body)
	return scope
}

// walkTopLevel 遍历文件作用域的声明，进入预处理条件块
func walkTopLevel(root *sitter.Node, visit func(*sitter.Node)) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "linkage_specification", "declaration_list":
			walkTopLevel(child, visit)
		default:
			visit(child)
		}
	}
}
