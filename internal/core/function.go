package core

import (
	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/ctype"
)

// Param 函数参数
type Param struct {
	Name string
	Type ctype.Type
	Node *sitter.Node
}

// Function 一个函数定义
type Function struct {
	Name       string
	Node       *sitter.Node
	Body       *sitter.Node
	ReturnType ctype.Type
	Params     []Param
	// Scope 参数与局部变量；外层为全局作用域
	Scope *Scope
}

// Line 函数定义所在的行（从 1 开始）
func (fn *Function) Line() int {
	return int(fn.Node.StartPoint().Row) + 1
}

// FindFunctions 按源码顺序收集所有函数定义，包括预处理条件块中的定义
func FindFunctions(unit *ParsedUnit, structs *StructTable) []*Function {
	var funcs []*Function
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "function_definition":
				if fn := newFunction(unit, child, structs); fn != nil {
					funcs = append(funcs, fn)
				}
			case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "linkage_specification", "declaration_list":
				walk(child)
			}
		}
	}
	walk(unit.Root)
	return funcs
}

func newFunction(unit *ParsedUnit, node *sitter.Node, structs *StructTable) *Function {
	body := node.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	declarator := node.ChildByFieldName("declarator")
	funcDecl, pointers := findFunctionDeclarator(declarator)
	if funcDecl == nil {
		return nil
	}
	name := ExtractIdentifier(unit, funcDecl.ChildByFieldName("declarator"))
	if name == "" {
		return nil
	}

	fn := &Function{
		Name: name,
		Node: node,
		Body: body,
	}
	ret := TypeFromSpecifier(unit, node, structs)
	if !ret.IsUnknown() {
		ret.Pointers += pointers
	}
	fn.ReturnType = ret

	if params := funcDecl.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() != "parameter_declaration" {
				continue
			}
			base := TypeFromSpecifier(unit, p, structs)
			pname, ptype, _ := DeclaratorType(unit, p.ChildByFieldName("declarator"), base)
			if pname == "" {
				continue
			}
			fn.Params = append(fn.Params, Param{Name: pname, Type: ptype, Node: p})
		}
	}
	return fn
}

// findFunctionDeclarator 沿 declarator 字段向下查找 function_declarator，并统计返回类型的指针层数
func findFunctionDeclarator(node *sitter.Node) (*sitter.Node, int) {
	pointers := 0
	for node != nil {
		switch node.Type() {
		case "function_declarator":
			return node, pointers
		case "pointer_declarator":
			pointers++
		case "parenthesized_declarator", "attributed_declarator":
			if node.NamedChildCount() == 0 {
				return nil, 0
			}
			node = node.NamedChild(0)
			continue
		}
		node = node.ChildByFieldName("declarator")
	}
	return nil, 0
}

// ExtractIdentifier 从声明符中提取被声明的标识符
func ExtractIdentifier(unit *ParsedUnit, node *sitter.Node) string {
	for node != nil {
		switch node.Type() {
		case "identifier", "field_identifier", "type_identifier":
			return unit.Text(node)
		case "parenthesized_declarator", "attributed_declarator":
			if node.NamedChildCount() == 0 {
				return ""
			}
			node = node.NamedChild(0)
			continue
		}
		node = node.ChildByFieldName("declarator")
	}
	return ""
}

// EnclosingFunction 返回包含节点的函数定义节点
func EnclosingFunction(node *sitter.Node) *sitter.Node {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "function_definition" {
			return p
		}
	}
	return nil
}
