package core

import (
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"cpycheck/internal/ctype"
)

// macroTypes 展开为基础类型的常见宏，GCC 诊断中显示展开后的拼写
var macroTypes = map[string]string{
	"PY_LONG_LONG":          "long long int",
	"PY_UNSIGNED_LONG_LONG": "long long unsigned int",
}

// typeObjectPattern 匹配 PyList_Type 这类类型对象全局变量
var typeObjectPattern = regexp.MustCompile(`^_?Py\w*_Type$`)

// TypeFromSpecifier 从带 type 字段的节点（声明、参数、类型描述符）计算基础类型，不含声明符中的指针
func TypeFromSpecifier(unit *ParsedUnit, node *sitter.Node, structs *StructTable) ctype.Type {
	if node == nil {
		return ctype.Unknown
	}
	typeNode := node.ChildByFieldName("type")
	t := specifierType(unit, typeNode, structs)
	if t.IsUnknown() {
		return t
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "type_qualifier" && unit.Text(child) == "const" {
			t.Const = true
		}
	}
	return t
}

func specifierType(unit *ParsedUnit, typeNode *sitter.Node, structs *StructTable) ctype.Type {
	if typeNode == nil {
		return ctype.Unknown
	}
	text := unit.Text(typeNode)
	switch typeNode.Type() {
	case "primitive_type", "sized_type_specifier":
		return ctype.Named(ctype.Canonical(strings.Fields(text)))
	case "type_identifier":
		if expanded, ok := macroTypes[text]; ok {
			return ctype.Named(expanded)
		}
		if structs != nil {
			if target, ok := structs.typedefs[text]; ok {
				return ctype.Type{Base: text, Resolved: target}
			}
		}
		return ctype.Named(text)
	case "struct_specifier", "union_specifier", "enum_specifier":
		name := typeNode.ChildByFieldName("name")
		if name == nil {
			return ctype.Unknown
		}
		keyword := strings.TrimSuffix(typeNode.Type(), "_specifier")
		return ctype.Named(keyword + " " + unit.Text(name))
	}
	return ctype.Unknown
}

// DeclaratorType 沿声明符计算被声明的名称与完整类型；数组按退化后的指针计算并返回 isArray
func DeclaratorType(unit *ParsedUnit, node *sitter.Node, base ctype.Type) (name string, t ctype.Type, isArray bool) {
	t = base
	arrays := 0
	for node != nil {
		switch node.Type() {
		case "identifier", "field_identifier":
			if arrays > 1 {
				t = ctype.Unknown
			}
			return unit.Text(node), t, arrays > 0
		case "pointer_declarator":
			t = ctype.PointerTo(t)
		case "array_declarator":
			arrays++
			t = ctype.PointerTo(t)
		case "function_declarator":
			return ExtractIdentifier(unit, node), ctype.Unknown, false
		case "parenthesized_declarator", "attributed_declarator":
			if node.NamedChildCount() == 0 {
				return "", ctype.Unknown, false
			}
			node = node.NamedChild(0)
			continue
		case "init_declarator":
		default:
			return "", ctype.Unknown, false
		}
		node = node.ChildByFieldName("declarator")
	}
	return "", t, false
}

// abstractType 计算类型描述符（cast 或 sizeof 中的类型）
func abstractType(unit *ParsedUnit, descriptor *sitter.Node, structs *StructTable) ctype.Type {
	t := TypeFromSpecifier(unit, descriptor, structs)
	for node := descriptor.ChildByFieldName("declarator"); node != nil; node = node.ChildByFieldName("declarator") {
		if node.Type() != "abstract_pointer_declarator" {
			return ctype.Unknown
		}
		t = ctype.PointerTo(t)
	}
	return t
}

// TypeOf 静态推断表达式的类型；无法确定时返回 ctype.Unknown
func TypeOf(unit *ParsedUnit, expr *sitter.Node, scope *Scope, structs *StructTable) ctype.Type {
	if expr == nil {
		return ctype.Unknown
	}
	switch expr.Type() {
	case "identifier":
		name := unit.Text(expr)
		if sym := scope.Lookup(name); sym != nil {
			return sym.Type
		}
		if typeObjectPattern.MatchString(name) {
			return ctype.Named("PyTypeObject")
		}
	case "parenthesized_expression":
		if expr.NamedChildCount() > 0 {
			return TypeOf(unit, expr.NamedChild(0), scope, structs)
		}
	case "pointer_expression":
		arg := expr.ChildByFieldName("argument")
		op := expr.ChildByFieldName("operator")
		if arg == nil || op == nil {
			return ctype.Unknown
		}
		switch unit.Text(op) {
		case "&":
			if arg.Type() == "identifier" {
				if sym := scope.Lookup(unit.Text(arg)); sym != nil && sym.Array {
					return ctype.Unknown
				}
			}
			return ctype.PointerTo(TypeOf(unit, arg, scope, structs))
		case "*":
			return TypeOf(unit, arg, scope, structs).Deref()
		}
	case "subscript_expression":
		return TypeOf(unit, expr.ChildByFieldName("argument"), scope, structs).Deref()
	case "cast_expression":
		if desc := expr.ChildByFieldName("type"); desc != nil {
			return abstractType(unit, desc, structs)
		}
	case "field_expression":
		owner := TypeOf(unit, expr.ChildByFieldName("argument"), scope, structs)
		field := expr.ChildByFieldName("field")
		op := expr.ChildByFieldName("operator")
		if owner.IsUnknown() || field == nil || structs == nil {
			return ctype.Unknown
		}
		if op != nil && unit.Text(op) == "->" {
			owner = owner.Deref()
		}
		if owner.IsUnknown() || owner.Pointers != 0 {
			return ctype.Unknown
		}
		if sym := structs.Field(owner.ResolvedBase(), unit.Text(field)); sym != nil && !sym.Array {
			return sym.Type
		}
	case "string_literal", "concatenated_string":
		return ctype.Type{Base: "char", Pointers: 1}
	case "char_literal":
		return ctype.Named("int")
	case "sizeof_expression":
		return ctype.Named("long unsigned int")
	}
	return ctype.Unknown
}

// StringLiteral 返回字符串字面量（含相邻字面量拼接）解码后的内容；raw 为源码中引号内的原文
func StringLiteral(unit *ParsedUnit, node *sitter.Node) (value, raw string, ok bool) {
	for node != nil && node.Type() == "parenthesized_expression" && node.NamedChildCount() == 1 {
		node = node.NamedChild(0)
	}
	if node == nil {
		return "", "", false
	}
	switch node.Type() {
	case "string_literal":
		text := unit.Text(node)
		if !strings.HasPrefix(text, `"`) || !strings.HasSuffix(text, `"`) || len(text) < 2 {
			return "", "", false
		}
		raw = text[1 : len(text)-1]
		if s, err := strconv.Unquote(text); err == nil {
			return s, raw, true
		}
		// C 的八进制与十六进制转义比 Go 宽松
		return raw, raw, true
	case "concatenated_string":
		var vb, rb strings.Builder
		for i := 0; i < int(node.NamedChildCount()); i++ {
			v, r, ok := StringLiteral(unit, node.NamedChild(i))
			if !ok {
				return "", "", false
			}
			vb.WriteString(v)
			rb.WriteString(r)
		}
		return vb.String(), rb.String(), true
	}
	return "", "", false
}
