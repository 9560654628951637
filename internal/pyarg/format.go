// Package pyarg 编译 PyArg_ParseTuple 系列函数的格式串，并把格式串与调用点实参绑定检查。
package pyarg

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"cpycheck/internal/ctype"
)

// ErrUnknownFormatChar 格式串含有无法识别的字符
var ErrUnknownFormatChar = errors.New("unknown format char")

// UnknownFormatCharError 记录第一个无法识别的字符
type UnknownFormatCharError struct {
	Char   string
	Format string
}

func (e *UnknownFormatCharError) Error() string {
	return fmt.Sprintf("unknown format char in \"%s\": '%s'", e.Format, e.Char)
}

// Unwrap 支持 errors.Is(err, ErrUnknownFormatChar)
func (e *UnknownFormatCharError) Unwrap() error {
	return ErrUnknownFormatChar
}

// FormatCode 格式串中的一个格式单元及其期望的实参类型
type FormatCode struct {
	Unit      string
	Types     []ctype.Type
	Converter bool
}

// FormatSpec 编译后的格式串
type FormatSpec struct {
	Raw   string
	Codes []FormatCode
	// Min 必需槽位数；没有 '|' 或 '$' 时为 -1
	Min int
	// Name ':' 之后的函数名
	Name string
	// Message ';' 之后的错误信息
	Message string
}

// Slots 返回展平后的期望类型序列
func (f FormatSpec) Slots() []ctype.Type {
	var slots []ctype.Type
	for _, c := range f.Codes {
		slots = append(slots, c.Types...)
	}
	return slots
}

// Len 格式单元数量
func (f FormatSpec) Len() int {
	return len(f.Codes)
}

// Required 必需的实参数量
func (f FormatSpec) Required() int {
	if f.Min >= 0 {
		return f.Min
	}
	return len(f.Slots())
}

type compileOptions struct {
	ssizeT bool
}

// Option 编译选项
type Option func(*compileOptions)

// WithSsizeT 长度槽使用 Py_ssize_t（PY_SSIZE_T_CLEAN 或 _SizeT 变体）
func WithSsizeT(enabled bool) Option {
	return func(o *compileOptions) {
		o.ssizeT = enabled
	}
}

// Compile 从左到右扫描格式串；遇到第一个无法识别的字符即返回 *UnknownFormatCharError
func Compile(raw string, opts ...Option) (FormatSpec, error) {
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}

	spec := FormatSpec{Raw: raw, Min: -1}
	unknown := func(i int) error {
		r, _ := utf8.DecodeRuneInString(raw[i:])
		return &UnknownFormatCharError{Char: string(r), Format: raw}
	}

	var (
		groups []byte
		slots  int
		seenOr bool
	)
	i := 0
scan:
	for i < len(raw) {
		switch ch := raw[i]; ch {
		case '(', '{':
			groups = append(groups, ch)
			i++
		case ')', '}':
			open := byte('(')
			if ch == '}' {
				open = '{'
			}
			if len(groups) == 0 || groups[len(groups)-1] != open {
				return FormatSpec{}, unknown(i)
			}
			groups = groups[:len(groups)-1]
			i++
		case '|':
			if seenOr || len(groups) > 0 {
				return FormatSpec{}, unknown(i)
			}
			seenOr = true
			if spec.Min < 0 {
				spec.Min = slots
			}
			i++
		case '$':
			if len(groups) > 0 {
				return FormatSpec{}, unknown(i)
			}
			if spec.Min < 0 {
				spec.Min = slots
			}
			i++
		case ':', ';':
			if len(groups) > 0 {
				break scan
			}
			if ch == ':' {
				spec.Name = raw[i+1:]
			} else {
				spec.Message = raw[i+1:]
			}
			i = len(raw)
		default:
			entry, n := longestMatch(raw[i:])
			if n == 0 {
				return FormatSpec{}, unknown(i)
			}
			code := FormatCode{Unit: entry.Code, Converter: entry.Converter}
			code.Types = append(code.Types, entry.Types...)
			if entry.Length {
				code.Types = append(code.Types, lengthSlot(o.ssizeT))
			}
			spec.Codes = append(spec.Codes, code)
			slots += len(code.Types)
			i += n
		}
	}
	if len(groups) > 0 {
		return FormatSpec{}, &UnknownFormatCharError{Char: string(groups[len(groups)-1]), Format: raw}
	}
	return spec, nil
}

func longestMatch(s string) (Entry, int) {
	for n := maxCodeLen; n > 0; n-- {
		if n > len(s) {
			continue
		}
		if e, ok := Lookup(s[:n]); ok {
			return e, n
		}
	}
	return Entry{}, 0
}
