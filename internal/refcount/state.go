package refcount

// RefState 引用在某个程序点上的所有权状态
type RefState int

const (
	// Unknown 未观察到或已无法精确跟踪
	Unknown RefState = iota
	// Owned 当前路径持有引用，必须释放或返回
	Owned
	// Borrowed 借用引用，不能释放
	Borrowed
	// Released 引用已经交出
	Released
)

// String 返回状态名
func (s RefState) String() string {
	switch s {
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Value 一个被跟踪变量的状态及其来源
type Value struct {
	State RefState
	// Origin 产生该引用的函数或单例名
	Origin string
	// Line 引用产生的行号
	Line int
	// Singleton 全局单例的引用
	Singleton bool
}

// env 变量到状态的映射；不在映射中的变量为 Unknown
type env map[string]Value

func (e env) get(name string) Value {
	return e[name]
}

func (e env) set(name string, v Value) {
	if v.State == Unknown {
		delete(e, name)
		return
	}
	e[name] = v
}

func (e env) clone() env {
	out := make(env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func (e env) equal(other env) bool {
	if len(e) != len(other) {
		return false
	}
	for k, v := range e {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}

// meetValue 汇合点上的状态合并：状态不一致时降为 Unknown；状态一致时保留较早的来源
func meetValue(a, b Value) Value {
	if a.State != b.State {
		return Value{}
	}
	if b.Line < a.Line || b.Line == a.Line && b.Origin < a.Origin {
		return b
	}
	return a
}

// meet 合并两个前驱的环境；只在一侧出现的变量视为另一侧 Unknown
func meet(a, b env) env {
	out := make(env)
	for k, va := range a {
		if vb, ok := b[k]; ok {
			out.set(k, meetValue(va, vb))
		}
	}
	return out
}
