package pyarg

import (
	"fmt"
	"strings"
	"testing"

	"cpycheck/internal/ctype"
)

func mustCompile(t *testing.T, format string) FormatSpec {
	t.Helper()
	spec, err := Compile(format)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func TestBindTypeMismatch(t *testing.T) {
	site := CallSite{
		API:      "PyArg_ParseTuple",
		Format:   mustCompile(t, "i:htons"),
		Args:     []Argument{{Text: "&x1", Type: ctype.Type{Base: "long unsigned int", Pointers: 1}}},
		FirstArg: 3,
	}
	got := Bind(site)
	if len(got) != 1 {
		t.Fatalf("got %d mismatches, want 1", len(got))
	}
	want := `Mismatching type in call to PyArg_ParseTuple with format string "i:htons": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i"`
	if msg := got[0].Message(); msg != want {
		t.Errorf("message:\n got %s\nwant %s", msg, want)
	}
}

func TestBindVoidPointer(t *testing.T) {
	site := CallSite{
		API:      "PyArg_ParseTuple",
		Format:   mustCompile(t, "b"),
		Args:     []Argument{{Text: "&val", Type: ctype.Type{Base: "void", Pointers: 2}}},
		FirstArg: 3,
	}
	got := Bind(site)
	if len(got) != 1 {
		t.Fatalf("got %d mismatches, want 1", len(got))
	}
	if msg := got[0].Message(); !strings.Contains(msg, `had type "void * *" but was expecting "unsigned char *"`) {
		t.Errorf("unexpected message %s", msg)
	}
}

func TestBindCounts(t *testing.T) {
	intPtr := ctype.Type{Base: "int", Pointers: 1}
	for _, testCase := range []struct {
		name   string
		format string
		args   int
		want   string
	}{
		{"not enough", "i", 0, `Not enough arguments in call to PyArg_ParseTuple with format string "i" : expected 1 extra arguments (int *), but got 0`},
		{"too many", "i", 2, `Too many arguments in call to PyArg_ParseTuple with format string "i" : expected 1 extra arguments (int *), but got 2`},
		{"optional satisfied", "i|i", 1, ""},
		{"optional missing required", "ii|i", 1, `Not enough arguments in call to PyArg_ParseTuple with format string "ii|i" : expected 2 extra arguments (int *, int *, int *), but got 1`},
		{"exact", "ii", 2, ""},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			site := CallSite{API: "PyArg_ParseTuple", Format: mustCompile(t, testCase.format), FirstArg: 3}
			for i := 0; i < testCase.args; i++ {
				site.Args = append(site.Args, Argument{Text: "&x", Type: intPtr})
			}
			got := Bind(site)
			if testCase.want == "" {
				if len(got) != 0 {
					t.Errorf("unexpected mismatch %s", got[0].Message())
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("got %d mismatches, want 1", len(got))
			}
			if msg := got[0].Message(); msg != testCase.want {
				t.Errorf("message:\n got %s\nwant %s", msg, testCase.want)
			}
		})
	}
}

func TestBindCountThenTypes(t *testing.T) {
	ulongPtr := ctype.Type{Base: "long unsigned int", Pointers: 1}
	intPtr := ctype.Type{Base: "int", Pointers: 1}
	for _, testCase := range []struct {
		name   string
		format string
		args   []ctype.Type
		want   []string
	}{
		{
			name:   "not enough with wrong type",
			format: "ii",
			args:   []ctype.Type{ulongPtr},
			want: []string{
				`Not enough arguments in call to PyArg_ParseTuple with format string "ii" : expected 2 extra arguments (int *, int *), but got 1`,
				`Mismatching type in call to PyArg_ParseTuple with format string "ii": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i"`,
			},
		},
		{
			name:   "too many with wrong type",
			format: "i",
			args:   []ctype.Type{ulongPtr, intPtr},
			want: []string{
				`Too many arguments in call to PyArg_ParseTuple with format string "i" : expected 1 extra arguments (int *), but got 2`,
				`Mismatching type in call to PyArg_ParseTuple with format string "i": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i"`,
			},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			site := CallSite{API: "PyArg_ParseTuple", Format: mustCompile(t, testCase.format), FirstArg: 3}
			for i, typ := range testCase.args {
				site.Args = append(site.Args, Argument{Text: fmt.Sprintf("&x%d", i+1), Type: typ})
			}
			got := Bind(site)
			if len(got) != len(testCase.want) {
				t.Fatalf("got %d mismatches, want %d", len(got), len(testCase.want))
			}
			for i, want := range testCase.want {
				if msg := got[i].Message(); msg != want {
					t.Errorf("mismatch %d:\n got %s\nwant %s", i, msg, want)
				}
			}
		})
	}
}

func TestBindAccepts(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		format string
		args   []ctype.Type
	}{
		{"correct types", "hHlk", []ctype.Type{
			{Base: "short int", Pointers: 1},
			{Base: "short unsigned int", Pointers: 1},
			{Base: "long int", Pointers: 1},
			{Base: "long unsigned int", Pointers: 1},
		}},
		{"typedef width", "H", []ctype.Type{{Base: "uint16_t", Pointers: 1}}},
		{"const ignored", "s", []ctype.Type{{Base: "char", Pointers: 2}}},
		{"converter accepts anything", "O&", []ctype.Type{{Base: "double", Pointers: 0}, {Base: "void", Pointers: 2}}},
		{"unknown skipped", "i", []ctype.Type{ctype.Unknown}},
		{"n is ssize", "n", []ctype.Type{{Base: "Py_ssize_t", Pointers: 1}}},
		{"long long macro", "L", []ctype.Type{{Base: "long long int", Pointers: 1}}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			site := CallSite{API: "PyArg_ParseTuple", Format: mustCompile(t, testCase.format), FirstArg: 3}
			for _, typ := range testCase.args {
				site.Args = append(site.Args, Argument{Text: "&x", Type: typ})
			}
			for _, m := range Bind(site) {
				t.Errorf("unexpected mismatch: %s", m.Message())
			}
		})
	}
}

func TestBindArgumentNumbers(t *testing.T) {
	site := CallSite{
		API:    "PyArg_ParseTupleAndKeywords",
		Format: mustCompile(t, "id"),
		Args: []Argument{
			{Text: "&a", Type: ctype.Type{Base: "int", Pointers: 1}},
			{Text: "&b", Type: ctype.Type{Base: "float", Pointers: 1}},
		},
		FirstArg: 5,
	}
	got := Bind(site)
	if len(got) != 1 {
		t.Fatalf("got %d mismatches, want 1", len(got))
	}
	if got[0].Binding.Index != 6 || got[0].Binding.Code != "d" {
		t.Errorf("binding = %+v", got[0].Binding)
	}
	if got[0].ActualBits != 32 || got[0].ExpectedBits != 64 {
		t.Errorf("bits = %d/%d", got[0].ActualBits, got[0].ExpectedBits)
	}
}

func TestBindDataModel(t *testing.T) {
	site := CallSite{
		API:      "PyArg_ParseTuple",
		Format:   mustCompile(t, "l"),
		Args:     []Argument{{Text: "&x", Type: ctype.Type{Base: "int", Pointers: 1}}},
		FirstArg: 3,
	}
	if got := NewBinder(ctype.LP64).Bind(site); len(got) != 1 {
		t.Errorf("LP64: got %d mismatches, want 1", len(got))
	}
	if got := NewBinder(ctype.LLP64).Bind(site); len(got) != 0 {
		t.Errorf("LLP64: got %d mismatches, want 0", len(got))
	}
}
