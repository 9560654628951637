package pyarg

import (
	"errors"
	"strings"
	"testing"
)

func slotStrings(spec FormatSpec) []string {
	var out []string
	for _, t := range spec.Slots() {
		out = append(out, t.String())
	}
	return out
}

func TestCompile(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		format string
		ssizeT bool
		slots  []string
		min    int
		fname  string
	}{
		{"single int", "i", false, []string{"int *"}, -1, ""},
		{"named", "i:htons", false, []string{"int *"}, -1, "htons"},
		{"converter", "O&i:flock", false, []string{"int (*)(PyObject *, void *)", "void *", "int *"}, -1, "flock"},
		{"encoded with length", "et#:listdir", false, []string{"const char *", "char * *", "int *"}, -1, "listdir"},
		{"encoded with ssize length", "es#", true, []string{"const char *", "char * *", "Py_ssize_t *"}, -1, ""},
		{"tuple", "(LL):set_range", false, []string{"long long int *", "long long int *"}, -1, "set_range"},
		{"optional", "s|i", false, []string{"const char * *", "int *"}, 1, ""},
		{"keyword only", "O|i$p", false, []string{"PyObject * *", "int *", "int *"}, 1, ""},
		{"keyword only without bar", "O$p", false, []string{"PyObject * *", "int *"}, 1, ""},
		{"nested", "i(s(ii))", false, []string{"int *", "const char * *", "int *", "int *"}, -1, ""},
		{"braces", "{ii}", false, []string{"int *", "int *"}, -1, ""},
		{"buffer", "s*", false, []string{"Py_buffer *"}, -1, ""},
		{"type checked", "O!", false, []string{"PyTypeObject *", "PyObject * *"}, -1, ""},
		{"spellings", "hHlkbBIcfd", false, []string{"short int *", "short unsigned int *", "long int *", "long unsigned int *",
			"unsigned char *", "unsigned char *", "unsigned int *", "char *", "float *", "double *"}, -1, ""},
		{"empty", "", false, nil, -1, ""},
		{"error message", "i;expected an int", false, []string{"int *"}, -1, ""},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			spec, err := Compile(testCase.format, WithSsizeT(testCase.ssizeT))
			if err != nil {
				t.Fatalf("Compile(%q) failed: %v", testCase.format, err)
			}
			got := slotStrings(spec)
			if strings.Join(got, "|") != strings.Join(testCase.slots, "|") {
				t.Errorf("slots = %q, want %q", got, testCase.slots)
			}
			if spec.Min != testCase.min {
				t.Errorf("Min = %d, want %d", spec.Min, testCase.min)
			}
			if spec.Name != testCase.fname {
				t.Errorf("Name = %q, want %q", spec.Name, testCase.fname)
			}
		})
	}
}

func TestCompileUnknown(t *testing.T) {
	for _, testCase := range []struct {
		format string
		char   string
	}{
		{"This is not a valid format string", "T"},
		{"iX", "X"},
		{"e", "e"},
		{"t", "t"},
		{"i)", ")"},
		{"(ii", "("},
		{"(i}", "}"},
		{"i||i", "|"},
		{"(i:name)", "("},
	} {
		t.Run(testCase.format, func(t *testing.T) {
			_, err := Compile(testCase.format)
			if !errors.Is(err, ErrUnknownFormatChar) {
				t.Fatalf("Compile(%q) error = %v, want ErrUnknownFormatChar", testCase.format, err)
			}
			var fe *UnknownFormatCharError
			if !errors.As(err, &fe) {
				t.Fatalf("error %T is not *UnknownFormatCharError", err)
			}
			if fe.Char != testCase.char {
				t.Errorf("Char = %q, want %q", fe.Char, testCase.char)
			}
		})
	}
}

func TestUnknownFormatCharMessage(t *testing.T) {
	_, err := Compile("This is not a valid format string")
	want := `unknown format char in "This is not a valid format string": 'T'`
	if err == nil || err.Error() != want {
		t.Errorf("got %v, want %s", err, want)
	}
}

func TestLookupAPI(t *testing.T) {
	api, ok := LookupAPI("PyArg_ParseTupleAndKeywords")
	if !ok || api.FormatArg != 3 || api.FirstVararg != 5 {
		t.Errorf("got %+v, %v", api, ok)
	}
	if _, ok := LookupAPI("printf"); ok {
		t.Error("printf is not a PyArg API")
	}
	if api, _ := LookupAPI("_PyArg_ParseTuple_SizeT"); !api.SizeT {
		t.Error("_SizeT variant must use Py_ssize_t lengths")
	}
}
