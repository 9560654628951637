package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"cpycheck/internal/core"
)

func sampleFindings() []core.Finding {
	return []core.Finding{
		{
			Category: core.TypeMismatch,
			Function: "socket_htons",
			File:     "module.c",
			Line:     17,
			Column:   26,
			Message:  `Mismatching type in call to PyArg_ParseTuple with format string "i:htons": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i"`,
			Detector: "argparse",
		},
		{
			Category: core.BorrowedReturn,
			Function: "losing_refcnt_of_none",
			File:     "module.c",
			Line:     30,
			Column:   5,
			Message:  "return of PyObject* without Py_INCREF()",
			Detector: "refcount",
		},
		{
			Category: core.UnknownFormatChar,
			Function: "losing_refcnt_of_none",
			File:     "module.c",
			Line:     28,
			Column:   26,
			Message:  `unknown format char in "bogus": 'g'`,
			Detector: "argparse",
		},
	}
}

func TestTextWriter(t *testing.T) {
	for _, testCase := range []struct {
		name    string
		options []TextOption
		want    string
	}{
		{
			name: "default",
			want: `module.c: In function 'socket_htons':
module.c:17:26: warning: Mismatching type in call to PyArg_ParseTuple with format string "i:htons": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i" [-fpermissive]
module.c: In function 'losing_refcnt_of_none':
module.c:28:26: warning: unknown format char in "bogus": 'g' [-fpermissive]
module.c:30:5: warning: return of PyObject* without Py_INCREF() [-fpermissive]
`,
		},
		{
			name:    "fatal unicode without tag",
			options: []TextOption{WithFatal(true), WithQuotes(QuotesUnicode), WithOptionTag("")},
			want: `module.c: In function ‘socket_htons’:
module.c:17:26: error: Mismatching type in call to PyArg_ParseTuple with format string "i:htons": argument 3 ("&x1") had type "long unsigned int *" (pointing to 64 bits) but was expecting "int *" (pointing to 32 bits) for format code "i"
module.c: In function ‘losing_refcnt_of_none’:
module.c:28:26: error: unknown format char in "bogus": 'g'
module.c:30:5: error: return of PyObject* without Py_INCREF()
`,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			findings := sampleFindings()
			SortFindings(findings)
			var buf bytes.Buffer
			if err := NewTextWriter(&buf, testCase.options...).Write(&ScanResult{Findings: findings}); err != nil {
				t.Fatal(err)
			}
			if got := buf.String(); got != testCase.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, testCase.want)
			}
		})
	}
}

func TestTextWriterColor(t *testing.T) {
	result := &ScanResult{Findings: sampleFindings()[:1]}
	var plain, colored bytes.Buffer
	if err := NewTextWriter(&plain).Write(result); err != nil {
		t.Fatal(err)
	}
	if err := NewTextWriter(&colored, WithColor(true)).Write(result); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(plain.String(), "\x1b[") {
		t.Error("plain output contains escape sequences")
	}
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Error("colored output has no escape sequences")
	}
}

func TestTextRoundTrip(t *testing.T) {
	findings := sampleFindings()
	SortFindings(findings)
	for _, q := range []QuoteStyle{QuotesASCII, QuotesUnicode} {
		var buf bytes.Buffer
		if err := NewTextWriter(&buf, WithQuotes(q)).Write(&ScanResult{Findings: findings}); err != nil {
			t.Fatal(err)
		}
		parsed, err := Parse(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if len(parsed) != len(findings) {
			t.Fatalf("parsed %d findings, want %d", len(parsed), len(findings))
		}
		for i, f := range findings {
			p := parsed[i]
			if p.File != f.File || p.Line != f.Line || p.Column != f.Column || p.Message != f.Message || p.Function != f.Function {
				t.Errorf("round trip %d:\n got %+v\nwant %+v", i, p, f)
			}
		}
	}
}

func TestParseLine(t *testing.T) {
	for _, testCase := range []struct {
		line string
		ok   bool
		want Diagnostic
	}{
		{
			line: "module.c:12:26: error: unknown format char in \"This is not a valid format string\": 'T' [-fpermissive]",
			ok:   true,
			want: Diagnostic{File: "module.c", Line: 12, Column: 26, Severity: SeverityError,
				Message: "unknown format char in \"This is not a valid format string\": 'T'", Option: "-fpermissive"},
		},
		{
			line: "src/a.c:3:1: warning: ownership of reference in 'v' (new reference from PyList_New() at line 2) leaked on this path",
			ok:   true,
			want: Diagnostic{File: "src/a.c", Line: 3, Column: 1, Severity: SeverityWarning,
				Message: "ownership of reference in 'v' (new reference from PyList_New() at line 2) leaked on this path"},
		},
		{
			line: "build:12:3:gen/module.c:5:26: error: unknown format char in \"q\": 'q' [-fpermissive]",
			ok:   true,
			want: Diagnostic{File: "build:12:3:gen/module.c", Line: 5, Column: 26, Severity: SeverityError,
				Message: "unknown format char in \"q\": 'q'", Option: "-fpermissive"},
		},
		{line: "module.c: In function 'f':"},
		{line: "In file included from module.c:1:"},
	} {
		t.Run(testCase.line, func(t *testing.T) {
			got, ok := ParseLine(testCase.line)
			if ok != testCase.ok {
				t.Fatalf("ok = %v, want %v", ok, testCase.ok)
			}
			if got != testCase.want {
				t.Errorf("got %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	for _, line := range []string{"module.c: In function 'socket_htons':", "module.c: In function ‘socket_htons’:"} {
		file, fn, ok := ParseHeader(line)
		if !ok || file != "module.c" || fn != "socket_htons" {
			t.Errorf("ParseHeader(%q) = %q, %q, %v", line, file, fn, ok)
		}
	}
}

func TestCollectorOrdering(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for _, f := range sampleFindings() {
		wg.Add(1)
		go func(f core.Finding) {
			defer wg.Done()
			c.Add(f, f)
		}(f)
	}
	wg.Wait()
	c.Add(core.Finding{File: "a.c", Function: "zeta", Line: 1, Column: 1, Message: "first file"})

	got := c.Findings()
	if len(got) != 4 || c.Len() != 4 {
		t.Fatalf("got %d findings: %+v", len(got), got)
	}
	wantLines := []int{1, 17, 28, 30}
	for i, line := range wantLines {
		if got[i].Line != line {
			t.Errorf("finding %d line = %d, want %d", i, got[i].Line, line)
		}
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, WithJSONFatal(true))
	if err := w.Write(&ScanResult{Findings: sampleFindings()[:1]}); err != nil {
		t.Fatal(err)
	}
	var diags []GCCDiagnostic
	if err := json.Unmarshal(buf.Bytes(), &diags); err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics", len(diags))
	}
	d := diags[0]
	if d.Kind != "error" || d.Option != "-fpermissive" || d.CpycheckCategory != "TypeMismatch" {
		t.Errorf("diagnostic = %+v", d)
	}
	caret := d.Locations[0].Caret
	if caret.File != "module.c" || caret.Line != 17 || caret.Column != 26 {
		t.Errorf("caret = %+v", caret)
	}
	if d.Locations[0].LogicalLocations[0].Name != "socket_htons" {
		t.Errorf("logical location = %+v", d.Locations[0].LogicalLocations)
	}
}

func TestSARIFWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewSARIFWriter(&buf).Write(&ScanResult{Findings: sampleFindings()}); err != nil {
		t.Fatal(err)
	}
	var report SARIF
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	run := report.Runs[0]
	if _, err := uuid.Parse(run.AutomationDetails.GUID); err != nil {
		t.Errorf("run GUID %q: %v", run.AutomationDetails.GUID, err)
	}
	if len(run.Tool.Driver.Rules) != len(core.Categories) {
		t.Errorf("got %d rules", len(run.Tool.Driver.Rules))
	}
	for _, r := range run.Results {
		if run.Tool.Driver.Rules[r.RuleIndex].ID != r.RuleID {
			t.Errorf("result %s has rule index %d", r.RuleID, r.RuleIndex)
		}
		if r.Level != "warning" {
			t.Errorf("level = %s", r.Level)
		}
	}

	buf.Reset()
	fixed := "6f1c5bb4-2b6e-4a47-9d0e-2f7a1f1b2c3d"
	if err := NewSARIFWriter(&buf, WithRunGUID(fixed)).Write(&ScanResult{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), fixed) {
		t.Error("fixed run GUID not used")
	}
}

func TestManagerEmit(t *testing.T) {
	result := &ScanResult{Findings: sampleFindings()[:1]}

	var stdout, stderr bytes.Buffer
	if _, err := NewManager().Emit(result, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "module.c:17:26: warning:") {
		t.Errorf("text output: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if _, err := NewManager(WithFormat(FormatJSON)).Emit(result, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if stderr.Len() != 0 || !strings.HasPrefix(stdout.String(), "[") {
		t.Errorf("json output: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	out := filepath.Join(t.TempDir(), "reports", "result.sarif")
	path, err := NewManager(WithFormat(FormatSARIF), WithOutputFile(out)).Emit(result, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"version":"2.1.0"`) {
		t.Errorf("sarif file: %s", data)
	}
}

func TestParseFormatAndQuotes(t *testing.T) {
	for _, s := range []string{"text", "JSON", "sarif"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}

	t.Setenv("LC_ALL", "en_US.UTF-8")
	if q, ok := ParseQuoteStyle("auto"); !ok || q != QuotesUnicode {
		t.Errorf("auto under UTF-8 = %v", q)
	}
	t.Setenv("LC_ALL", "C")
	if q, ok := ParseQuoteStyle("auto"); !ok || q != QuotesASCII {
		t.Errorf("auto under C = %v", q)
	}
	if _, ok := ParseQuoteStyle("fancy"); ok {
		t.Error("ParseQuoteStyle(fancy) succeeded")
	}
}
