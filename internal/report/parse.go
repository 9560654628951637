package report

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"cpycheck/internal/core"
)

var (
	diagnosticLine = regexp.MustCompile(`^(.+?):(\d+):(\d+): (warning|error): (.*?)(?: \[(-[^\]\s]+)\])?$`)
	headerLine     = regexp.MustCompile(`^(.+?): In function (?:'|‘)(.+?)(?:'|’):$`)
)

// Diagnostic 从一行 GCC 诊断中解析出的字段
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string
	Option   string
}

// ParseLine 解析 "<file>:<line>:<col>: <severity>: <message> [<option>]"
func ParseLine(line string) (Diagnostic, bool) {
	m := diagnosticLine.FindStringSubmatch(line)
	if m == nil {
		return Diagnostic{}, false
	}
	lineNo, err := strconv.Atoi(m[2])
	if err != nil {
		return Diagnostic{}, false
	}
	col, err := strconv.Atoi(m[3])
	if err != nil {
		return Diagnostic{}, false
	}
	return Diagnostic{
		File:     m[1],
		Line:     lineNo,
		Column:   col,
		Severity: Severity(m[4]),
		Message:  m[5],
		Option:   m[6],
	}, true
}

// ParseHeader 解析 "<file>: In function '<fn>':"，两种引号样式都接受
func ParseHeader(line string) (file, function string, ok bool) {
	m := headerLine.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Parse 从 GCC 文本流中恢复诊断；无法识别的行被忽略
func Parse(r io.Reader) ([]core.Finding, error) {
	var findings []core.Finding
	function := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if _, fn, ok := ParseHeader(line); ok {
			function = fn
			continue
		}
		d, ok := ParseLine(line)
		if !ok {
			continue
		}
		findings = append(findings, core.Finding{
			Function: function,
			File:     d.File,
			Line:     d.Line,
			Column:   d.Column,
			Message:  d.Message,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read diagnostics: %w", err)
	}
	return findings, nil
}
