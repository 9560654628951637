package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// DefaultOptionTag GCC 诊断末尾的选项标记
const DefaultOptionTag = "-fpermissive"

// TextWriter 按 GCC 诊断格式输出文本
type TextWriter struct {
	writer    io.Writer
	fatal     bool
	optionTag string
	quotes    QuoteStyle
	showColor bool
}

// NewTextWriter 创建新的文本写入器
func NewTextWriter(writer io.Writer, options ...TextOption) *TextWriter {
	w := &TextWriter{
		writer:    writer,
		optionTag: DefaultOptionTag,
		quotes:    QuotesASCII,
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// TextOption 文本选项
type TextOption func(*TextWriter)

// WithFatal 诊断级别为 error 而不是 warning
func WithFatal(fatal bool) TextOption {
	return func(w *TextWriter) {
		w.fatal = fatal
	}
}

// WithOptionTag 设置诊断末尾的选项标记，空字符串表示不输出
func WithOptionTag(tag string) TextOption {
	return func(w *TextWriter) {
		w.optionTag = tag
	}
}

// WithQuotes 设置函数名头部的引号样式
func WithQuotes(q QuoteStyle) TextOption {
	return func(w *TextWriter) {
		w.quotes = q
	}
}

// WithColor 启用彩色输出
func WithColor(enabled bool) TextOption {
	return func(w *TextWriter) {
		w.showColor = enabled
	}
}

// Severity 当前设置下诊断的级别
func (w *TextWriter) Severity() Severity {
	if w.fatal {
		return SeverityError
	}
	return SeverityWarning
}

// paint 返回按设置着色的渲染函数；禁用时原样输出
func (w *TextWriter) paint(attrs ...color.Attribute) func(a ...interface{}) string {
	c := color.New(attrs...)
	if w.showColor {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.SprintFunc()
}

// Write 按文件与函数分组写出诊断
func (w *TextWriter) Write(result *ScanResult) error {
	bold := w.paint(color.Bold)
	sevColor := w.paint(color.Bold, color.FgMagenta)
	if w.fatal {
		sevColor = w.paint(color.Bold, color.FgRed)
	}

	out := bufio.NewWriter(w.writer)
	severity := string(w.Severity())
	lastFile, lastFunction := "", ""
	started := false

	for _, f := range result.Findings {
		if !started || f.File != lastFile || f.Function != lastFunction {
			if f.Function != "" {
				fmt.Fprintf(out, "%s In function %s:\n", bold(f.File+":"), bold(w.quotes.Quote(f.Function)))
			} else if started && lastFunction != "" {
				fmt.Fprintf(out, "%s At top level:\n", bold(f.File+":"))
			}
			started = true
			lastFile, lastFunction = f.File, f.Function
		}

		fmt.Fprintf(out, "%s %s %s", bold(fmt.Sprintf("%s:%d:%d:", f.File, f.Line, f.Column)), sevColor(severity+":"), f.Message)
		if w.optionTag != "" {
			fmt.Fprintf(out, " [%s]", sevColor(w.optionTag))
		}
		out.WriteString("\n")
	}
	return out.Flush()
}

// WriteToFile 写入到文件
func (w *TextWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := NewTextWriter(file, w.options()...)
	return writer.Write(result)
}

// options 获取选项；写入文件时不着色
func (w *TextWriter) options() []TextOption {
	return []TextOption{
		WithFatal(w.fatal),
		WithOptionTag(w.optionTag),
		WithQuotes(w.quotes),
	}
}
