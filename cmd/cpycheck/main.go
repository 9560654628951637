// Command cpycheck checks CPython C extension modules for PyArg_ParseTuple
// format mismatches and reference-count errors, reporting them like GCC.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// exitError 携带进程退出码的错误
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// usageError 用法或配置错误，退出码为 2
func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

// errFatalFindings 存在 error 级别的诊断；诊断本身已经输出
var errFatalFindings = &exitError{code: 1}

// exitCode 错误对应的退出码
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}

// newRootCmd 创建根命令；诊断写入 stderr，JSON 与 SARIF 默认写入 stdout
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "cpycheck [flags] <file|dir>...",
		Short: "Static checker for CPython C extension modules",
		Long: `cpycheck verifies PyArg_ParseTuple-style format strings against their
arguments and tracks PyObject* reference ownership along every path,
reporting problems in GCC's diagnostic format.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog 要求 flag.Parse 之后才能写日志；标志值已由 cobra 设置
			_ = flag.CommandLine.Parse(nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (.toml or .yaml); default: .cpycheck.toml/.cpycheck.yaml in the working directory")
	flags.StringVar(&opts.format, "format", "text", "report format (text|json|sarif)")
	flags.StringVarP(&opts.output, "output", "o", "", "write the report to this file")
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "number of parallel analyses (default: number of CPUs)")
	flags.BoolVar(&opts.fatal, "fatal", true, "report findings as errors and exit with status 1")
	flags.BoolVar(&opts.noFatal, "no-fatal", false, "report findings as warnings and exit with status 0")
	flags.BoolVar(&opts.borrowedReturn, "borrowed-return", true, "report returning a borrowed reference without Py_INCREF()")
	flags.StringVar(&opts.dataModel, "data-model", "LP64", "integer data model (LP64|LLP64|ILP32)")
	flags.BoolVar(&opts.ssizeTClean, "ssize-t-clean", false, "assume PY_SSIZE_T_CLEAN: '#' lengths are Py_ssize_t")
	flags.StringVar(&opts.quotes, "quotes", "auto", "quotes around function names (ascii|unicode|auto)")
	flags.StringVar(&opts.columnUnit, "column-unit", "byte", "column numbering (byte|display)")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "exclude paths matching these ** glob patterns")
	flags.StringVar(&opts.color, "color", "auto", "colorize text diagnostics (auto|on|off)")
	flags.BoolVar(&opts.timings, "timings", false, "print timing information to stderr")

	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newFormatsCmd(stdout))
	return cmd
}

// useColor 解析 --color
func useColor(mode string, out io.Writer) (bool, error) {
	switch mode {
	case "on", "always":
		return true, nil
	case "off", "never":
		return false, nil
	case "auto", "":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		return isTerminal(out), nil
	}
	return false, fmt.Errorf("invalid --color value %q (want auto, on or off)", mode)
}

// isTerminal 输出是否为终端
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		if !errors.Is(err, errFatalFindings) {
			fmt.Fprintf(os.Stderr, "cpycheck: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}
