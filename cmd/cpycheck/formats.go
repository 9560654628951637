package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cpycheck/internal/pyarg"
)

// newFormatsCmd 打印格式串编译后的槽位，便于核对期望的实参类型
func newFormatsCmd(stdout io.Writer) *cobra.Command {
	var ssizeT bool
	cmd := &cobra.Command{
		Use:   "formats <format-string>...",
		Short: "Show the argument types a PyArg_ParseTuple format string expects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, raw := range args {
				spec, err := pyarg.Compile(raw, pyarg.WithSsizeT(ssizeT))
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
					failed = true
					continue
				}
				writeFormat(stdout, spec)
			}
			if failed {
				return &exitError{code: 1, err: fmt.Errorf("invalid format strings")}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ssizeT, "ssize-t-clean", false, "use Py_ssize_t for '#' lengths")
	return cmd
}

// writeFormat 每个槽位一行：序号、格式码、期望类型
func writeFormat(out io.Writer, spec pyarg.FormatSpec) {
	fmt.Fprintf(out, "%q", spec.Raw)
	if spec.Name != "" {
		fmt.Fprintf(out, " (%s)", spec.Name)
	}
	fmt.Fprintf(out, ": %d codes, %d required arguments\n", spec.Len(), spec.Required())

	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	slot := 0
	for _, code := range spec.Codes {
		for _, t := range code.Types {
			slot++
			optional := ""
			if slot > spec.Required() {
				optional = "optional"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", slot, code.Unit, t, optional)
		}
	}
	tw.Flush()
}
