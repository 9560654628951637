package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"cpycheck/internal/config"
	"cpycheck/internal/report"
)

// scanOptions 根命令的标志
type scanOptions struct {
	configPath     string
	format         string
	output         string
	jobs           int
	fatal          bool
	noFatal        bool
	borrowedReturn bool
	dataModel      string
	ssizeTClean    bool
	quotes         string
	columnUnit     string
	exclude        []string
	color          string
	timings        bool
}

// loadConfig 读取配置文件并用显式给出的标志覆盖
func loadConfig(cmd *cobra.Command, opts *scanOptions) (config.Config, error) {
	cfg := config.Default()
	path := opts.configPath
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
		glog.V(1).Infof("loaded configuration from %s", path)
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = opts.format
	}
	if flags.Changed("output") {
		cfg.Output = opts.output
	}
	if flags.Changed("jobs") {
		cfg.Jobs = opts.jobs
	}
	if flags.Changed("fatal") {
		cfg.TreatAsFatal = opts.fatal
	}
	if flags.Changed("no-fatal") && opts.noFatal {
		cfg.TreatAsFatal = false
	}
	if flags.Changed("borrowed-return") {
		cfg.BorrowedReturn = opts.borrowedReturn
	}
	if flags.Changed("data-model") {
		cfg.DataModel = opts.dataModel
	}
	if flags.Changed("ssize-t-clean") {
		cfg.SsizeTClean = opts.ssizeTClean
	}
	if flags.Changed("quotes") {
		cfg.Quotes = opts.quotes
	}
	if flags.Changed("column-unit") {
		cfg.ColumnUnit = opts.columnUnit
	}
	cfg.Exclude = append(cfg.Exclude, opts.exclude...)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runScan 根命令：扫描、输出报告、决定退出码
func runScan(cmd *cobra.Command, opts *scanOptions, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return usageError(err)
	}
	color, err := useColor(opts.color, stderr)
	if err != nil {
		return usageError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	scanner, err := NewScanner(cfg, opts.timings)
	if err != nil {
		return usageError(err)
	}
	files, err := scanner.CollectFiles(args)
	if err != nil {
		return usageError(err)
	}

	result, err := scanner.Scan(ctx, files)
	if err != nil {
		return err
	}

	format, _ := report.ParseFormat(cfg.Format)
	quotes, _ := report.ParseQuoteStyle(cfg.Quotes)
	manager := report.NewManager(
		report.WithFormat(format),
		report.WithOutputFile(cfg.Output),
		report.WithTextOptions(
			report.WithFatal(cfg.TreatAsFatal),
			report.WithOptionTag(cfg.OptionTag),
			report.WithQuotes(quotes),
			report.WithColor(color && cfg.Output == ""),
		),
		report.WithJSONOptions(report.WithJSONFatal(cfg.TreatAsFatal), report.WithJSONOptionTag(cfg.OptionTag)),
		report.WithSARIFOptions(report.WithSARIFFatal(cfg.TreatAsFatal)),
	)
	path, err := manager.Emit(result, stdout, stderr)
	if err != nil {
		return err
	}
	if path != "" {
		glog.Infof("report written to %s", path)
	}

	if opts.timings {
		printTimings(stderr, scanner, result)
	}

	if cfg.TreatAsFatal && len(result.Findings) > 0 {
		return errFatalFindings
	}
	return nil
}

// printTimings 输出各阶段耗时
func printTimings(out io.Writer, s *Scanner, result *report.ScanResult) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "phase\tcount\ttotal\tavg\tmax\n")
	for _, stat := range s.monitor.Summary() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", stat.Name, stat.Count,
			stat.Total.Round(time.Microsecond), stat.Avg().Round(time.Microsecond), stat.Max.Round(time.Microsecond))
	}
	stats := s.pool.GetStats()
	fmt.Fprintf(tw, "files\t%d\t%s\t\t\n", result.FilesScanned, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "jobs\t%d\t%s\t\t\n", stats.JobsCompleted, time.Duration(stats.TotalExecTimeNs).Round(time.Microsecond))
	tw.Flush()
}
