package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang/glog"

	"cpycheck/internal/config"
	"cpycheck/internal/core"
	"cpycheck/internal/detectors"
	"cpycheck/internal/refcount"
	"cpycheck/internal/report"
)

// Scanner 把文件分发给检测器
type Scanner struct {
	cfg       config.Config
	opts      core.Options
	detectors []core.FunctionDetector
	collector *report.Collector
	pool      *core.WorkerPool
	monitor   *core.PerformanceMonitor
}

// NewScanner 按配置创建扫描器
func NewScanner(cfg config.Config, timings bool) (*Scanner, error) {
	facts, err := refcount.NewFacts(cfg.Facts())
	if err != nil {
		return nil, fmt.Errorf("invalid refcount facts: %w", err)
	}
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &Scanner{
		cfg:  cfg,
		opts: cfg.CoreOptions(),
		detectors: []core.FunctionDetector{
			detectors.NewArgParseDetector(),
			detectors.NewRefcountDetector(facts, cfg.RefcountOptions()),
		},
		collector: report.NewCollector(),
		pool:      core.NewWorkerPool(jobs),
		monitor:   core.NewPerformanceMonitor(timings),
	}, nil
}

// CollectFiles 展开命令行参数：目录递归查找 .c/.h 文件，跳过匹配排除模式的路径；
// 直接给出的文件不检查扩展名
func (s *Scanner) CollectFiles(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !s.cfg.Excluded(arg) {
				add(arg)
			}
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, relErr := filepath.Rel(arg, path)
			if path != arg && (s.cfg.Excluded(path) || relErr == nil && s.cfg.Excluded(rel)) {
				glog.V(1).Infof("excluded %s", path)
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && core.IsSourceFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", arg, err)
		}
	}
	return files, nil
}

func (s *Scanner) detectorNames() []string {
	names := make([]string, len(s.detectors))
	for i, d := range s.detectors {
		names[i] = d.Name()
	}
	return names
}

// Scan 解析文件并逐函数运行检测器；单个文件或函数的失败只记录日志
func (s *Scanner) Scan(ctx context.Context, files []string) (*report.ScanResult, error) {
	start := time.Now()
	glog.Infof("scanning %d files with %d jobs", len(files), s.cfg.Jobs)

	contexts := make([]*core.AnalysisContext, len(files))
	parseJobs := make([]core.Job, len(files))
	for i, file := range files {
		parseJobs[i] = core.JobFunc{Name: file, Fn: func(ctx context.Context) error {
			defer s.monitor.Time("parse")()
			parsed, err := core.ParseFile(ctx, file)
			if err != nil {
				return err
			}
			contexts[i] = core.NewAnalysisContext(parsed, s.opts)
			return nil
		}}
	}
	results, err := s.pool.Run(ctx, parseJobs)
	if err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	scanned := 0
	for _, r := range results {
		if r.Error != nil {
			glog.Warningf("skipping %s: %v", r.JobID, r.Error)
			continue
		}
		scanned++
	}

	var fnJobs []core.Job
	for _, actx := range contexts {
		if actx == nil {
			continue
		}
		for _, fn := range actx.Functions {
			fnJobs = append(fnJobs, s.functionJob(actx, fn))
		}
	}
	results, err = s.pool.Run(ctx, fnJobs)
	if err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			glog.Errorf("%s: %v", r.JobID, r.Error)
		}
	}

	return &report.ScanResult{
		Findings:      s.collector.Findings(),
		Duration:      time.Since(start),
		FilesScanned:  scanned,
		DetectorsUsed: s.detectorNames(),
	}, nil
}

// functionJob 在一个函数上运行全部检测器
func (s *Scanner) functionJob(actx *core.AnalysisContext, fn *core.Function) core.Job {
	return core.JobFunc{
		Name: fmt.Sprintf("%s: %s", actx.Unit.FilePath, fn.Name),
		Fn: func(ctx context.Context) error {
			for _, d := range s.detectors {
				if err := ctx.Err(); err != nil {
					return err
				}
				stopTimer := s.monitor.Time(d.Name())
				findings, err := d.CheckFunction(actx, fn)
				stopTimer()
				s.collector.Add(findings...)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}
