// Package config 加载 .cpycheck.toml 或 .cpycheck.yaml 配置文件。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v2"

	"cpycheck/internal/core"
	"cpycheck/internal/ctype"
	"cpycheck/internal/refcount"
	"cpycheck/internal/report"
)

// FileNames 按查找顺序排列的默认配置文件名
var FileNames = []string{".cpycheck.toml", ".cpycheck.yaml", ".cpycheck.yml"}

// Config 运行配置
type Config struct {
	TreatAsFatal   bool     `toml:"treat_as_fatal" yaml:"treat_as_fatal"`
	BorrowedReturn bool     `toml:"borrowed_return" yaml:"borrowed_return"`
	DataModel      string   `toml:"data_model" yaml:"data_model"`
	SsizeTClean    bool     `toml:"ssize_t_clean" yaml:"ssize_t_clean"`
	Quotes         string   `toml:"quotes" yaml:"quotes"`
	ColumnUnit     string   `toml:"column_unit" yaml:"column_unit"`
	OptionTag      string   `toml:"option_tag" yaml:"option_tag"`
	Jobs           int      `toml:"jobs" yaml:"jobs"`
	Exclude        []string `toml:"exclude" yaml:"exclude"`
	Format         string   `toml:"format" yaml:"format"`
	Output         string   `toml:"output" yaml:"output"`

	Refcount RefcountConfig `toml:"refcount" yaml:"refcount"`
}

// RefcountConfig 追加到内置事实表的函数
type RefcountConfig struct {
	NewReference      []string `toml:"new_reference" yaml:"new_reference"`
	BorrowedReference []string `toml:"borrowed_reference" yaml:"borrowed_reference"`
	// Steals 形如 "PyFoo_SetItem:2"
	Steals []string `toml:"steals" yaml:"steals"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		TreatAsFatal:   true,
		BorrowedReturn: true,
		DataModel:      ctype.LP64.Name,
		Quotes:         "auto",
		ColumnUnit:     "byte",
		OptionTag:      report.DefaultOptionTag,
		Jobs:           runtime.NumCPU(),
		Format:         string(report.FormatText),
	}
}

// Find 在 dir 中查找默认配置文件，找不到时返回空字符串
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load 读取配置文件；文件中未出现的键保留默认值
func Load(path string) (Config, error) {
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%s: unsupported config format %q", path, ext)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	var errs []error
	if _, err := ctype.ModelByName(c.DataModel); err != nil {
		errs = append(errs, fmt.Errorf("data_model: %w", err))
	}
	if _, ok := report.ParseQuoteStyle(c.Quotes); !ok {
		errs = append(errs, fmt.Errorf("quotes: unknown style %q (want ascii, unicode or auto)", c.Quotes))
	}
	if _, err := c.columnUnit(); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}
	if c.Jobs < 0 {
		errs = append(errs, fmt.Errorf("jobs: must not be negative, got %d", c.Jobs))
	}
	for _, pattern := range c.Exclude {
		// 模式与自身匹配时会完整解析，可以暴露语法错误
		if _, err := doublestar.Match(pattern, pattern); err != nil {
			errs = append(errs, fmt.Errorf("exclude: bad pattern %q: %w", pattern, err))
		}
	}
	if _, err := refcount.NewFacts(c.Facts()); err != nil {
		errs = append(errs, fmt.Errorf("refcount: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) columnUnit() (core.ColumnUnit, error) {
	switch strings.ToLower(c.ColumnUnit) {
	case "", "byte":
		return core.ColumnByte, nil
	case "display":
		return core.ColumnDisplay, nil
	}
	return core.ColumnByte, fmt.Errorf("column_unit: unknown unit %q (want byte or display)", c.ColumnUnit)
}

// CoreOptions 分析选项；调用前应已通过 Validate
func (c Config) CoreOptions() core.Options {
	model, err := ctype.ModelByName(c.DataModel)
	if err != nil {
		model = ctype.LP64
	}
	unit, _ := c.columnUnit()
	return core.Options{
		Model:       model,
		SsizeTClean: c.SsizeTClean,
		ColumnUnit:  unit,
	}
}

// Facts 配置中追加的事实
func (c Config) Facts() refcount.ExtraFacts {
	return refcount.ExtraFacts{
		NewReference:      c.Refcount.NewReference,
		BorrowedReference: c.Refcount.BorrowedReference,
		Steals:            c.Refcount.Steals,
	}
}

// RefcountOptions 所有权跟踪选项
func (c Config) RefcountOptions() refcount.Options {
	return refcount.Options{BorrowedReturn: c.BorrowedReturn}
}

// Excluded 路径是否匹配任一排除模式
func (c Config) Excluded(path string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range c.Exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
