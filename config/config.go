// Package config handles scriptopt.toml analysis configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/reyesj2/zeek/scriptopt"
)

// FileName is the configuration file looked for by FindAndLoad.
const FileName = "scriptopt.toml"

// Config represents a scriptopt.toml file.
type Config struct {
	Analysis Analysis `toml:"analysis"`
	Native   Native   `toml:"native"`
	Profile  Profile  `toml:"profile"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Analysis selects which functions are analyzed and how they run.
type Analysis struct {
	OnlyFuncs          []string `toml:"only-funcs"`
	OnlyFiles          []string `toml:"only-files"`
	Activate           bool     `toml:"activate"`
	CompileAll         bool     `toml:"compile-all"`
	OptimizeAST        bool     `toml:"optimize-ast"`
	Inline             bool     `toml:"inline"`
	ReportRecursive    bool     `toml:"report-recursive"`
	ReportUncompilable bool     `toml:"report-uncompilable"`
	ZAM                bool     `toml:"zam"`
	ZAMCode            bool     `toml:"zam-code"`
	NoZAMOpt           bool     `toml:"no-zam-opt"`
	DumpXform          bool     `toml:"dump-xform"`
	DumpZAM            bool     `toml:"dump-zam"`
	UsageIssues        bool     `toml:"usage-issues"`
	DumpUDs            bool     `toml:"dump-uds"`
}

// Native configures generation and use of native bodies.
type Native struct {
	Generate   bool   `toml:"generate"`
	Standalone bool   `toml:"standalone"`
	Use        bool   `toml:"use"`
	Report     bool   `toml:"report"`
	AllowCond  bool   `toml:"allow-cond"`
	Output     string `toml:"output"`
	Package    string `toml:"package"`
}

// Profile configures ZAM execution profiling.
type Profile struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
}

// Load parses the scriptopt.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes configuration text. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown key %s", undec[0])
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a scriptopt.toml file.
// Returns nil if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Options converts the file into an analyzer options snapshot. Relative
// output and database paths are taken relative to the file.
func (c *Config) Options() scriptopt.Options {
	a, n, p := c.Analysis, c.Native, c.Profile
	return scriptopt.Options{
		OnlyFuncs:           a.OnlyFuncs,
		OnlyFiles:           a.OnlyFiles,
		ReportUncompilable:  a.ReportUncompilable,
		Activate:            a.Activate,
		CompileAll:          a.CompileAll,
		OptimizeAST:         a.OptimizeAST,
		Inliner:             a.Inline,
		ReportRecursive:     a.ReportRecursive,
		GenZAM:              a.ZAM,
		GenZAMCode:          a.ZAMCode,
		NoZAMOpt:            a.NoZAMOpt,
		DumpXform:           a.DumpXform,
		DumpZAM:             a.DumpZAM,
		UsageIssues:         a.UsageIssues,
		DumpUDs:             a.DumpUDs,
		ProfileZAM:          p.Enabled,
		ProfileDB:           c.path(p.Database),
		GenNative:           n.Generate,
		GenStandaloneNative: n.Standalone,
		UseNative:           n.Use,
		ReportNative:        n.Report,
		AllowCond:           n.AllowCond,
		NativeOutput:        c.path(n.Output),
		NativePackage:       n.Package,
	}
}

func (c *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
