package scriptopt

import (
	"errors"
	"fmt"
	"io"
	"regexp"
)

// Options is the configuration snapshot an Analyzer runs with. The zero
// value analyzes nothing and leaves every function interpreted.
type Options struct {
	// OnlyFuncs and OnlyFiles restrict analysis to functions whose name,
	// or whose declaring file, fully matches one of the patterns. With
	// both empty every function is analyzed.
	OnlyFuncs []string
	OnlyFiles []string

	// ReportUncompilable logs the bodies a backend had to skip.
	ReportUncompilable bool

	// Activate turns analysis on. Most other options imply it.
	Activate bool
	// CompileAll also compiles functions that were inlined everywhere.
	CompileAll bool
	// OptimizeAST folds constants and prunes constant branches.
	OptimizeAST bool
	// Inliner runs the call-graph analysis and inlines small callees.
	Inliner bool
	// ReportRecursive logs recursive functions and stops before any
	// compilation.
	ReportRecursive bool

	// GenZAM compiles bodies to ZAM with every optimization on.
	GenZAM bool
	// GenZAMCode compiles bodies to ZAM without implying other passes.
	GenZAMCode bool
	// NoZAMOpt gives every variable its own frame slot.
	NoZAMOpt bool
	// ProfileZAM records per-instruction execution statistics.
	ProfileZAM bool

	DumpXform bool
	DumpZAM   bool

	// UsageIssues logs locals that some path reads before assigning and
	// locals that are assigned but never read.
	UsageIssues bool
	// DumpUDs writes the use-def summary of every analyzed body to Out.
	DumpUDs bool

	// GenNative writes Go source for every compilable body to
	// NativeOutput. GenStandaloneNative additionally makes the output
	// install its bodies without the scripts being parsed.
	GenNative           bool
	GenStandaloneNative bool
	// UseNative replaces bodies with registered native bodies.
	UseNative bool
	// ReportNative logs which bodies have a native version available.
	ReportNative bool
	// AllowCond permits standalone generation of bodies containing
	// conditional code.
	AllowCond bool

	// NativeOutput is the file generated Go source is written to.
	NativeOutput string
	// NativePackage names the generated package.
	NativePackage string
	// ProfileDB, when set, is the SQLite database reports and ZAM
	// profiles are saved to on Finish.
	ProfileDB string

	// Out receives dumps and the profile report. Defaults to stdout.
	Out io.Writer

	funcPats []*regexp.Regexp
	filePats []*regexp.Regexp
}

// ErrOptions is returned by Validate for inconsistent option sets.
var ErrOptions = errors.New("scriptopt: invalid options")

// Validate normalizes implied options and compiles the name patterns.
func (o *Options) Validate() error {
	if o.GenZAM {
		o.GenZAMCode = true
		o.Inliner = true
		o.OptimizeAST = true
	}
	if o.ProfileZAM || o.DumpZAM {
		o.GenZAMCode = true
	}
	if o.ReportRecursive {
		o.Inliner = true
	}
	if o.GenStandaloneNative {
		o.GenNative = true
	}
	if o.GenZAMCode || o.Inliner || o.OptimizeAST || o.DumpXform || o.CompileAll ||
		o.UsageIssues || o.DumpUDs || len(o.OnlyFuncs) > 0 || len(o.OnlyFiles) > 0 {
		o.Activate = true
	}
	if o.GenNative || o.UseNative || o.ReportNative {
		o.Activate = true
	}

	if o.GenZAMCode && (o.GenNative || o.UseNative) {
		return fmt.Errorf("%w: ZAM and native compilation are mutually exclusive", ErrOptions)
	}
	if o.GenNative && o.UseNative {
		return fmt.Errorf("%w: cannot both generate and use native bodies", ErrOptions)
	}
	if o.GenNative && o.NativeOutput == "" {
		return fmt.Errorf("%w: native generation needs an output file", ErrOptions)
	}
	if o.NativePackage == "" {
		o.NativePackage = "compiled"
	}

	var err error
	if o.funcPats, err = compilePatterns(o.OnlyFuncs); err != nil {
		return err
	}
	if o.filePats, err = compilePatterns(o.OnlyFiles); err != nil {
		return err
	}
	return nil
}

func compilePatterns(pats []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range pats {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrOptions, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ShouldAnalyze reports whether a function passes the name and file
// filters. Validate must have been called.
func (o *Options) ShouldAnalyze(name, file string) bool {
	if len(o.funcPats) == 0 && len(o.filePats) == 0 {
		return true
	}
	for _, re := range o.funcPats {
		if re.MatchString(name) {
			return true
		}
	}
	for _, re := range o.filePats {
		if re.MatchString(file) {
			return true
		}
	}
	return false
}

// compiling reports whether some backend is requested.
func (o *Options) compiling() bool {
	return o.GenZAMCode || o.GenNative || o.UseNative
}
