// zopt parses script files, runs the optimization pass over them and
// optionally calls an entry function.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/reyesj2/zeek/config"
	"github.com/reyesj2/zeek/native"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/parse"
	"github.com/reyesj2/zeek/scriptopt"
	"github.com/reyesj2/zeek/store"
)

type patterns []string

func (p *patterns) String() string     { return strings.Join(*p, ",") }
func (p *patterns) Set(s string) error { *p = append(*p, s); return nil }

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 = notices only)")
	configDir := flag.String("config", "", "Directory holding scriptopt.toml (default: search upward from the first script)")
	entry := flag.String("e", "", "Function to call after analysis")
	report := flag.Bool("report", false, "Print the per-body analysis report")
	hot := flag.Int("hot", 0, "List the N hottest bodies recorded in the profile database and exit")

	var onlyFuncs, onlyFiles patterns
	flag.Var(&onlyFuncs, "only-func", "Analyze only functions matching this pattern (repeatable)")
	flag.Var(&onlyFiles, "only-file", "Analyze only functions declared in files matching this pattern (repeatable)")

	// Boolean options; only flags given on the command line override the
	// configuration file.
	bools := map[string]*bool{}
	boolFlag := func(name, usage string) { bools[name] = flag.Bool(name, false, usage) }
	boolFlag("activate", "Analyze scripts without compiling them")
	boolFlag("zam", "Compile to ZAM with every optimization")
	boolFlag("zam-code", "Compile to ZAM without implying other passes")
	boolFlag("no-zam-opt", "Give every ZAM variable its own frame slot")
	boolFlag("inline", "Inline small non-recursive functions")
	boolFlag("optimize-ast", "Fold constants and prune constant branches")
	boolFlag("compile-all", "Compile functions even where they were inlined everywhere")
	boolFlag("report-recursive", "Report recursive functions and stop")
	boolFlag("report-uncompilable", "Report bodies that could not be compiled")
	boolFlag("profile", "Profile ZAM execution")
	boolFlag("dump-xform", "Print transformed function bodies")
	boolFlag("dump-zam", "Print ZAM programs")
	boolFlag("dump-uds", "Print the use-defs of each analyzed body")
	boolFlag("usage-issues", "Warn about locals read before being set or set but never read")
	boolFlag("standalone", "Generate standalone native bodies")
	boolFlag("use-native", "Replace bodies with registered native bodies")
	boolFlag("report-native", "Report which bodies have native versions")
	boolFlag("allow-cond", "Allow conditional code in standalone native bodies")
	genNative := flag.String("gen-native", "", "Write native Go bodies to this file")
	nativePkg := flag.String("native-package", "", "Package name for generated native bodies")
	profileDB := flag.String("profile-db", "", "SQLite database for reports and profiles")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zopt [options] files...\n\n")
		fmt.Fprintf(os.Stderr, "Parses script files, analyzes them and optionally runs an entry function.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  zopt -zam -e main main.zeek          # Compile to ZAM and run main\n")
		fmt.Fprintf(os.Stderr, "  zopt -report-recursive lib/*.zeek    # List recursive functions\n")
		fmt.Fprintf(os.Stderr, "  zopt -gen-native compiled/bodies.go -standalone lib/*.zeek\n")
		fmt.Fprintf(os.Stderr, "  zopt -profile-db runs.db -hot 10     # Hottest bodies across runs\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if *hot > 0 {
		if err := listHot(*profileDB, *hot); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts, err := loadOptions(*configDir, files[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	targets := map[string]*bool{
		"activate":            &opts.Activate,
		"zam":                 &opts.GenZAM,
		"zam-code":            &opts.GenZAMCode,
		"no-zam-opt":          &opts.NoZAMOpt,
		"inline":              &opts.Inliner,
		"optimize-ast":        &opts.OptimizeAST,
		"compile-all":         &opts.CompileAll,
		"report-recursive":    &opts.ReportRecursive,
		"report-uncompilable": &opts.ReportUncompilable,
		"profile":             &opts.ProfileZAM,
		"dump-xform":          &opts.DumpXform,
		"dump-zam":            &opts.DumpZAM,
		"dump-uds":            &opts.DumpUDs,
		"usage-issues":        &opts.UsageIssues,
		"standalone":          &opts.GenStandaloneNative,
		"use-native":          &opts.UseNative,
		"report-native":       &opts.ReportNative,
		"allow-cond":          &opts.AllowCond,
	}
	for name, dst := range targets {
		if set[name] {
			*dst = *bools[name]
		}
	}
	if set["only-func"] {
		opts.OnlyFuncs = onlyFuncs
	}
	if set["only-file"] {
		opts.OnlyFiles = onlyFiles
	}
	if set["gen-native"] {
		opts.GenNative = true
		opts.NativeOutput = *genNative
	}
	if set["native-package"] {
		opts.NativePackage = *nativePkg
	}
	if set["profile-db"] {
		opts.ProfileDB = *profileDB
	}

	mod := parse.NewModule()
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if _, err := mod.ParseFile(path, string(src)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	reg := native.NewRegistry()
	reg.Bind(mod)
	a, err := scriptopt.NewAnalyzer(opts, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	rep, err := a.AnalyzeScripts(mod.Funcs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *report || rep.Stopped {
		if err := rep.Write(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	code := 0
	if *entry != "" && !rep.Stopped {
		if err := run(mod, *entry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		}
	}
	if err := a.Finish(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	if rep.RunID != "" {
		fmt.Fprintf(os.Stderr, "saved run %s\n", rep.RunID)
	}
	os.Exit(code)
}

// loadOptions reads scriptopt.toml from dir, or searches upward from the
// directory of the first script.
func loadOptions(dir, first string) (scriptopt.Options, error) {
	var (
		c   *config.Config
		err error
	)
	if dir != "" {
		c, err = config.Load(dir)
	} else {
		c, err = config.FindAndLoad(filepath.Dir(first))
	}
	if err != nil || c == nil {
		return scriptopt.Options{}, err
	}
	return c.Options(), nil
}

func run(mod *parse.Module, name string) error {
	fn := mod.Func(name)
	if fn == nil {
		return fmt.Errorf("no function %s", name)
	}
	if len(fn.Type.Params) != 0 {
		return fmt.Errorf("%s takes %d arguments; entry functions take none", name, len(fn.Type.Params))
	}
	v, err := fn.Call(script.NewEnv(os.Stdout), nil)
	if err != nil {
		return err
	}
	if !v.IsVoid() {
		fmt.Println(v)
	}
	return nil
}

func listHot(path string, n int) error {
	if path == "" {
		return fmt.Errorf("-hot needs -profile-db")
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs()
	if err != nil {
		return err
	}
	bodies, err := st.HotBodies(n)
	if err != nil {
		return err
	}
	fmt.Printf("%d runs\n", len(runs))
	for _, b := range bodies {
		fmt.Printf("%-30s %10d calls %12s\n", b.Body, b.Calls, b.Time)
	}
	return nil
}
