package scriptopt_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/parse"
	"github.com/reyesj2/zeek/scriptopt"
)

// suite is one testdata/*.yaml file: a script and calls into it.
type suite struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Source      string      `yaml:"source"`
	Tests       []suiteCase `yaml:"tests"`
}

type suiteCase struct {
	Name   string   `yaml:"name"`
	Call   string   `yaml:"call"`
	Args   []string `yaml:"args"`
	Result string   `yaml:"result"`
	Output *string  `yaml:"output"`
	Error  string   `yaml:"error"`
	Repeat int      `yaml:"repeat"`
}

var errorNames = map[string]error{
	"type_mismatch":    script.ErrTypeMismatch,
	"invalid_iterator": script.ErrInvalidIterator,
	"index":            script.ErrIndex,
	"divide_by_zero":   script.ErrDivideByZero,
	"call":             script.ErrCall,
	"call_depth":       script.ErrCallDepth,
	"conversion":       script.ErrConversion,
}

func loadSuites(t *testing.T) []suite {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no suites in testdata")
	}
	var suites []suite
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var s suite
		if err := yaml.Unmarshal(data, &s); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		suites = append(suites, s)
	}
	return suites
}

// parseArg reads "type:literal".
func parseArg(s string) (script.Value, error) {
	kind, lit, ok := strings.Cut(s, ":")
	if !ok {
		return script.Void, fmt.Errorf("argument %q lacks a type", s)
	}
	switch kind {
	case "bool":
		return script.MakeBool(lit == "T"), nil
	case "int":
		n, err := strconv.ParseInt(lit, 10, 64)
		return script.MakeInt(n), err
	case "count":
		n, err := strconv.ParseUint(lit, 10, 64)
		return script.MakeCount(n), err
	case "double":
		f, err := strconv.ParseFloat(lit, 64)
		return script.MakeDouble(f), err
	case "string":
		return script.MakeString(lit), nil
	}
	return script.Void, fmt.Errorf("unknown argument type %q", kind)
}

type outcome struct {
	val string
	out string
	msg string
	err error
}

func (o outcome) same(p outcome) bool {
	return o.val == p.val && o.out == p.out && o.msg == p.msg
}

func (o outcome) String() string {
	return fmt.Sprintf("value %s, output %q, error %q", o.val, o.out, o.msg)
}

type mode struct {
	name     string
	opts     scriptopt.Options
	compiles bool
}

var modes = []mode{
	{name: "interp"},
	{name: "activate", opts: scriptopt.Options{Activate: true}},
	{name: "optimize", opts: scriptopt.Options{OptimizeAST: true}},
	{name: "inline", opts: scriptopt.Options{Inliner: true, OptimizeAST: true}},
	{name: "zam", opts: scriptopt.Options{GenZAMCode: true}, compiles: true},
	{name: "zam-noopt", opts: scriptopt.Options{GenZAMCode: true, NoZAMOpt: true}, compiles: true},
	{name: "zam-full", opts: scriptopt.Options{GenZAM: true}, compiles: true},
	{name: "zam-all", opts: scriptopt.Options{GenZAM: true, CompileAll: true}, compiles: true},
	{name: "profile", opts: scriptopt.Options{GenZAM: true, ProfileZAM: true}, compiles: true},
}

func runSuite(t *testing.T, s suite, m mode) []outcome {
	t.Helper()
	mod := parse.NewModule()
	if _, err := mod.ParseFile(s.Name+".zeek", s.Source); err != nil {
		t.Fatalf("%s: %v", s.Name, err)
	}
	opts := m.opts
	opts.Out = io.Discard
	a, err := scriptopt.NewAnalyzer(opts, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	rep, err := a.AnalyzeScripts(mod.Funcs())
	if err != nil {
		t.Fatalf("AnalyzeScripts: %v", err)
	}
	if m.compiles && rep.Count(scriptopt.StateCompiledZAM) == 0 {
		t.Fatalf("%s/%s compiled nothing", s.Name, m.name)
	}

	env := script.NewEnv(nil)
	var outs []outcome
	for _, tc := range s.Tests {
		fn := mod.Func(tc.Call)
		if fn == nil {
			t.Fatalf("%s: no function %s", tc.Name, tc.Call)
		}
		args := make([]script.Value, len(tc.Args))
		for i, a := range tc.Args {
			v, err := parseArg(a)
			if err != nil {
				t.Fatalf("%s: %v", tc.Name, err)
			}
			args[i] = v
		}
		for n := max(tc.Repeat, 1); n > 0; n-- {
			var buf bytes.Buffer
			env.Out = &buf
			v, err := fn.Call(env, args)
			o := outcome{val: v.GoString(), out: buf.String(), err: err}
			var re *script.RuntimeError
			if errors.As(err, &re) {
				o.msg = re.Msg
			} else if err != nil {
				o.msg = err.Error()
			}
			outs = append(outs, o)
		}
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return outs
}

// checkExpected compares the interpreted outcomes with what the suite
// states.
func checkExpected(t *testing.T, s suite, outs []outcome) {
	t.Helper()
	i := 0
	for _, tc := range s.Tests {
		o := outs[i]
		if tc.Result != "" && o.val != tc.Result {
			t.Errorf("%s: result %s, want %s", tc.Name, o.val, tc.Result)
		}
		if tc.Output != nil && o.out != *tc.Output {
			t.Errorf("%s: output %q, want %q", tc.Name, o.out, *tc.Output)
		}
		if tc.Error != "" {
			want, ok := errorNames[tc.Error]
			if !ok {
				t.Fatalf("%s: unknown error name %s", tc.Name, tc.Error)
			}
			if !errors.Is(o.err, want) {
				t.Errorf("%s: error %v, want %v", tc.Name, o.err, want)
			}
		} else if o.err != nil {
			t.Errorf("%s: unexpected error %v", tc.Name, o.err)
		}
		i += max(tc.Repeat, 1)
	}
}

func TestSuites(t *testing.T) {
	for _, s := range loadSuites(t) {
		t.Run(s.Name, func(t *testing.T) {
			want := runSuite(t, s, modes[0])
			checkExpected(t, s, want)
			for _, m := range modes[1:] {
				t.Run(m.name, func(t *testing.T) {
					got := runSuite(t, s, m)
					if len(got) != len(want) {
						t.Fatalf("%d outcomes, want %d", len(got), len(want))
					}
					for i := range got {
						if !got[i].same(want[i]) {
							t.Errorf("call %d:\n%s: %s\ninterp: %s", i, m.name, got[i], want[i])
						}
					}
				})
			}
		})
	}
}
