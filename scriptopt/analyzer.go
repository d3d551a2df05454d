// Package scriptopt decides, once per run, how every script function
// body executes: interpreted, compiled to ZAM, or replaced by a native
// body. It also hosts the AST passes that run before compilation.
package scriptopt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/reyesj2/zeek/native"
	"github.com/reyesj2/zeek/native/gen"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/reyesj2/zeek/store"
	"github.com/reyesj2/zeek/zam"
)

// ErrAnalyzed is returned when AnalyzeScripts runs a second time.
var ErrAnalyzed = errors.New("scriptopt: scripts already analyzed")

// Analyzer runs the analysis pass.
type Analyzer struct {
	opts     Options
	reg      *native.Registry
	profiler *zam.Profiler

	infos    []*FuncInfo
	rec      *recursion
	report   *Report
	analyzed bool
	finished bool
}

// NewAnalyzer validates opts. reg may be nil when no native option is
// set.
func NewAnalyzer(opts Options, reg *native.Registry) (*Analyzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		if opts.UseNative || opts.ReportNative {
			return nil, fmt.Errorf("%w: native bodies need a registry", ErrOptions)
		}
		reg = native.NewRegistry()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	a := &Analyzer{opts: opts, reg: reg}
	if opts.ProfileZAM {
		a.profiler = zam.NewProfiler()
	}
	return a, nil
}

// Options returns the normalized options.
func (a *Analyzer) Options() Options { return a.opts }

// Profiler returns the ZAM profiler, or nil without ProfileZAM.
func (a *Analyzer) Profiler() *zam.Profiler { return a.profiler }

// Funcs returns the bodies analyzed, in analysis order.
func (a *Analyzer) Funcs() []*FuncInfo { return a.infos }

// NonRecursive reports whether fn was proven never to be re-entered.
// Without the inliner's analysis every function is assumed recursive.
func (a *Analyzer) NonRecursive(fn *script.Func) bool {
	return a.rec != nil && a.rec.nonRecursive[fn]
}

// AnalyzeScripts runs the single analysis pass over funcs and the
// lambdas they create.
func (a *Analyzer) AnalyzeScripts(funcs []*script.Func) (*Report, error) {
	if a.analyzed {
		return nil, ErrAnalyzed
	}
	a.analyzed = true
	a.report = &Report{}

	if !a.opts.Activate {
		for _, fn := range funcs {
			for i := range fn.Bodies {
				fi := newFuncInfo(fn, i)
				a.record(fi)
			}
		}
		return a.report, nil
	}

	var filtered []*FuncInfo
	for _, fn := range a.collect(funcs) {
		for i := range fn.Bodies {
			fi := newFuncInfo(fn, i)
			if !a.opts.ShouldAnalyze(fn.Name, fn.File) {
				fi.State = StateFilteredOut
				filtered = append(filtered, fi)
				continue
			}
			fi.State = StateInterpreted
			if !fi.isCompiled() {
				fi.Hash = hash.HashBody(fn, fi.Body)
			}
			fi.Profile = ProfileFunc(fn, fi.Body)
			a.infos = append(a.infos, fi)
		}
	}

	if a.opts.UseNative || a.opts.ReportNative {
		a.useNative()
	}
	if a.opts.UsageIssues || a.opts.DumpUDs {
		if err := a.checkUsage(); err != nil {
			return nil, err
		}
	}

	var in *inliner
	if a.opts.Inliner {
		in = newInliner(a.infos)
		a.rec = in.rec
		if a.opts.ReportRecursive {
			a.reportRecursive()
			a.report.Stopped = true
			a.finish(filtered)
			return a.report, nil
		}
		in.run()
		a.markInlined(in)
	}

	if a.opts.OptimizeAST {
		for _, fi := range a.infos {
			if folded, pruned := Optimize(fi.Body); folded+pruned > 0 {
				log.Debugf("%s: folded %d expressions, pruned %d statements", fi.Name(), folded, pruned)
			}
		}
	}
	if a.opts.DumpXform {
		for _, fi := range a.infos {
			if err := Fprint(a.opts.Out, fi.Func, fi.Body); err != nil {
				return nil, err
			}
		}
	}

	switch {
	case a.opts.GenZAMCode:
		if err := a.compileZAM(); err != nil {
			return nil, err
		}
	case a.opts.GenNative:
		if err := a.generateNative(); err != nil {
			return nil, err
		}
	}

	a.finish(filtered)
	return a.report, nil
}

// collect appends the lambdas created by funcs, transitively.
func (a *Analyzer) collect(funcs []*script.Func) []*script.Func {
	seen := map[*script.Func]bool{}
	var out []*script.Func
	var add func(fn *script.Func)
	add = func(fn *script.Func) {
		if seen[fn] {
			return
		}
		seen[fn] = true
		out = append(out, fn)
		for _, b := range fn.Bodies {
			script.Walk(b.Stmt, func(n script.Node) bool {
				if l, ok := n.(*script.LambdaExpr); ok {
					add(l.Func)
				}
				return true
			})
		}
	}
	for _, fn := range funcs {
		add(fn)
	}
	return out
}

// useNative swaps in registered native bodies, then activates the
// registry so standalone bodies install before any script runs.
func (a *Analyzer) useNative() {
	a.reg.RunInitHook()
	for _, fi := range a.infos {
		cs, ok := a.reg.Lookup(fi.Hash)
		if a.opts.ReportNative {
			if ok {
				log.Noticef("%s (%s): native body %s available", fi.Name(), fi.Hash.Short(), cs.Name)
			} else {
				log.Noticef("%s (%s): no native body", fi.Name(), fi.Hash.Short())
			}
		}
		if !a.opts.UseNative {
			continue
		}
		if a.reg.AssociateHash(fi.Func, fi.Body, fi.Hash) {
			fi.State = StateCompiledNative
			if fi.Func.IsLambda {
				a.reg.RegisterFunc(fi.Hash, fi.Func)
			}
		}
	}
	if a.opts.UseNative {
		a.reg.Activate()
	}
}

func (a *Analyzer) reportRecursive() {
	for _, fn := range a.rec.direct {
		log.Noticef("%s is directly recursive", fn.Name)
		a.report.Recursive = append(a.report.Recursive, fn.Name)
	}
	for _, fn := range a.rec.indirect {
		log.Noticef("%s is indirectly recursive", fn.Name)
		a.report.Recursive = append(a.report.Recursive, fn.Name)
	}
}

// checkUsage runs the usage analysis on every body still in script form.
func (a *Analyzer) checkUsage() error {
	for _, fi := range a.infos {
		if fi.isCompiled() {
			continue
		}
		ud := AnalyzeUsage(fi.Func, fi.Body)
		if a.opts.UsageIssues {
			for _, is := range ud.Issues {
				log.Warningf("%s", is)
			}
			a.report.Usage = append(a.report.Usage, ud.Issues...)
		}
		if a.opts.DumpUDs {
			if err := ud.Write(a.opts.Out); err != nil {
				return fmt.Errorf("scriptopt: use-def dump: %w", err)
			}
		}
	}
	return nil
}

// markInlined keeps bodies inlined at every call site from being
// compiled as well.
func (a *Analyzer) markInlined(in *inliner) {
	if a.opts.CompileAll || !a.opts.compiling() {
		return
	}
	for _, fi := range a.infos {
		if in.inlined[fi.Func] > 0 && fi.State == StateInterpreted {
			fi.SetSkip("inlined")
		}
	}
}

func (a *Analyzer) compileZAM() error {
	for _, fi := range a.infos {
		if fi.Skip || fi.isCompiled() {
			continue
		}
		prog, err := zam.Compile(fi.Func, fi.Body, zam.Options{
			Name:           fi.Name(),
			NonRecursive:   a.NonRecursive(fi.Func),
			NoFrameSharing: a.opts.NoZAMOpt,
			Profiler:       a.profiler,
		})
		if err != nil {
			a.skip(fi, err)
			continue
		}
		fi.Program = prog
		fi.SetBody(prog)
		fi.State = StateCompiledZAM
		if a.opts.DumpZAM {
			if err := prog.Dump(a.opts.Out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Analyzer) skip(fi *FuncInfo, err error) {
	var se *zam.SkipError
	if errors.As(err, &se) {
		fi.SetSkip(se.Reason)
	} else {
		fi.SetSkip(err.Error())
	}
	fi.State = StateSkipped
	if a.opts.ReportUncompilable {
		log.Noticef("%s (%s) cannot be compiled: %s", fi.Name(), fi.Func.File, fi.Reason)
	}
}

// generateNative compiles every eligible body to ZAM and writes Go
// source for the results. The bodies keep running interpreted in this
// process.
func (a *Analyzer) generateNative() error {
	var entries []gen.Entry
	byName := map[string]*FuncInfo{}
	for _, fi := range a.infos {
		if fi.Skip || fi.isCompiled() {
			continue
		}
		if a.opts.GenStandaloneNative && fi.Profile.Conditional && !a.opts.AllowCond {
			a.skip(fi, errors.New("conditional code"))
			continue
		}
		prog, err := zam.Compile(fi.Func, fi.Body, zam.Options{Name: fi.Name()})
		if err != nil {
			a.skip(fi, err)
			continue
		}
		byName[prog.Name] = fi
		entries = append(entries, gen.Entry{Hash: fi.Hash, Body: fi.Body, Program: prog})
	}

	f, err := os.Create(a.opts.NativeOutput)
	if err != nil {
		return fmt.Errorf("scriptopt: %w", err)
	}
	res, err := gen.Render(f, entries, gen.Options{Package: a.opts.NativePackage, Standalone: a.opts.GenStandaloneNative})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("scriptopt: generating %s: %w", a.opts.NativeOutput, err)
	}
	for _, s := range res.Skipped {
		if fi := byName[s.Name]; fi != nil {
			a.skip(fi, errors.New(s.Reason))
		}
	}
	for _, e := range entries {
		if fi := byName[e.Program.Name]; fi != nil && fi.State != StateSkipped {
			a.report.Generated = append(a.report.Generated, fi.Name())
		}
	}
	log.Infof("wrote %d native bodies to %s", len(res.Bodies), a.opts.NativeOutput)
	return nil
}

func (a *Analyzer) record(fi *FuncInfo) {
	a.report.Entries = append(a.report.Entries, Entry{
		Func:     fi.Func.Name,
		File:     fi.Func.File,
		Body:     fi.Index,
		Priority: fi.Priority,
		Hash:     fi.Hash,
		State:    fi.State,
		Reason:   fi.Reason,
	})
}

func (a *Analyzer) finish(filtered []*FuncInfo) {
	for _, fi := range a.infos {
		a.record(fi)
	}
	for _, fi := range filtered {
		a.record(fi)
	}
	a.report.sort()
	if a.opts.ReportUncompilable {
		for _, e := range a.report.Uncompilable() {
			log.Infof("uncompilable: %s (%s): %s", e.Func, e.File, e.Reason)
		}
	}
}

// Report returns the result of AnalyzeScripts, or nil before it ran.
func (a *Analyzer) Report() *Report { return a.report }

// Finish writes the ZAM profile, saves the run when ProfileDB is set and
// runs the registry's finalizers. Only the first call does anything.
func (a *Analyzer) Finish() error {
	if a.finished {
		return nil
	}
	a.finished = true
	defer a.reg.Finish()

	if a.profiler != nil {
		if err := a.profiler.Report(a.opts.Out); err != nil {
			return fmt.Errorf("scriptopt: profile report: %w", err)
		}
		if a.opts.DumpZAM {
			for _, p := range a.profiler.Profiles() {
				if err := p.ReportBody(a.opts.Out); err != nil {
					return fmt.Errorf("scriptopt: profile report: %w", err)
				}
			}
		}
	}
	if a.opts.ProfileDB != "" && a.report != nil {
		if err := a.save(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) save() error {
	st, err := store.Open(a.opts.ProfileDB)
	if err != nil {
		return fmt.Errorf("scriptopt: %w", err)
	}
	defer st.Close()

	run := &store.Run{Options: a.opts.summary()}
	for _, e := range a.report.Entries {
		h := ""
		if !e.Hash.IsZero() {
			h = e.Hash.String()
		}
		run.Funcs = append(run.Funcs, store.FuncRecord{
			Name: e.Func, File: e.File, Body: e.Body, Hash: h, State: e.State.String(), Reason: e.Reason,
		})
	}
	if a.profiler != nil {
		for _, p := range a.profiler.Profiles() {
			rec := store.ProfileRecord{Body: p.Name, Calls: p.Calls(), Time: p.Total()}
			for pc, in := range p.Insts {
				rec.Insts = append(rec.Insts, store.InstRecord{PC: pc, Op: in.Op.String(), Count: p.Count(pc), Time: p.Time(pc)})
			}
			run.Profile = append(run.Profile, rec)
		}
	}
	id, err := st.Save(run)
	if err != nil {
		return fmt.Errorf("scriptopt: %w", err)
	}
	a.report.RunID = id
	return nil
}

// summary lists the enabled boolean options.
func (o *Options) summary() string {
	var on []string
	add := func(set bool, name string) {
		if set {
			on = append(on, name)
		}
	}
	add(o.Activate, "activate")
	add(o.CompileAll, "compile_all")
	add(o.OptimizeAST, "optimize_ast")
	add(o.Inliner, "inliner")
	add(o.GenZAMCode, "gen_zam_code")
	add(o.NoZAMOpt, "no_zam_opt")
	add(o.ProfileZAM, "profile_zam")
	add(o.UsageIssues, "usage_issues")
	add(o.GenNative, "gen_native")
	add(o.GenStandaloneNative, "gen_standalone_native")
	add(o.UseNative, "use_native")
	add(o.AllowCond, "allow_cond")
	return strings.Join(on, ",")
}
