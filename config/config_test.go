package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[analysis]
only-funcs = ["fib", "Conn::.*"]
zam = true
report-uncompilable = true
usage-issues = true
dump-uds = true

[native]
standalone = true
output = "gen/compiled.go"
package = "bodies"

[profile]
enabled = true
database = "/var/tmp/zopt.db"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Analysis.OnlyFuncs) != 2 {
		t.Errorf("only-funcs count = %d, want 2", len(c.Analysis.OnlyFuncs))
	}
	if !c.Analysis.ZAM || !c.Analysis.ReportUncompilable {
		t.Errorf("analysis = %+v", c.Analysis)
	}

	o := c.Options()
	if !o.GenZAM || !o.GenStandaloneNative || !o.ProfileZAM || !o.UsageIssues || !o.DumpUDs {
		t.Errorf("options = %+v", o)
	}
	if want := filepath.Join(c.Dir, "gen", "compiled.go"); o.NativeOutput != want {
		t.Errorf("native output = %q, want %q", o.NativeOutput, want)
	}
	if o.ProfileDB != "/var/tmp/zopt.db" {
		t.Errorf("profile db = %q, want the absolute path unchanged", o.ProfileDB)
	}
	if o.NativePackage != "bodies" {
		t.Errorf("native package = %q, want bodies", o.NativePackage)
	}

	// ZAM and native generation together are rejected by the analyzer.
	if err := o.Validate(); err == nil {
		t.Error("Validate accepted zam with native generation")
	}
}

func TestParseUnknownKey(t *testing.T) {
	if _, err := Parse([]byte("[analysis]\nzam = true\ninliner = true\n")); err == nil {
		t.Error("Parse accepted an unknown key")
	}
	if _, err := Parse([]byte("[analysis\n")); err == nil {
		t.Error("Parse accepted malformed TOML")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[analysis]\ninline = true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "scripts", "base")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if !c.Options().Inliner {
		t.Error("inline = true did not enable the inliner")
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	// A scriptopt.toml above the temp dir would make this non-nil; none is
	// expected on a test machine.
	if c != nil && c.Dir == "" {
		t.Errorf("config without dir: %+v", c)
	}
}
