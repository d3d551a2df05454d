package hash

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reyesj2/zeek/script/parse"
)

func TestTagsUnique(t *testing.T) {
	seen := map[byte]bool{}
	for _, tag := range allTags {
		if seen[tag] {
			t.Errorf("duplicate tag 0x%02x", tag)
		}
		seen[tag] = true
	}
}

func hashOf(t *testing.T, file, src, fn string) Hash {
	t.Helper()
	f, err := parse.ParseFile(file, src)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	g := f.Func(fn)
	return HashBody(g, g.Bodies[0])
}

func TestIdenticalBodiesCollapse(t *testing.T) {
	a := hashOf(t, "a.zeek", `function f(n: count): count { local x = n * 2; return x + 1; }`, "f")
	b := hashOf(t, "b.zeek", `

global unrelated = 3;

function f(n: count): count
	{
	local x = n * 2;
	return x + 1;
	}
`, "f")
	if a != b {
		t.Errorf("identical bodies hash differently: %s vs %s", a, b)
	}
}

func TestHashSensitivity(t *testing.T) {
	base := hashOf(t, "a.zeek", `function f(n: count): count { return n + 1; }`, "f")
	variants := map[string]string{
		"constant":    `function f(n: count): count { return n + 2; }`,
		"operator":    `function f(n: count): count { return n * 1; }`,
		"param name":  `function f(m: count): count { return m + 1; }`,
		"signature":   `function f(n: count): int { return n + 1; }`,
		"extra print": `function f(n: count): count { print n; return n + 1; }`,
	}
	for name, src := range variants {
		if h := hashOf(t, "a.zeek", src, "f"); h == base {
			t.Errorf("%s change did not affect the hash", name)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	h := hashOf(t, "a.zeek", `function f() { print "x"; }`, "f")
	got, err := Parse(h.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != h {
		t.Errorf("Parse(String()) = %s, want %s", got, h)
	}
	if len(h.Short()) != 8 || !strings.HasPrefix(h.String(), h.Short()) {
		t.Errorf("Short() = %q", h.Short())
	}
	if _, err := Parse("abc"); !errors.Is(err, ErrBadHash) {
		t.Errorf("Parse(abc) err = %v", err)
	}
}

// TestGoldenFiles pins the serialization of a few bodies. If the golden
// files don't exist, they are created (first run).
func TestGoldenFiles(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"fib", `function fib(n: count): count { if ( n < 2 ) return n; return fib(n - 1) + fib(n - 2); }`},
		{"switch", `function s(x: string): count { switch x { case "a": return 1; default: return 0; } }`},
		{"loop", `function l(t: table[count] of string): string { local r = ""; for ( k, v in t ) r = r + v; return r; }`},
	}
	goldenDir := filepath.Join("testdata")
	if err := os.MkdirAll(goldenDir, 0o755); err != nil {
		t.Fatalf("create testdata dir: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := parse.ParseFile(tc.name+".zeek", tc.src)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			fn := f.Funcs[0]
			data := SerializeBody(fn, fn.Bodies[0])
			if data[0] != HashVersion {
				t.Fatalf("missing version prefix")
			}
			got := hex.EncodeToString(data) + "\n" + HashBody(fn, fn.Bodies[0]).String() + "\n"

			goldenPath := filepath.Join(goldenDir, tc.name+".golden")
			expected, err := os.ReadFile(goldenPath)
			if err != nil {
				if err := os.WriteFile(goldenPath, []byte(got), 0o644); err != nil {
					t.Fatalf("write golden file: %v", err)
				}
				t.Logf("created golden file %s", goldenPath)
				return
			}
			if string(expected) != got {
				t.Errorf("serialization drift for %s:\n got %s\nwant %s", tc.name, got, expected)
			}
		})
	}
}
