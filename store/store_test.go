package store_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/reyesj2/zeek/store"
)

func openTemp(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "db", "profiles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoad(t *testing.T) {
	s := openTemp(t)
	run := &store.Run{
		Started: time.Unix(1700000000, 0),
		Options: "gen_zam",
		Funcs: []store.FuncRecord{
			{Name: "fib", File: "fib.zeek", Hash: "ab", State: "compiled-zam"},
			{Name: "walk", File: "fib.zeek", Body: 1, Hash: "cd", State: "skipped", Reason: "lambda"},
		},
		Profile: []store.ProfileRecord{{
			Body:  "fib",
			Calls: 177,
			Time:  3 * time.Millisecond,
			Insts: []store.InstRecord{
				{PC: 0, Op: "lt-cc", Count: 177, Time: time.Microsecond},
				{PC: 1, Op: "return", Count: 89},
			},
		}},
	}
	id, err := s.Save(run)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" || id != run.ID {
		t.Fatalf("Save returned id %q, run has %q", id, run.ID)
	}

	got, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Started.Equal(run.Started) || got.Options != "gen_zam" {
		t.Errorf("run header = %v %q", got.Started, got.Options)
	}
	if len(got.Funcs) != 2 || got.Funcs[1].Reason != "lambda" || got.Funcs[1].Body != 1 {
		t.Errorf("funcs = %+v", got.Funcs)
	}
	if len(got.Profile) != 1 {
		t.Fatalf("profiles = %+v", got.Profile)
	}
	p := got.Profile[0]
	if p.Calls != 177 || p.Time != 3*time.Millisecond || len(p.Insts) != 2 {
		t.Errorf("profile = %+v", p)
	}
	if p.Insts[0].Op != "lt-cc" || p.Insts[0].Time != time.Microsecond || p.Insts[1].Count != 89 {
		t.Errorf("insts = %+v", p.Insts)
	}
}

func TestLoadMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Load("nope"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("Load(nope) = %v, want ErrRunNotFound", err)
	}
}

func TestRunsAndHotBodies(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1700000000, 0)
	for i, nanos := range []time.Duration{10, 30} {
		_, err := s.Save(&store.Run{
			Started: base.Add(time.Duration(i) * time.Hour),
			Profile: []store.ProfileRecord{
				{Body: "a", Calls: 1, Time: nanos},
				{Body: "b", Calls: 2, Time: 25},
			},
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	ids, err := s.Runs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("Runs = %v, %v", ids, err)
	}
	newest, err := s.Load(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !newest.Started.Equal(base.Add(time.Hour)) {
		t.Errorf("Runs not newest first: %v", newest.Started)
	}

	hot, err := s.HotBodies(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hot) != 1 || hot[0].Body != "b" || hot[0].Calls != 4 || hot[0].Time != 50 {
		t.Errorf("HotBodies = %+v", hot)
	}
}
