// Package store saves analysis reports and ZAM execution profiles to a
// SQLite database so runs can be compared later.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("zeek.store")

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("store: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id      TEXT PRIMARY KEY,
	started INTEGER NOT NULL,
	options TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS funcs (
	run      TEXT NOT NULL REFERENCES runs(id),
	name     TEXT NOT NULL,
	file     TEXT NOT NULL,
	body     INTEGER NOT NULL,
	hash     TEXT NOT NULL,
	state    TEXT NOT NULL,
	reason   TEXT NOT NULL,
	PRIMARY KEY (run, name, body)
);
CREATE TABLE IF NOT EXISTS profiles (
	run    TEXT NOT NULL REFERENCES runs(id),
	body   TEXT NOT NULL,
	calls  INTEGER NOT NULL,
	nanos  INTEGER NOT NULL,
	PRIMARY KEY (run, body)
);
CREATE TABLE IF NOT EXISTS insts (
	run    TEXT NOT NULL REFERENCES runs(id),
	body   TEXT NOT NULL,
	pc     INTEGER NOT NULL,
	op     TEXT NOT NULL,
	count  INTEGER NOT NULL,
	nanos  INTEGER NOT NULL,
	PRIMARY KEY (run, body, pc)
);
`

// Run is one analysis pass.
type Run struct {
	ID      string
	Started time.Time
	// Options is a free-form summary of the options the run used.
	Options string
	Funcs   []FuncRecord
	Profile []ProfileRecord
}

// FuncRecord is the outcome for one body.
type FuncRecord struct {
	Name   string
	File   string
	Body   int
	Hash   string
	State  string
	Reason string
}

// ProfileRecord is the execution profile of one compiled body.
type ProfileRecord struct {
	Body  string
	Calls uint64
	Time  time.Duration
	Insts []InstRecord
}

// InstRecord is one instruction's share of a profile.
type InstRecord struct {
	PC    int
	Op    string
	Count uint64
	Time  time.Duration
}

// Store is a SQLite database of runs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.New().String() }

// Save writes run in one transaction. A run without an ID gets one, which
// is returned.
func (s *Store) Save(run *Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO runs (id, started, options) VALUES (?, ?, ?)",
		run.ID, run.Started.UnixNano(), run.Options); err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	for _, f := range run.Funcs {
		if _, err := tx.Exec("INSERT INTO funcs (run, name, file, body, hash, state, reason) VALUES (?, ?, ?, ?, ?, ?, ?)",
			run.ID, f.Name, f.File, f.Body, f.Hash, f.State, f.Reason); err != nil {
			return "", fmt.Errorf("saving %s: %w", f.Name, err)
		}
	}
	for _, p := range run.Profile {
		if _, err := tx.Exec("INSERT INTO profiles (run, body, calls, nanos) VALUES (?, ?, ?, ?)",
			run.ID, p.Body, int64(p.Calls), int64(p.Time)); err != nil {
			return "", fmt.Errorf("saving profile of %s: %w", p.Body, err)
		}
		for _, in := range p.Insts {
			if _, err := tx.Exec("INSERT INTO insts (run, body, pc, op, count, nanos) VALUES (?, ?, ?, ?, ?, ?)",
				run.ID, p.Body, in.PC, in.Op, int64(in.Count), int64(in.Time)); err != nil {
				return "", fmt.Errorf("saving profile of %s: %w", p.Body, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	log.Infof("saved run %s: %d bodies, %d profiles", run.ID, len(run.Funcs), len(run.Profile))
	return run.ID, nil
}

// Load reads a run back.
func (s *Store) Load(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{ID: id}
	var started int64
	err := s.db.QueryRow("SELECT started, options FROM runs WHERE id = ?", id).Scan(&started, &run.Options)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	run.Started = time.Unix(0, started)

	rows, err := s.db.Query("SELECT name, file, body, hash, state, reason FROM funcs WHERE run = ? ORDER BY name, body", id)
	if err != nil {
		return nil, fmt.Errorf("querying funcs: %w", err)
	}
	for rows.Next() {
		var f FuncRecord
		if err := rows.Scan(&f.Name, &f.File, &f.Body, &f.Hash, &f.State, &f.Reason); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning funcs: %w", err)
		}
		run.Funcs = append(run.Funcs, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying funcs: %w", err)
	}

	rows, err = s.db.Query("SELECT body, calls, nanos FROM profiles WHERE run = ? ORDER BY body", id)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	for rows.Next() {
		var (
			p            ProfileRecord
			calls, nanos int64
		)
		if err := rows.Scan(&p.Body, &calls, &nanos); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning profiles: %w", err)
		}
		p.Calls, p.Time = uint64(calls), time.Duration(nanos)
		run.Profile = append(run.Profile, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}

	for i := range run.Profile {
		insts, err := s.insts(id, run.Profile[i].Body)
		if err != nil {
			return nil, err
		}
		run.Profile[i].Insts = insts
	}
	return run, nil
}

func (s *Store) insts(run, body string) ([]InstRecord, error) {
	rows, err := s.db.Query("SELECT pc, op, count, nanos FROM insts WHERE run = ? AND body = ? ORDER BY pc", run, body)
	if err != nil {
		return nil, fmt.Errorf("querying instructions: %w", err)
	}
	defer rows.Close()
	var out []InstRecord
	for rows.Next() {
		var (
			in           InstRecord
			count, nanos int64
		)
		if err := rows.Scan(&in.PC, &in.Op, &count, &nanos); err != nil {
			return nil, fmt.Errorf("scanning instructions: %w", err)
		}
		in.Count, in.Time = uint64(count), time.Duration(nanos)
		out = append(out, in)
	}
	return out, rows.Err()
}

// Runs lists run IDs, newest first.
func (s *Store) Runs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id FROM runs ORDER BY started DESC, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning runs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HotBodies returns the bodies with the most total time across all runs.
func (s *Store) HotBodies(limit int) ([]ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT body, SUM(calls), SUM(nanos) FROM profiles
		GROUP BY body ORDER BY SUM(nanos) DESC, body LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()
	var out []ProfileRecord
	for rows.Next() {
		var (
			p            ProfileRecord
			calls, nanos int64
		)
		if err := rows.Scan(&p.Body, &calls, &nanos); err != nil {
			return nil, fmt.Errorf("scanning profiles: %w", err)
		}
		p.Calls, p.Time = uint64(calls), time.Duration(nanos)
		out = append(out, p)
	}
	return out, rows.Err()
}
