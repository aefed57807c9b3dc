package missionlog

import (
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

const schema = `
CREATE TABLE IF NOT EXISTS missions (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	status     TEXT,
	reason     TEXT
);
CREATE TABLE IF NOT EXISTS log_entries (
	mission_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	at         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	state      TEXT NOT NULL,
	detail     TEXT NOT NULL,
	PRIMARY KEY (mission_id, seq)
);
CREATE TABLE IF NOT EXISTS artifacts (
	mission_id   TEXT NOT NULL,
	path         TEXT NOT NULL,
	structure_id TEXT NOT NULL,
	stop         INTEGER NOT NULL,
	angle        TEXT NOT NULL,
	taken_at     TEXT NOT NULL
);
`

// Store is the SQLite-backed mission record. One file holds many runs.
type Store struct {
	*sql.DB
}

// Open opens (creating if absent) the mission database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open mission db %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create mission db schema")
	}
	return &Store{db}, nil
}

// BeginRun registers a new mission run and returns the recorder bound to it.
func (s *Store) BeginRun(missionID string, startedAt time.Time) (*Run, error) {
	_, err := s.Exec(
		`INSERT INTO missions (id, started_at) VALUES (?, ?)`,
		missionID, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "begin run %s", missionID)
	}
	return &Run{store: s, id: missionID}, nil
}

// RunSummary is one row of the mission history.
type RunSummary struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string
	Reason    string
	Entries   int
	Artifacts int
}

// Summaries lists all recorded runs, most recent first.
func (s *Store) Summaries() ([]RunSummary, error) {
	rows, err := s.Query(`
		SELECT m.id, m.started_at, COALESCE(m.ended_at, ''), COALESCE(m.status, ''), COALESCE(m.reason, ''),
		       (SELECT COUNT(*) FROM log_entries e WHERE e.mission_id = m.id),
		       (SELECT COUNT(*) FROM artifacts a WHERE a.mission_id = m.id)
		FROM missions m ORDER BY m.started_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var started, ended string
		if err := rows.Scan(&sum.ID, &started, &ended, &sum.Status, &sum.Reason, &sum.Entries, &sum.Artifacts); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, errors.Wrapf(err, "run %s started_at", sum.ID)
		}
		if ended != "" {
			if sum.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
				return nil, errors.Wrapf(err, "run %s ended_at", sum.ID)
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Run is the Recorder for one mission run inside a Store.
type Run struct {
	store *Store
	id    string

	mu  sync.Mutex
	seq int
}

// ID returns the mission run identifier.
func (r *Run) ID() string { return r.id }

// Append implements Recorder.
func (r *Run) Append(e mission.LogEntry) error {
	r.mu.Lock()
	r.seq++
	e.Seq = r.seq
	r.mu.Unlock()

	_, err := r.store.Exec(
		`INSERT INTO log_entries (mission_id, seq, at, kind, state, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id, e.Seq, e.Time.UTC().Format(time.RFC3339Nano), e.Kind, e.State, e.Detail,
	)
	return errors.Wrap(err, "append log entry")
}

// SaveArtifact implements Recorder.
func (r *Run) SaveArtifact(a mission.PhotoArtifact) error {
	_, err := r.store.Exec(
		`INSERT INTO artifacts (mission_id, path, structure_id, stop, angle, taken_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id, a.Path, a.StructureID, a.Stop, a.Angle, a.TakenAt.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "save artifact")
}

// Finish closes out the run with its outcome.
func (r *Run) Finish(o mission.Outcome) error {
	_, err := r.store.Exec(
		`UPDATE missions SET ended_at = ?, status = ?, reason = ? WHERE id = ?`,
		o.Ended.UTC().Format(time.RFC3339Nano), o.Status.String(), o.Reason, r.id,
	)
	return errors.Wrap(err, "finish run")
}

// Entries returns the run's record in sequence order.
func (r *Run) Entries() ([]mission.LogEntry, error) {
	rows, err := r.store.Query(
		`SELECT seq, at, kind, state, detail FROM log_entries WHERE mission_id = ? ORDER BY seq`, r.id)
	if err != nil {
		return nil, errors.Wrap(err, "query log entries")
	}
	defer rows.Close()

	var out []mission.LogEntry
	for rows.Next() {
		var e mission.LogEntry
		var at string
		if err := rows.Scan(&e.Seq, &at, &e.Kind, &e.State, &e.Detail); err != nil {
			return nil, errors.Wrap(err, "scan log entry")
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, errors.Wrapf(err, "entry %d time", e.Seq)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Artifacts returns the run's artifact index in insertion order.
func (r *Run) Artifacts() ([]mission.PhotoArtifact, error) {
	rows, err := r.store.Query(
		`SELECT path, structure_id, stop, angle, taken_at FROM artifacts WHERE mission_id = ? ORDER BY rowid`, r.id)
	if err != nil {
		return nil, errors.Wrap(err, "query artifacts")
	}
	defer rows.Close()

	var out []mission.PhotoArtifact
	for rows.Next() {
		var a mission.PhotoArtifact
		var taken string
		if err := rows.Scan(&a.Path, &a.StructureID, &a.Stop, &a.Angle, &taken); err != nil {
			return nil, errors.Wrap(err, "scan artifact")
		}
		if a.TakenAt, err = time.Parse(time.RFC3339Nano, taken); err != nil {
			return nil, errors.Wrapf(err, "artifact %s time", a.Path)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
